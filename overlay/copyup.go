// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package overlay

import (
	"io"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/detailyang/go-fallocate"
)

var copyUpTempCounter uint64

// CopyUp materializes rec (currently resolving at some layer < top) and
// every missing ancestor directory into the top layer, preserving rec's
// client-visible id. It is idempotent: if rec already resolves in the
// top layer, it returns nil immediately.
func (e *Engine) CopyUp(rec *InodeRecord) error {
	if rec.LayerIdx() == e.TopLayerIdx() {
		return nil
	}

	segs := e.segments(rec)

	// Step 1: ensure every ancestor directory exists in the top layer,
	// parents before children, copying mode from the source layer's entry
	// at the same prefix where available, else 0755.
	top := e.topLayer()
	dir := top.Root
	srcDir := e.layers[rec.LayerIdx()].Root
	for _, seg := range segs[:len(segs)-1] {
		srcDir = srcDir + "/" + seg
		dir = dir + "/" + seg

		mode := os.FileMode(0o755)
		if _, attr, err := hostStat(srcDir); err == nil {
			mode = attr.Mode.Perm()
		}
		if err := ensureDir(dir, mode); err != nil {
			return err
		}
	}

	// Step 2: materialize the leaf.
	srcPath := e.hostPath(rec)
	dstPath := e.topPath(rec)

	_, attr, err := hostStat(srcPath)
	if err != nil {
		return err
	}

	switch {
	case attr.Mode.IsDir():
		if err := ensureDir(dstPath, attr.Mode.Perm()); err != nil {
			return err
		}

	case attr.Mode&os.ModeSymlink != 0:
		target, err := os.Readlink(srcPath)
		if err != nil {
			return wrapHostErr("readlink", err)
		}
		if err := os.Symlink(target, dstPath); err != nil && !os.IsExist(err) {
			return wrapHostErr("symlink", err)
		}

	case attr.Mode.IsRegular():
		if err := copyUpRegularFile(srcPath, dstPath, attr); err != nil {
			return err
		}

	default:
		// Block/char/fifo/socket: best-effort mirror is not supported on
		// every host filesystem; fail the mutation rather than silently
		// drop the special file.
		return newErr("CopyUp", Io)
	}

	// The copy carries the source's mode already; owner and timestamps
	// come along too, so the first write-open doesn't silently reassign
	// the file to the caller or refresh its mtime.
	if err := copyOwnerAndTimes(dstPath, attr); err != nil {
		return err
	}

	// Step 3: update the inode record in place, preserving the id.
	newAlt, _, err := hostStat(dstPath)
	if err != nil {
		return err
	}
	e.inodes.Rekey(rec, newAlt, e.TopLayerIdx(), rec.Path)

	return nil
}

// copyUpRegularFile copies srcPath's bytes into dstPath using a
// create-in-temp-plus-rename sequence so a crash mid-copy never leaves a
// half-initialized file in the top layer. go-fallocate preallocates the
// destination extent so large copy-ups land contiguously on the host
// filesystem.
func copyUpRegularFile(srcPath, dstPath string, attr hostAttr) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return wrapHostErr("open-src", err)
	}
	defer src.Close()

	tmpPath := dstPath + ".overlay-tmp." + strconv.FormatUint(atomic.AddUint64(&copyUpTempCounter, 1), 10)
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, attr.Mode.Perm())
	if err != nil {
		return wrapHostErr("create-tmp", err)
	}

	cleanupOnErr := func(cause error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return cause
	}

	// Best effort; not every host filesystem supports preallocation, and
	// a plain copy works either way.
	if attr.Size > 0 {
		_ = fallocate.Fallocate(tmp, 0, int64(attr.Size))
	}

	if _, err := io.Copy(tmp, src); err != nil {
		return cleanupOnErr(wrapHostErr("copy", err))
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return wrapHostErr("close-tmp", err)
	}

	if err := os.Rename(tmpPath, dstPath); err != nil {
		os.Remove(tmpPath)
		return wrapHostErr("publish", err)
	}

	return nil
}
