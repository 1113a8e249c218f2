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

// Package overlay composes a stack of host directory trees into a single
// merged filesystem with OCI whiteout and opaque-directory semantics: a
// name interner, dual-keyed inode table, handle table, layered lookup,
// and a copy-up mutation engine, plus the adapter that serves them over
// the fuse.FileSystem contract.
package overlay

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/ocifuse/overlayfs"
)

// hostStat lstat(2)s path, returning its alt-key and raw attributes. It
// never follows a trailing symlink. The conversion from unix.Stat_t lives in
// hostfs_darwin.go/hostfs_linux.go because the struct's field set differs
// per platform.
func hostStat(path string) (AltKey, hostAttr, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return AltKey{}, hostAttr{}, wrapHostErr("lstat", err)
	}

	alt := AltKey{Dev: uint64(st.Dev), Ino: st.Ino}
	return alt, statToAttr(st), nil
}

// hostAttr is the subset of host stat(2) fields the overlay cares
// about, translated into fuse.InodeAttributes shape lazily by the
// filesystem adapter (kept separate from fuse.InodeAttributes here so
// this file has no dependency on inode ids).
type hostAttr struct {
	Size  uint64
	Nlink uint64
	Mode  os.FileMode
	Atime int64
	Mtime int64
	Ctime int64
	Uid   uint32
	Gid   uint32
}

func pathExists(path string) bool {
	_, err := unix.Lstat(path, &unix.Stat_t{})
	return err == nil
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || errors.Is(err, syscall.ENOENT)
}

// ensureDir creates path (and nothing above it) with the given mode if it
// does not already exist; a no-op if it's already a directory.
func ensureDir(path string, mode os.FileMode) error {
	err := unix.Mkdir(path, modeToUnix(mode))
	if err != nil && err != syscall.EEXIST {
		return wrapHostErr("mkdir", err)
	}
	return nil
}

func modeToUnix(mode os.FileMode) uint32 {
	return uint32(mode.Perm())
}

func unixModeToGo(mode uint32) os.FileMode {
	perm := os.FileMode(mode & 0o7777)
	switch mode & unix.S_IFMT {
	case unix.S_IFDIR:
		return perm | os.ModeDir
	case unix.S_IFLNK:
		return perm | os.ModeSymlink
	case unix.S_IFBLK:
		return perm | os.ModeDevice
	case unix.S_IFCHR:
		return perm | os.ModeDevice | os.ModeCharDevice
	case unix.S_IFIFO:
		return perm | os.ModeNamedPipe
	case unix.S_IFSOCK:
		return perm | os.ModeSocket
	default:
		return perm
	}
}

// copyOwnerAndTimes mirrors a source entry's owner and timestamps onto
// its top-layer copy, without following a trailing symlink.
func copyOwnerAndTimes(path string, attr hostAttr) error {
	err := unix.Fchownat(unix.AT_FDCWD, path, int(attr.Uid), int(attr.Gid), unix.AT_SYMLINK_NOFOLLOW)
	if err != nil {
		return wrapHostErr("lchown", err)
	}

	ts := []unix.Timespec{{Sec: attr.Atime}, {Sec: attr.Mtime}}
	err = unix.UtimesNanoAt(unix.AT_FDCWD, path, ts, unix.AT_SYMLINK_NOFOLLOW)
	if err != nil {
		return wrapHostErr("utimensat", err)
	}
	return nil
}

// writeWhiteout creates the zero-length whiteout marker for name inside
// dir.
func writeWhiteout(dir, name string) error {
	path := dir + string(os.PathSeparator) + whiteoutName(name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return wrapHostErr("whiteout", err)
	}
	return f.Close()
}

func removeWhiteout(dir, name string) error {
	path := dir + string(os.PathSeparator) + whiteoutName(name)
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return wrapHostErr("rm-whiteout", err)
	}
	return nil
}

func hasWhiteout(dir, name string) bool {
	path := dir + string(os.PathSeparator) + whiteoutName(name)
	return pathExists(path)
}

func hasOpaqueMarker(dir string) bool {
	path := dir + string(os.PathSeparator) + OpaqueMarkerName
	return pathExists(path)
}

func writeOpaqueMarker(dir string) error {
	path := dir + string(os.PathSeparator) + OpaqueMarkerName
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return wrapHostErr("opaque-marker", err)
	}
	return f.Close()
}

// renameWithFlags performs a host rename honoring the renameat2(2)-style
// flag bits the overlay engine understands. The WHITEOUT bit is the
// engine's concern, not the host's: the OCI whiteout is a plain .wh. file
// written by the caller, never the kernel's char-device whiteout, so it
// is stripped before the host call. The platform-specific half lives in
// hostfs_darwin.go/hostfs_linux.go.
func renameWithFlags(oldPath, newPath string, flags fuse.RenameFlags) error {
	hostFlags := flags &^ fuse.RenameWhiteout
	if hostFlags == 0 {
		return wrapHostErr("rename", os.Rename(oldPath, newPath))
	}
	return wrapHostErr("rename", hostRename(oldPath, newPath, hostFlags))
}

func lsetxattr(path, name string, value []byte, flags int) error {
	return wrapHostErr("lsetxattr", unix.Lsetxattr(path, name, value, flags))
}

func lgetxattr(path, name string, dest []byte) (int, error) {
	n, err := unix.Lgetxattr(path, name, dest)
	if err != nil {
		return 0, wrapHostErr("lgetxattr", err)
	}
	return n, nil
}

func llistxattr(path string, dest []byte) (int, error) {
	n, err := unix.Llistxattr(path, dest)
	if err != nil {
		return 0, wrapHostErr("llistxattr", err)
	}
	return n, nil
}

func lremovexattr(path, name string) error {
	return wrapHostErr("lremovexattr", unix.Lremovexattr(path, name))
}
