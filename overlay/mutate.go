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
	"os"

	"github.com/ocifuse/overlayfs"
)

// ensureTopAncestors copies parent (and every missing ancestor directory)
// up into the top layer so an entry under it can be created, removed or
// whited out there. The copy-up rekeys parent's own inode record to the
// top layer, keeping its id (used by mkdir/create/symlink/link, deletion
// and rename before touching the entry).
func (e *Engine) ensureTopAncestors(parent *InodeRecord) error {
	if parent.LayerIdx() == e.TopLayerIdx() {
		return nil
	}
	return e.CopyUp(parent)
}

// MkDir creates a directory as a child of parent. Fails with
// AlreadyExists if name resolves to any visible entry in the merged
// view. If a whiteout masks the target, it is removed as part of the
// create.
func (e *Engine) MkDir(parent *InodeRecord, name string, mode os.FileMode) (*lookupResult, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	if _, err := e.resolveMerged(parent, name); err == nil {
		return nil, newErr("MkDir", AlreadyExists)
	} else if !isErrKind(err, NotFound) {
		return nil, err
	}

	if err := e.ensureTopAncestors(parent); err != nil {
		return nil, err
	}

	topDir := e.topPath(parent)
	target := topDir + "/" + name

	if err := removeWhiteout(topDir, name); err != nil {
		return nil, err
	}
	if err := ensureDir(target, mode); err != nil {
		return nil, err
	}

	return e.materializeNewChild(parent, name, target)
}

// CreateFile creates and opens a regular file as a child of parent.
func (e *Engine) CreateFile(parent *InodeRecord, name string, mode os.FileMode) (*lookupResult, *os.File, error) {
	if err := validateName(name); err != nil {
		return nil, nil, err
	}

	if _, err := e.resolveMerged(parent, name); err == nil {
		return nil, nil, newErr("CreateFile", AlreadyExists)
	} else if !isErrKind(err, NotFound) {
		return nil, nil, err
	}

	if err := e.ensureTopAncestors(parent); err != nil {
		return nil, nil, err
	}

	topDir := e.topPath(parent)
	target := topDir + "/" + name

	if err := removeWhiteout(topDir, name); err != nil {
		return nil, nil, err
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_RDWR, mode)
	if err != nil {
		return nil, nil, wrapHostErr("create", err)
	}

	res, err := e.materializeNewChild(parent, name, target)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return res, f, nil
}

// CreateSymlink creates a symlink as a child of parent pointing at target.
func (e *Engine) CreateSymlink(parent *InodeRecord, name, target string) (*lookupResult, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	if _, err := e.resolveMerged(parent, name); err == nil {
		return nil, newErr("CreateSymlink", AlreadyExists)
	} else if !isErrKind(err, NotFound) {
		return nil, err
	}

	if err := e.ensureTopAncestors(parent); err != nil {
		return nil, err
	}

	topDir := e.topPath(parent)
	dst := topDir + "/" + name

	if err := removeWhiteout(topDir, name); err != nil {
		return nil, err
	}
	if err := os.Symlink(target, dst); err != nil {
		return nil, wrapHostErr("symlink", err)
	}

	return e.materializeNewChild(parent, name, dst)
}

// CreateLink creates a hard link named name under parent pointing at the
// (possibly lower-layer) file behind targetRec. This copies targetRec up
// first if needed and links to the resulting top-layer copy; it does not
// attempt cross-layer hard links, so the link count the client observes
// covers only top-layer links made from this point on.
func (e *Engine) CreateLink(parent *InodeRecord, name string, targetRec *InodeRecord) (*lookupResult, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	if _, err := e.resolveMerged(parent, name); err == nil {
		return nil, newErr("CreateLink", AlreadyExists)
	} else if !isErrKind(err, NotFound) {
		return nil, err
	}

	if err := e.CopyUp(targetRec); err != nil {
		return nil, err
	}
	if err := e.ensureTopAncestors(parent); err != nil {
		return nil, err
	}

	topDir := e.topPath(parent)
	dst := topDir + "/" + name
	src := e.hostPath(targetRec)

	if err := removeWhiteout(topDir, name); err != nil {
		return nil, err
	}
	if err := os.Link(src, dst); err != nil {
		return nil, wrapHostErr("link", err)
	}

	return e.materializeNewChild(parent, name, dst)
}

// removeTopDir rmdirs a top-layer directory whose merged view is empty.
// The host directory may still hold whiteout and opaque marker files,
// which are the overlay's own bookkeeping, not visible children; they are
// cleared before the rmdir. Anything else present surfaces as the host's
// ENOTEMPTY.
func removeTopDir(path string) error {
	ents, err := os.ReadDir(path)
	if err != nil {
		return wrapHostErr("readdir", err)
	}
	for _, ent := range ents {
		name := ent.Name()
		if _, ok := stripWhiteout(name); ok || name == OpaqueMarkerName {
			if err := os.Remove(path + "/" + name); err != nil {
				return wrapHostErr("rm-marker", err)
			}
		}
	}
	if err := os.Remove(path); err != nil {
		return wrapHostErr("rmdir", err)
	}
	return nil
}

// existsBelowTop reports whether any layer strictly below the top
// contains an entry for name under parent's path. Deletion and rename
// must leave a whiteout exactly when this holds, even if the merged view
// currently resolves the name in the top layer: removing the top copy
// alone would unmask the lower one.
func (e *Engine) existsBelowTop(parent *InodeRecord, name string) bool {
	for l := e.TopLayerIdx() - 1; l >= 0; l-- {
		if pathExists(e.childHostPathAt(parent, name, l)) {
			return true
		}
	}
	return false
}

// materializeNewChild stats the just-created target and allocates its
// inode record.
func (e *Engine) materializeNewChild(parent *InodeRecord, name string, target string) (*lookupResult, error) {
	sym, err := e.interner.Intern(name)
	if err != nil {
		return nil, err
	}
	path := append(append([]Symbol{}, parent.Path...), sym)

	alt, attr, err := hostStat(target)
	if err != nil {
		return nil, err
	}

	rec := e.inodes.GetOrCreate(alt, path, e.TopLayerIdx())
	return &lookupResult{Record: rec, Attr: attr}, nil
}

// Unlink removes a file from parent, masking any lower-layer copy with
// a whiteout.
func (e *Engine) Unlink(parent *InodeRecord, name string) error {
	return e.remove(parent, name, false)
}

// RmDir removes an empty directory from parent.
func (e *Engine) RmDir(parent *InodeRecord, name string) error {
	return e.remove(parent, name, true)
}

func (e *Engine) remove(parent *InodeRecord, name string, dir bool) error {
	if err := validateName(name); err != nil {
		return err
	}

	res, err := e.resolveMerged(parent, name)
	if err != nil {
		return err
	}

	if dir && !res.Attr.Mode.IsDir() {
		return newErr("RmDir", NotDirectory)
	}
	if !dir && res.Attr.Mode.IsDir() {
		return newErr("Unlink", IsDirectory)
	}

	// Emptiness is judged against the merged view, not any single layer:
	// a directory whose only children live in a lower layer is still
	// non-empty to the client.
	if dir {
		ents, err := e.readDirAt(append(e.segments(parent), name))
		if err != nil {
			return err
		}
		if len(ents) > 0 {
			return newErr("RmDir", NotEmpty)
		}
	}

	existedBelowTop := e.existsBelowTop(parent, name)

	if err := e.ensureTopAncestors(parent); err != nil {
		return err
	}
	topDir := e.topPath(parent)
	topTarget := topDir + "/" + name

	if pathExists(topTarget) {
		if dir {
			if err := removeTopDir(topTarget); err != nil {
				return err
			}
		} else if err := os.Remove(topTarget); err != nil {
			return wrapHostErr("remove", err)
		}
	}

	if existedBelowTop {
		if err := writeWhiteout(topDir, name); err != nil {
			return err
		}
	}

	// Drop the record's refcount to zero unconditionally; a record only
	// exists if some client lookup created one.
	if rec := e.inodes.GetByAlt(res.Alt); rec != nil {
		return e.inodes.Forget(rec.ID, rec.Refcount())
	}
	return nil
}

// Rename moves oldParent/oldName to newParent/newName. The source is
// copied up first so the host rename happens entirely within the top
// layer; a whiteout then masks the old name if a lower layer still
// holds it (or unconditionally under the WHITEOUT flag).
func (e *Engine) Rename(oldParent *InodeRecord, oldName string, newParent *InodeRecord, newName string, flags fuse.RenameFlags) error {
	if err := validateName(oldName); err != nil {
		return err
	}
	if err := validateName(newName); err != nil {
		return err
	}

	src, err := e.Lookup(oldParent, oldName)
	if err != nil {
		return err
	}

	// Release the reference the lookup above took; the client's own
	// counts are untouched, and a record nobody else holds goes away.
	defer e.inodes.Forget(src.Record.ID, 1)

	existedBelowTop := e.existsBelowTop(oldParent, oldName)

	if err := e.CopyUp(src.Record); err != nil {
		return err
	}
	if err := e.ensureTopAncestors(newParent); err != nil {
		return err
	}

	oldTopPath := e.hostPath(src.Record)
	newTopDir := e.topPath(newParent)
	newTopPath := newTopDir + "/" + newName

	// Destination pre-existing with a whiteout: remove it, the new entry
	// atomically replaces it.
	if hasWhiteout(newTopDir, newName) {
		if err := removeWhiteout(newTopDir, newName); err != nil {
			return err
		}
	}

	if err := renameWithFlags(oldTopPath, newTopPath, flags); err != nil {
		return err
	}

	newSym, err := e.interner.Intern(newName)
	if err != nil {
		return err
	}
	newPath := append(append([]Symbol{}, newParent.Path...), newSym)

	newAlt, _, err := hostStat(newTopPath)
	if err != nil {
		return err
	}
	e.inodes.Rekey(src.Record, newAlt, e.TopLayerIdx(), newPath)

	oldTopDir := e.topPath(oldParent)
	if existedBelowTop || flags&fuse.RenameWhiteout != 0 {
		if err := writeWhiteout(oldTopDir, oldName); err != nil {
			return err
		}
	}

	return nil
}
