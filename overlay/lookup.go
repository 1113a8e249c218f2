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

// Engine ties the interner, inode table, and layer stack together to
// implement layered lookup and the copy-up/mutation operations. It holds
// no handle-table state; that's the filesystem adapter's concern.
type Engine struct {
	interner *Interner
	inodes   *InodeTable
	layers   []Layer // index 0 = bottom, len-1 = top
}

// NewEngine constructs an engine over the given layer roots, bottom to
// top. Construction fails if layers is empty.
func NewEngine(layerRoots []string) (*Engine, error) {
	if len(layerRoots) == 0 {
		return nil, newErr("NewEngine", InvalidName)
	}

	layers := make([]Layer, len(layerRoots))
	for i, root := range layerRoots {
		layers[i] = Layer{Root: root, Idx: i}
	}

	return &Engine{
		interner: NewInterner(),
		inodes:   NewInodeTable(len(layers) - 1),
		layers:   layers,
	}, nil
}

// TopLayerIdx returns N-1.
func (e *Engine) TopLayerIdx() int { return len(e.layers) - 1 }

func (e *Engine) topLayer() Layer { return e.layers[e.TopLayerIdx()] }

// TopLayerRoot returns the host path of the writable top layer's root,
// used for filesystem-wide operations like StatFS.
func (e *Engine) TopLayerRoot() string { return e.topLayer().Root }

// Inodes exposes the underlying inode table (used by the filesystem
// adapter for GetInodeAttributes/ForgetInode).
func (e *Engine) Inodes() *InodeTable { return e.inodes }

// Interner exposes the underlying name interner.
func (e *Engine) Interner() *Interner { return e.interner }

// lookupResult bundles a resolved inode record with the fresh stat
// information read at resolution time.
type lookupResult struct {
	Record *InodeRecord
	Attr   hostAttr
}

// resolved is the outcome of a merged-view walk before any inode-table
// bookkeeping: the owning layer, the entry's alt-key, and its fresh stat.
type resolved struct {
	Alt      AltKey
	Attr     hostAttr
	LayerIdx int
}

// resolveMerged walks the layers from the parent's own layer downward
// looking for name, honoring whiteout and opaque markers at every
// prefix. It reads only host state and never touches the inode table,
// so callers that merely probe for existence (the create family's
// AlreadyExists checks, deletion) do not disturb refcounts.
func (e *Engine) resolveMerged(parent *InodeRecord, name string) (*resolved, error) {
	segments := append(e.segments(parent), name)

	opaqueSeen := false
	for l := parent.LayerIdx(); l >= 0; l-- {
		layer := e.layers[l]

		// Walk every prefix within this layer, from the layer root down to
		// the parent directory, checking whiteout/opaque markers as we go.
		// The opaque check runs against each directory before descending
		// out of it, so a marker sitting in the layer root itself masks
		// lower layers too.
		dir := layer.Root
		if hasOpaqueMarker(dir) {
			opaqueSeen = true
		}
		for i := 0; i < len(segments)-1; i++ {
			seg := segments[i]
			if hasWhiteout(dir, seg) {
				// The ancestor itself is deleted at this layer: nothing
				// below it can be visible here or in lower layers.
				return nil, newErr("Lookup", NotFound)
			}
			dir = dir + "/" + seg
			if hasOpaqueMarker(dir) {
				opaqueSeen = true
			}
		}

		leaf := segments[len(segments)-1]
		if hasWhiteout(dir, leaf) {
			return nil, newErr("Lookup", NotFound)
		}

		target := dir + "/" + leaf
		alt, attr, err := hostStat(target)
		switch {
		case err == nil:
			return &resolved{Alt: alt, Attr: attr, LayerIdx: l}, nil

		case isErrKind(err, NotFound):
			if opaqueSeen {
				return nil, newErr("Lookup", NotFound)
			}
			continue // try the next layer down

		default:
			return nil, err
		}
	}

	return nil, newErr("Lookup", NotFound)
}

// Lookup resolves a child entry inside a known parent inode, bumping the
// refcount of the existing record for the resolved alt-key or creating a
// fresh one. name must already be validated by the caller via
// validateName.
func (e *Engine) Lookup(parent *InodeRecord, name string) (*lookupResult, error) {
	sym, err := e.interner.Intern(name)
	if err != nil {
		return nil, err
	}
	candidatePath := append(append([]Symbol{}, parent.Path...), sym)

	res, err := e.resolveMerged(parent, name)
	if err != nil {
		return nil, err
	}

	rec := e.inodes.GetOrCreate(res.Alt, candidatePath, res.LayerIdx)
	return &lookupResult{Record: rec, Attr: res.Attr}, nil
}

func isErrKind(err error, k Kind) bool {
	oe, ok := err.(*Error)
	return ok && oe.Kind == k
}
