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

import "strings"

// segments resolves rec's interned path back to plain strings.
func (e *Engine) segments(rec *InodeRecord) []string {
	return e.interner.LookupPath(rec.Path)
}

// hostPathAt returns the host path for rec's segments within layer l.
func (e *Engine) hostPathAt(rec *InodeRecord, l int) string {
	segs := e.segments(rec)
	if len(segs) == 0 {
		return e.layers[l].Root
	}
	return e.layers[l].Root + "/" + strings.Join(segs, "/")
}

// hostPath returns rec's host path in the layer it currently resolves in.
func (e *Engine) hostPath(rec *InodeRecord) string {
	return e.hostPathAt(rec, rec.LayerIdx())
}

// topPath returns the would-be host path for rec's segments in the top
// layer, regardless of where rec currently resolves.
func (e *Engine) topPath(rec *InodeRecord) string {
	return e.hostPathAt(rec, e.TopLayerIdx())
}

// childHostPathAt appends name to parent's segments within layer l,
// without interning (used for building host paths before the child has
// its own inode record).
func (e *Engine) childHostPathAt(parent *InodeRecord, name string, l int) string {
	segs := e.segments(parent)
	segs = append(append([]string{}, segs...), name)
	return e.layers[l].Root + "/" + strings.Join(segs, "/")
}

// childTopPath is childHostPathAt resolved against the top layer.
func (e *Engine) childTopPath(parent *InodeRecord, name string) string {
	return e.childHostPathAt(parent, name, e.TopLayerIdx())
}
