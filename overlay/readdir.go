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
	"sort"
	"syscall"
)

// Dirent is one entry of a merged-view directory listing. It is independent of the wire-level dirent encoding, which
// is the filesystem adapter's concern. Ino is the host inode number of
// the contributing layer's entry, the same number a subsequent lookup
// would read into the record's alt-key.
type Dirent struct {
	Name string
	Ino  uint64
	Mode os.FileMode
}

// ReadDir computes the merged-view directory listing for dir: every layer
// from the top down to layer 0 contributes names not already seen, a
// whiteout suppresses the same name from every layer below it, and an
// opaque marker on dir at some layer stops descent into lower layers for
// entries of that directory entirely: highest layer wins per name, with
// whiteout and opaque suppression applied per name.
//
// Descent always starts at the top layer, whichever layer dir currently
// resolves in, since a directory can exist at several layers
// simultaneously with each layer's contents contributing entries. A layer
// in which dir's path does not exist contributes nothing.
func (e *Engine) ReadDir(dir *InodeRecord) ([]Dirent, error) {
	return e.readDirAt(e.segments(dir))
}

// readDirAt is ReadDir against a layer-relative path that need not have
// an inode record yet (deletion probes the target's emptiness this way).
func (e *Engine) readDirAt(segs []string) ([]Dirent, error) {
	seen := make(map[string]struct{})
	whited := make(map[string]struct{})
	var out []Dirent
	opaque := false

	for l := e.TopLayerIdx(); l >= 0; l-- {
		if opaque {
			break
		}

		layerDir := e.layers[l].Root
		if len(segs) > 0 {
			layerDir = layerDir + "/" + joinSegs(segs)
		}

		entries, err := os.ReadDir(layerDir)
		if err != nil {
			if isNotExist(err) {
				continue
			}
			return nil, wrapHostErr("readdir", err)
		}

		if hasOpaqueMarker(layerDir) {
			opaque = true
		}

		for _, ent := range entries {
			name := ent.Name()

			if name == OpaqueMarkerName {
				continue
			}

			if target, ok := stripWhiteout(name); ok {
				whited[target] = struct{}{}
				continue
			}

			if _, dup := seen[name]; dup {
				continue
			}
			if _, w := whited[name]; w {
				continue
			}

			info, err := ent.Info()
			if err != nil {
				return nil, wrapHostErr("readdir-stat", err)
			}

			var ino uint64
			if st, ok := info.Sys().(*syscall.Stat_t); ok {
				ino = st.Ino
			}

			seen[name] = struct{}{}
			out = append(out, Dirent{Name: name, Ino: ino, Mode: info.Mode()})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func joinSegs(segs []string) string {
	out := segs[0]
	for _, s := range segs[1:] {
		out += "/" + s
	}
	return out
}

func stripWhiteout(name string) (string, bool) {
	if len(name) > len(WhiteoutPrefix) && name[:len(WhiteoutPrefix)] == WhiteoutPrefix {
		return name[len(WhiteoutPrefix):], true
	}
	return "", false
}
