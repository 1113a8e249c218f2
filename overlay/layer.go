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

import "path/filepath"

// Layer is one directory tree participating in the stack. Idx
// 0 is the bottom; the highest Idx is the single writable top layer.
type Layer struct {
	Root string
	Idx  int
}

// HostPath concatenates the layer root with the given path segments.
func (l Layer) HostPath(segments []string) string {
	return filepath.Join(append([]string{l.Root}, segments...)...)
}
