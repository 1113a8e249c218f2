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

// WhiteoutPrefix names the file that marks a sibling deleted in a lower
// layer. OpaqueMarkerName marks a directory opaque to lower layers.
const (
	WhiteoutPrefix   = ".wh."
	OpaqueMarkerName = ".wh..wh..opq"
)

func whiteoutName(name string) string {
	return WhiteoutPrefix + name
}

// validateName rejects empty names, ".", "..", names carrying path
// separators or embedded NULs, and the reserved whiteout/opaque marker
// forms.
func validateName(name string) error {
	switch {
	case name == "":
		return newErr("validateName", InvalidName)
	case name == ".", name == "..":
		return newErr("validateName", InvalidName)
	case strings.ContainsAny(name, "/\\"):
		return newErr("validateName", InvalidName)
	case strings.IndexByte(name, 0) >= 0:
		return newErr("validateName", InvalidName)
	case strings.HasPrefix(name, WhiteoutPrefix):
		return newErr("validateName", InvalidName)
	case name == OpaqueMarkerName:
		return newErr("validateName", InvalidName)
	}
	return nil
}
