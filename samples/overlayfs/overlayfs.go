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

// Package overlayfs wires overlay.Filesystem up as a mountable
// fuse.FileSystem, the way roloopbackfs wires a read-only loopback.
package overlayfs

import (
	"log"

	"github.com/ocifuse/overlayfs"
	"github.com/ocifuse/overlayfs/overlay"
)

// NewOverlayServer builds a mountable fuse.Server backed by an OCI-style
// layered directory tree: lowerRoots from bottom to top, with upperRoot as
// the single writable top layer.
func NewOverlayServer(lowerRoots []string, upperRoot string, errorLogger *log.Logger) (fuse.Server, error) {
	cfg := overlay.Config{
		LowerRoots: lowerRoots,
		UpperRoot:  upperRoot,
		Xattr:      true,
	}

	fs, err := overlay.New(cfg)
	if err != nil {
		return nil, err
	}

	return fuse.NewServer(fs), nil
}
