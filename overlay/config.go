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
	"time"

	"github.com/jacobsa/timeutil"
)

// Config carries the mount-time options. LowerRoots is
// ordered bottom to top; UpperRoot is the writable top layer.
type Config struct {
	// LowerRoots lists the read-only layer roots, bottom first.
	LowerRoots []string

	// UpperRoot is the writable top layer all mutations land in.
	UpperRoot string

	// EntryTimeout and AttrTimeout bound how long the kernel may cache
	// directory-entry and attribute lookups before re-validating them.
	EntryTimeout time.Duration
	AttrTimeout  time.Duration

	// Writeback enables the kernel's writeback cache policy for file
	// handles opened through this overlay.
	Writeback bool

	// Xattr enables proxying of extended attribute calls to the resolved
	// host path instead of answering ENOSYS.
	Xattr bool

	// ProcSelfFD optionally carries a raw descriptor for a
	// /proc/self/fd-equivalent directory, a sandboxing hint some hosts
	// honor. macOS has no such filesystem, so it is accepted and ignored.
	ProcSelfFD int

	// ExportFSID is a numeric tag for this filesystem among exports, and
	// ExportTable a channel for descriptors shared with sibling
	// subsystems. Both are kept in the Config as given; no code in this
	// package reads ExportFSID or sends anything on ExportTable.
	ExportFSID  uint32
	ExportTable chan<- uintptr

	// Clock is used for all timestamp bookkeeping (entry/attr expiry
	// computation), abstracted so tests can control the passage of time.
	Clock timeutil.Clock
}

// layerRoots returns Config's layers ordered bottom to top, the shape
// NewEngine expects.
func (c *Config) layerRoots() []string {
	return append(append([]string{}, c.LowerRoots...), c.UpperRoot)
}

// clock returns c.Clock, defaulting to the real wall clock.
func (c *Config) clock() timeutil.Clock {
	if c.Clock != nil {
		return c.Clock
	}
	return timeutil.RealClock()
}

// expiry computes the absolute deadline a cached entry or attribute value
// is valid until, given one of EntryTimeout/AttrTimeout.
func (c *Config) expiry(ttl time.Duration) time.Time {
	return c.clock().Now().Add(ttl)
}
