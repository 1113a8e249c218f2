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
	"sync/atomic"

	"github.com/jacobsa/syncutil"
)

// AltKey is the (host device, host inode) pair used to de-duplicate
// inode records.
type AltKey struct {
	Dev uint64
	Ino uint64
}

// RootInodeID is reserved for the merged root and is never forgotten.
const RootInodeID = 1

// InodeRecord is the in-memory representation of one filesystem entry
// visible through the overlay.
type InodeRecord struct {
	ID   uint64
	Alt  AltKey
	Path []Symbol

	// layerIdx is accessed under the table's lock; it changes on copy-up.
	layerIdx int

	// refcount is bumped/decremented without the table lock on the common
	// path; structural removal still requires it.
	refcount int64
}

// LayerIdx returns the layer this record currently resolves in.
func (r *InodeRecord) LayerIdx() int {
	return r.layerIdx
}

// Refcount returns the current outstanding reference count.
func (r *InodeRecord) Refcount() int64 {
	return atomic.LoadInt64(&r.refcount)
}

// InodeTable is the composite map keyed independently by id and by
// alt-key, protected by a single invariant-checked reader-writer lock.
type InodeTable struct {
	mu syncutil.InvariantMutex

	byID   map[uint64]*InodeRecord
	byAlt  map[AltKey]*InodeRecord
	nextID uint64
}

// NewInodeTable constructs a table with the root record already present.
func NewInodeTable(topLayerIdx int) *InodeTable {
	t := &InodeTable{
		byID:   make(map[uint64]*InodeRecord),
		byAlt:  make(map[AltKey]*InodeRecord),
		nextID: 2,
	}
	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)

	root := &InodeRecord{
		ID:       RootInodeID,
		Path:     nil,
		layerIdx: topLayerIdx,
		refcount: 1,
	}
	t.byID[RootInodeID] = root
	return t
}

func (t *InodeTable) checkInvariants() {
	if len(t.byID) < 1 {
		panic("inode table lost its root record")
	}
	if _, ok := t.byID[RootInodeID]; !ok {
		panic("inode table is missing the root record")
	}
	// Invariant 1: every alt-key maps to exactly one record, consistently
	// indexed from both sides.
	for alt, rec := range t.byAlt {
		if rec.Alt != alt {
			panic("alt-key index inconsistent with record")
		}
		if t.byID[rec.ID] != rec {
			panic("alt-keyed record missing from id index")
		}
	}
}

// AllocateID atomically returns the next free inode id. Ids are never
// reused within a process lifetime.
func (t *InodeTable) AllocateID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	return id
}

// GetByID returns the record for id, or BadFD if unknown.
func (t *InodeTable) GetByID(id uint64) (*InodeRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.byID[id]
	if !ok {
		return nil, newErr("GetByID", BadFD)
	}
	return rec, nil
}

// GetByAlt returns the record for alt, or nil if none exists.
func (t *InodeTable) GetByAlt(alt AltKey) *InodeRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byAlt[alt]
}

// Insert adds rec under both indices. The caller guarantees rec.ID is
// fresh and rec.Alt is not already present.
func (t *InodeTable) Insert(rec *InodeRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[rec.ID] = rec
	t.byAlt[rec.Alt] = rec
}

// Bump increments rec's refcount without taking the table's structural
// lock.
func (t *InodeTable) Bump(rec *InodeRecord, n int64) {
	atomic.AddInt64(&rec.refcount, n)
}

// Forget subtracts n from id's refcount; if it reaches zero, the record
// is removed from both indices. A no-op if id is the root or unknown.
func (t *InodeTable) Forget(id uint64, n int64) error {
	if id == RootInodeID {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.byID[id]
	if !ok {
		return nil
	}

	remaining := atomic.AddInt64(&rec.refcount, -n)
	if remaining <= 0 {
		delete(t.byID, id)
		delete(t.byAlt, rec.Alt)
	}
	return nil
}

// Rekey updates rec's alt-key and layer index in place after a copy-up,
// preserving the client-visible id.
func (t *InodeTable) Rekey(rec *InodeRecord, newAlt AltKey, newLayerIdx int, newPath []Symbol) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.byAlt, rec.Alt)
	rec.Alt = newAlt
	rec.layerIdx = newLayerIdx
	rec.Path = newPath
	t.byAlt[newAlt] = rec
}

// GetOrCreate returns the existing record for alt if present (bumping its
// refcount), otherwise allocates and inserts a new one.
func (t *InodeTable) GetOrCreate(alt AltKey, path []Symbol, layerIdx int) *InodeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.byAlt[alt]; ok {
		atomic.AddInt64(&rec.refcount, 1)
		return rec
	}

	id := t.nextID
	t.nextID++

	rec := &InodeRecord{
		ID:       id,
		Alt:      alt,
		Path:     path,
		layerIdx: layerIdx,
		refcount: 1,
	}
	t.byID[id] = rec
	t.byAlt[alt] = rec
	return rec
}
