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
	"sync"
)

// HandleRecord maps one opaque handle to an open host descriptor plus
// any per-handle state.
type HandleRecord struct {
	mu sync.Mutex

	ID    uint64
	Inode uint64
	File  *os.File

	// IsDir is true for directory handles.
	IsDir bool

	// dirents is populated on the first ReadDir call against this handle
	// and consumed incrementally, so that the merged-view listing is
	// computed once per opendir/readdir session rather than once per
	// kernel-sized chunk.
	dirents    []Dirent
	direntsSet bool
}

// Lock serializes positional state updates (e.g. directory cursor) on
// concurrent use of the same handle.
func (h *HandleRecord) Lock()   { h.mu.Lock() }
func (h *HandleRecord) Unlock() { h.mu.Unlock() }

// HandleTable maps handle ids to HandleRecords. IDs allocate from a
// monotonically increasing counter starting at 1.
type HandleTable struct {
	mu     sync.RWMutex
	byID   map[uint64]*HandleRecord
	nextID uint64
}

// NewHandleTable returns an empty handle table.
func NewHandleTable() *HandleTable {
	return &HandleTable{
		byID:   make(map[uint64]*HandleRecord),
		nextID: 1,
	}
}

// Open mints a new handle wrapping f and stores it.
func (t *HandleTable) Open(inode uint64, f *os.File, isDir bool) *HandleRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := &HandleRecord{
		ID:    t.nextID,
		Inode: inode,
		File:  f,
		IsDir: isDir,
	}
	t.byID[rec.ID] = rec
	t.nextID++
	return rec
}

// Get returns the handle record for id, or BadFD if unknown.
func (t *HandleTable) Get(id uint64) (*HandleRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.byID[id]
	if !ok {
		return nil, newErr("HandleTable.Get", BadFD)
	}
	return rec, nil
}

// Release closes the descriptor backing id and removes the entry.
func (t *HandleTable) Release(id uint64) error {
	t.mu.Lock()
	rec, ok := t.byID[id]
	if ok {
		delete(t.byID, id)
	}
	t.mu.Unlock()

	if !ok {
		return newErr("HandleTable.Release", BadFD)
	}
	return wrapHostErr("close", rec.File.Close())
}

// CloseAll closes every outstanding handle. Called from Filesystem.Destroy.
func (t *HandleTable) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, rec := range t.byID {
		rec.File.Close()
		delete(t.byID, id)
	}
}
