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
	"strings"
	"sync"
)

// Symbol is an opaque token standing for one interned path segment.
// Two symbols compare equal iff the underlying names are byte-equal.
type Symbol uint32

// Interner deduplicates path-segment strings into Symbols. Safe for
// concurrent use; writers are rare after warmup, so a single
// reader-writer lock suffices.
type Interner struct {
	mu      sync.RWMutex
	bySym   []string
	byBytes map[string]Symbol
}

// NewInterner returns an empty interner.
func NewInterner() *Interner {
	return &Interner{
		byBytes: make(map[string]Symbol),
	}
}

// Intern returns the symbol for name, inserting it if new. It fails with
// InvalidName if name contains an embedded NUL.
func (in *Interner) Intern(name string) (Symbol, error) {
	if strings.IndexByte(name, 0) >= 0 {
		return 0, newErr("intern", InvalidName)
	}

	in.mu.RLock()
	if sym, ok := in.byBytes[name]; ok {
		in.mu.RUnlock()
		return sym, nil
	}
	in.mu.RUnlock()

	in.mu.Lock()
	defer in.mu.Unlock()

	// Another writer may have beaten us to it between the unlock above and
	// taking the write lock.
	if sym, ok := in.byBytes[name]; ok {
		return sym, nil
	}

	sym := Symbol(len(in.bySym))
	in.bySym = append(in.bySym, name)
	in.byBytes[name] = sym
	return sym, nil
}

// Lookup returns the name for a symbol previously issued by Intern. It is
// infallible for any symbol this interner has ever returned.
func (in *Interner) Lookup(sym Symbol) string {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.bySym[sym]
}

// InternPath interns every segment of segments in order.
func (in *Interner) InternPath(segments []string) ([]Symbol, error) {
	path := make([]Symbol, len(segments))
	for i, s := range segments {
		sym, err := in.Intern(s)
		if err != nil {
			return nil, err
		}
		path[i] = sym
	}
	return path, nil
}

// LookupPath resolves every symbol in path back to its string form.
func (in *Interner) LookupPath(path []Symbol) []string {
	out := make([]string, len(path))
	for i, sym := range path {
		out[i] = in.Lookup(sym)
	}
	return out
}
