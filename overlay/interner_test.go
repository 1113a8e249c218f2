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
	"sync"
	"testing"

	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
)

func TestInterner(t *testing.T) { RunTests(t) }

type InternerTest struct {
	in *Interner
}

func init() { RegisterTestSuite(&InternerTest{}) }

func (t *InternerTest) SetUp(ti *TestInfo) {
	t.in = NewInterner()
}

func (t *InternerTest) SameNameYieldsSameSymbol() {
	a, err := t.in.Intern("foo")
	AssertEq(nil, err)

	b, err := t.in.Intern("foo")
	AssertEq(nil, err)

	ExpectEq(a, b)
}

func (t *InternerTest) DistinctNamesYieldDistinctSymbols() {
	a, err := t.in.Intern("foo")
	AssertEq(nil, err)

	b, err := t.in.Intern("bar")
	AssertEq(nil, err)

	ExpectNe(a, b)
}

func (t *InternerTest) LookupRoundTrips() {
	sym, err := t.in.Intern("some-name")
	AssertEq(nil, err)
	ExpectEq("some-name", t.in.Lookup(sym))
}

func (t *InternerTest) RejectsEmbeddedNUL() {
	_, err := t.in.Intern("foo\x00bar")
	ExpectNe(nil, err)
}

func (t *InternerTest) InternPathAndLookupPathRoundTrip() {
	path, err := t.in.InternPath([]string{"a", "b", "c"})
	AssertEq(nil, err)

	ExpectThat(t.in.LookupPath(path), ElementsAre("a", "b", "c"))
}

func (t *InternerTest) ConcurrentInternIsRaceFree() {
	var wg sync.WaitGroup
	names := []string{"x", "y", "z", "x", "y", "z", "w"}

	syms := make([]Symbol, len(names))
	errs := make([]error, len(names))
	for i, name := range names {
		i, name := i, name
		wg.Add(1)
		go func() {
			defer wg.Done()
			syms[i], errs[i] = t.in.Intern(name)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		AssertEq(nil, err, "i: %d", i)
	}

	ExpectEq(syms[0], syms[3])
	ExpectEq(syms[1], syms[4])
	ExpectEq(syms[2], syms[5])
}
