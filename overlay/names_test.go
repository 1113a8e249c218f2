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
	"testing"

	. "github.com/jacobsa/ogletest"
)

func TestNames(t *testing.T) { RunTests(t) }

type NameValidationTest struct {
}

func init() { RegisterTestSuite(&NameValidationTest{}) }

func (t *NameValidationTest) AcceptsOrdinaryNames() {
	for _, name := range []string{"foo", "foo.txt", "a b", ".hidden", "日本語"} {
		ExpectEq(nil, validateName(name), "name: %q", name)
	}
}

func (t *NameValidationTest) RejectsEmptyAndDotNames() {
	for _, name := range []string{"", ".", ".."} {
		ExpectNe(nil, validateName(name), "name: %q", name)
	}
}

func (t *NameValidationTest) RejectsPathSeparators() {
	for _, name := range []string{"a/b", `a\b`, "/etc"} {
		ExpectNe(nil, validateName(name), "name: %q", name)
	}
}

func (t *NameValidationTest) RejectsEmbeddedNUL() {
	ExpectNe(nil, validateName("foo\x00bar"))
}

func (t *NameValidationTest) RejectsWhiteoutAndOpaqueMarkerNames() {
	ExpectNe(nil, validateName(".wh.foo"))
	ExpectNe(nil, validateName(OpaqueMarkerName))
}
