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
	"testing"
	"time"

	"github.com/kylelemons/godebug/pretty"
	"github.com/ocifuse/overlayfs"

	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
)

func TestEngine(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type EngineTest struct {
	lowerDirs []string
	upperDir  string
	engine    *Engine
}

func init() { RegisterTestSuite(&EngineTest{}) }

func (t *EngineTest) SetUp(ti *TestInfo) {
	lower, err := os.MkdirTemp("", "overlay_lower")
	AssertEq(nil, err)

	upper, err := os.MkdirTemp("", "overlay_upper")
	AssertEq(nil, err)

	t.lowerDirs = []string{lower}
	t.upperDir = upper

	engine, err := NewEngine([]string{lower, upper})
	AssertEq(nil, err)
	t.engine = engine
}

func (t *EngineTest) TearDown() {
	for _, d := range t.lowerDirs {
		os.RemoveAll(d)
	}
	os.RemoveAll(t.upperDir)
}

func (t *EngineTest) lower() string { return t.lowerDirs[0] }

func (t *EngineTest) root() *InodeRecord {
	rec, err := t.engine.Inodes().GetByID(RootInodeID)
	AssertEq(nil, err)
	return rec
}

////////////////////////////////////////////////////////////////////////
// Lookup / layering
////////////////////////////////////////////////////////////////////////

func (t *EngineTest) LooksUpAFileThatOnlyExistsInTheLowerLayer() {
	AssertEq(nil, os.WriteFile(t.lower()+"/foo", []byte("lower"), 0644))

	res, err := t.engine.Lookup(t.root(), "foo")
	AssertEq(nil, err)
	ExpectEq(0, res.Record.LayerIdx())
	ExpectEq(uint64(5), res.Attr.Size)
}

func (t *EngineTest) UpperLayerEntryShadowsLowerLayerEntryOfTheSameName() {
	AssertEq(nil, os.WriteFile(t.lower()+"/foo", []byte("lower"), 0644))
	AssertEq(nil, os.WriteFile(t.upperDir+"/foo", []byte("upper contents"), 0644))

	res, err := t.engine.Lookup(t.root(), "foo")
	AssertEq(nil, err)
	ExpectEq(t.engine.TopLayerIdx(), res.Record.LayerIdx())
	ExpectEq(uint64(len("upper contents")), res.Attr.Size)
}

func (t *EngineTest) WhiteoutInUpperLayerHidesLowerLayerEntry() {
	AssertEq(nil, os.WriteFile(t.lower()+"/foo", []byte("lower"), 0644))
	AssertEq(nil, writeWhiteout(t.upperDir, "foo"))

	_, err := t.engine.Lookup(t.root(), "foo")
	AssertNe(nil, err)
	ExpectTrue(isErrKind(err, NotFound))
}

func (t *EngineTest) OpaqueMarkerHidesAnEntireLowerLayerDirectory() {
	AssertEq(nil, os.Mkdir(t.lower()+"/d", 0755))
	AssertEq(nil, os.WriteFile(t.lower()+"/d/secret", []byte("x"), 0644))

	AssertEq(nil, os.Mkdir(t.upperDir+"/d", 0755))
	AssertEq(nil, writeOpaqueMarker(t.upperDir+"/d"))

	dRes, err := t.engine.Lookup(t.root(), "d")
	AssertEq(nil, err)

	_, err = t.engine.Lookup(dRes.Record, "secret")
	AssertNe(nil, err)
	ExpectTrue(isErrKind(err, NotFound))
}

func (t *EngineTest) OpaqueMarkerInALayerRootMasksLowerLayerRootEntries() {
	AssertEq(nil, os.WriteFile(t.lower()+"/a", []byte("x"), 0644))
	AssertEq(nil, os.WriteFile(t.upperDir+"/b", []byte("x"), 0644))
	AssertEq(nil, writeOpaqueMarker(t.upperDir))

	_, err := t.engine.Lookup(t.root(), "a")
	AssertNe(nil, err)
	ExpectTrue(isErrKind(err, NotFound))

	// The opaque layer's own siblings stay visible.
	_, err = t.engine.Lookup(t.root(), "b")
	ExpectEq(nil, err)
}

func (t *EngineTest) LookupOfMissingNameFails() {
	_, err := t.engine.Lookup(t.root(), "nope")
	AssertNe(nil, err)
	ExpectTrue(isErrKind(err, NotFound))
}

func (t *EngineTest) RepeatedLookupsBumpRefcountOnTheSameRecord() {
	AssertEq(nil, os.WriteFile(t.lower()+"/foo", []byte("x"), 0644))

	a, err := t.engine.Lookup(t.root(), "foo")
	AssertEq(nil, err)

	b, err := t.engine.Lookup(t.root(), "foo")
	AssertEq(nil, err)

	ExpectEq(a.Record.ID, b.Record.ID)
	ExpectEq(int64(2), a.Record.Refcount())
}

////////////////////////////////////////////////////////////////////////
// ReadDir
////////////////////////////////////////////////////////////////////////

func (t *EngineTest) ReadDirMergesEntriesAcrossLayers() {
	AssertEq(nil, os.WriteFile(t.lower()+"/a", []byte("x"), 0644))
	AssertEq(nil, os.WriteFile(t.lower()+"/b", []byte("x"), 0644))
	AssertEq(nil, os.WriteFile(t.upperDir+"/c", []byte("x"), 0644))

	ents, err := t.engine.ReadDir(t.root())
	AssertEq(nil, err)

	var names []string
	for _, e := range ents {
		names = append(names, e.Name)
	}
	ExpectThat(names, ElementsAre("a", "b", "c"))

	// Cross-check the listed names, in order, with a structural diff.
	want := []string{"a", "b", "c"}
	if diff := pretty.Compare(want, names); diff != "" {
		AssertEq("", diff)
	}
}

func (t *EngineTest) ReadDirHidesWhitedOutNames() {
	AssertEq(nil, os.WriteFile(t.lower()+"/a", []byte("x"), 0644))
	AssertEq(nil, os.WriteFile(t.lower()+"/b", []byte("x"), 0644))
	AssertEq(nil, writeWhiteout(t.upperDir, "a"))

	ents, err := t.engine.ReadDir(t.root())
	AssertEq(nil, err)

	var names []string
	for _, e := range ents {
		names = append(names, e.Name)
	}
	ExpectThat(names, ElementsAre("b"))
}

func (t *EngineTest) ReadDirStopsDescendingBelowAnOpaqueDirectory() {
	AssertEq(nil, os.Mkdir(t.lower()+"/d", 0755))
	AssertEq(nil, os.WriteFile(t.lower()+"/d/hidden", []byte("x"), 0644))

	AssertEq(nil, os.Mkdir(t.upperDir+"/d", 0755))
	AssertEq(nil, writeOpaqueMarker(t.upperDir+"/d"))
	AssertEq(nil, os.WriteFile(t.upperDir+"/d/visible", []byte("x"), 0644))

	dRes, err := t.engine.Lookup(t.root(), "d")
	AssertEq(nil, err)

	ents, err := t.engine.ReadDir(dRes.Record)
	AssertEq(nil, err)

	var names []string
	for _, e := range ents {
		names = append(names, e.Name)
	}
	ExpectThat(names, ElementsAre("visible"))
}

////////////////////////////////////////////////////////////////////////
// Mutation
////////////////////////////////////////////////////////////////////////

func (t *EngineTest) MkDirMaterializesOnlyInTheTopLayer() {
	_, err := t.engine.MkDir(t.root(), "newdir", 0755)
	AssertEq(nil, err)

	fi, err := os.Stat(t.upperDir + "/newdir")
	AssertEq(nil, err)
	ExpectTrue(fi.IsDir())

	_, err = os.Stat(t.lower() + "/newdir")
	ExpectTrue(os.IsNotExist(err))
}

func (t *EngineTest) MkDirFailsIfTheNameAlreadyResolves() {
	AssertEq(nil, os.WriteFile(t.lower()+"/foo", []byte("x"), 0644))

	_, err := t.engine.MkDir(t.root(), "foo", 0755)
	AssertNe(nil, err)
	ExpectTrue(isErrKind(err, AlreadyExists))
}

func (t *EngineTest) FailedCreateDoesNotDisturbTheExistingRecordsRefcount() {
	AssertEq(nil, os.WriteFile(t.lower()+"/foo", []byte("x"), 0644))

	res, err := t.engine.Lookup(t.root(), "foo")
	AssertEq(nil, err)
	AssertEq(int64(1), res.Record.Refcount())

	_, err = t.engine.MkDir(t.root(), "foo", 0755)
	AssertNe(nil, err)

	_, _, err = t.engine.CreateFile(t.root(), "foo", 0644)
	AssertNe(nil, err)

	ExpectEq(int64(1), res.Record.Refcount())
}

func (t *EngineTest) CreateFileOpensAWritableTopLayerDescriptor() {
	res, f, err := t.engine.CreateFile(t.root(), "newfile", 0644)
	AssertEq(nil, err)
	defer f.Close()

	ExpectEq(t.engine.TopLayerIdx(), res.Record.LayerIdx())

	_, err = f.WriteString("hello")
	AssertEq(nil, err)

	got, err := os.ReadFile(t.upperDir + "/newfile")
	AssertEq(nil, err)
	ExpectEq("hello", string(got))
}

func (t *EngineTest) UnlinkOfALowerLayerFileLeavesAWhiteout() {
	AssertEq(nil, os.WriteFile(t.lower()+"/foo", []byte("x"), 0644))

	err := t.engine.Unlink(t.root(), "foo")
	AssertEq(nil, err)

	ExpectTrue(hasWhiteout(t.upperDir, "foo"))

	_, err = t.engine.Lookup(t.root(), "foo")
	AssertNe(nil, err)
	ExpectTrue(isErrKind(err, NotFound))
}

func (t *EngineTest) UnlinkOfATopLayerOnlyFileLeavesNoWhiteout() {
	_, f, err := t.engine.CreateFile(t.root(), "newfile", 0644)
	AssertEq(nil, err)
	f.Close()

	err = t.engine.Unlink(t.root(), "newfile")
	AssertEq(nil, err)

	ExpectFalse(hasWhiteout(t.upperDir, "newfile"))
}

func (t *EngineTest) UnlinkOfANameShadowedByTheTopLayerStillLeavesAWhiteout() {
	// The top layer's copy shadows the lower one; removing just the top
	// copy would unmask it.
	AssertEq(nil, os.WriteFile(t.lower()+"/foo", []byte("lower"), 0644))
	AssertEq(nil, os.WriteFile(t.upperDir+"/foo", []byte("upper"), 0644))

	err := t.engine.Unlink(t.root(), "foo")
	AssertEq(nil, err)

	ExpectTrue(hasWhiteout(t.upperDir, "foo"))

	_, err = t.engine.Lookup(t.root(), "foo")
	AssertNe(nil, err)
	ExpectTrue(isErrKind(err, NotFound))
}

func (t *EngineTest) MkDirThenRmDirOfAFreshNameLeavesNoWhiteout() {
	_, err := t.engine.MkDir(t.root(), "scratch", 0755)
	AssertEq(nil, err)

	err = t.engine.RmDir(t.root(), "scratch")
	AssertEq(nil, err)

	ExpectFalse(hasWhiteout(t.upperDir, "scratch"))

	_, err = os.Stat(t.upperDir + "/scratch")
	ExpectTrue(os.IsNotExist(err))
}

func (t *EngineTest) RmDirRejectsANonDirectory() {
	AssertEq(nil, os.WriteFile(t.lower()+"/foo", []byte("x"), 0644))

	err := t.engine.RmDir(t.root(), "foo")
	AssertNe(nil, err)
	ExpectTrue(isErrKind(err, NotDirectory))
}

func (t *EngineTest) RmDirFailsWhenOnlyLowerLayerChildrenRemain() {
	AssertEq(nil, os.Mkdir(t.lower()+"/d", 0755))
	AssertEq(nil, os.WriteFile(t.lower()+"/d/child", []byte("x"), 0644))

	err := t.engine.RmDir(t.root(), "d")
	AssertNe(nil, err)
	ExpectTrue(isErrKind(err, NotEmpty))
}

func (t *EngineTest) RmDirOfALowerLayerDirectoryWithWhitedOutChildrenSucceeds() {
	AssertEq(nil, os.Mkdir(t.lower()+"/d", 0755))
	AssertEq(nil, os.WriteFile(t.lower()+"/d/child", []byte("x"), 0644))

	dRes, err := t.engine.Lookup(t.root(), "d")
	AssertEq(nil, err)

	err = t.engine.Unlink(dRes.Record, "child")
	AssertEq(nil, err)

	err = t.engine.RmDir(t.root(), "d")
	AssertEq(nil, err)

	ExpectTrue(hasWhiteout(t.upperDir, "d"))

	_, err = t.engine.Lookup(t.root(), "d")
	AssertNe(nil, err)
	ExpectTrue(isErrKind(err, NotFound))
}

func (t *EngineTest) UnlinkRejectsADirectory() {
	AssertEq(nil, os.Mkdir(t.lower()+"/d", 0755))

	err := t.engine.Unlink(t.root(), "d")
	AssertNe(nil, err)
	ExpectTrue(isErrKind(err, IsDirectory))
}

func (t *EngineTest) CreateSymlinkThenReadlinkRoundTrips() {
	res, err := t.engine.CreateSymlink(t.root(), "link", "/some/target")
	AssertEq(nil, err)
	ExpectEq(t.engine.TopLayerIdx(), res.Record.LayerIdx())

	target, err := os.Readlink(t.upperDir + "/link")
	AssertEq(nil, err)
	ExpectEq("/some/target", target)
}

func (t *EngineTest) CreateLinkCopiesUpALowerLayerTargetFirst() {
	AssertEq(nil, os.WriteFile(t.lower()+"/foo", []byte("contents"), 0644))

	target, err := t.engine.Lookup(t.root(), "foo")
	AssertEq(nil, err)

	_, err = t.engine.CreateLink(t.root(), "bar", target.Record)
	AssertEq(nil, err)

	ExpectEq(t.engine.TopLayerIdx(), target.Record.LayerIdx())

	got, err := os.ReadFile(t.upperDir + "/bar")
	AssertEq(nil, err)
	ExpectEq("contents", string(got))
}

func (t *EngineTest) RenameOfALowerLayerFileCopiesUpAndWhitesOutTheSource() {
	AssertEq(nil, os.WriteFile(t.lower()+"/foo", []byte("contents"), 0644))

	err := t.engine.Rename(t.root(), "foo", t.root(), "bar", 0)
	AssertEq(nil, err)

	ExpectTrue(hasWhiteout(t.upperDir, "foo"))

	got, err := os.ReadFile(t.upperDir + "/bar")
	AssertEq(nil, err)
	ExpectEq("contents", string(got))

	_, err = t.engine.Lookup(t.root(), "foo")
	AssertNe(nil, err)
	ExpectTrue(isErrKind(err, NotFound))
}

func (t *EngineTest) RenameOverAnExistingWhiteoutConsumesIt() {
	AssertEq(nil, os.WriteFile(t.lower()+"/foo", []byte("src"), 0644))
	AssertEq(nil, os.WriteFile(t.lower()+"/bar", []byte("old"), 0644))
	AssertEq(nil, writeWhiteout(t.upperDir, "bar"))

	err := t.engine.Rename(t.root(), "foo", t.root(), "bar", 0)
	AssertEq(nil, err)

	got, err := os.ReadFile(t.upperDir + "/bar")
	AssertEq(nil, err)
	ExpectEq("src", string(got))
}

func (t *EngineTest) RenameWithTheWhiteoutFlagMarksATopLayerOnlySource() {
	_, f, err := t.engine.CreateFile(t.root(), "foo", 0644)
	AssertEq(nil, err)
	f.Close()

	err = t.engine.Rename(t.root(), "foo", t.root(), "bar", fuse.RenameWhiteout)
	AssertEq(nil, err)

	ExpectTrue(hasWhiteout(t.upperDir, "foo"))
	ExpectTrue(pathExists(t.upperDir + "/bar"))
}

func (t *EngineTest) CopyUpPreservesTheClientVisibleInodeID() {
	AssertEq(nil, os.WriteFile(t.lower()+"/foo", []byte("hello"), 0644))

	res, err := t.engine.Lookup(t.root(), "foo")
	AssertEq(nil, err)
	idBefore := res.Record.ID

	AssertEq(nil, t.engine.CopyUp(res.Record))

	ExpectEq(idBefore, res.Record.ID)
	ExpectEq(t.engine.TopLayerIdx(), res.Record.LayerIdx())

	// The lower layer's copy is untouched.
	got, err := os.ReadFile(t.lower() + "/foo")
	AssertEq(nil, err)
	ExpectEq("hello", string(got))

	// The record is now reachable by its new top-layer alt-key.
	alt, _, err := hostStat(t.upperDir + "/foo")
	AssertEq(nil, err)
	ExpectEq(res.Record, t.engine.Inodes().GetByAlt(alt))
}

func (t *EngineTest) RenameDoesNotLeakAReferenceOnTheMovedInode() {
	AssertEq(nil, os.WriteFile(t.lower()+"/foo", []byte("x"), 0644))

	res, err := t.engine.Lookup(t.root(), "foo")
	AssertEq(nil, err)
	AssertEq(int64(1), res.Record.Refcount())

	err = t.engine.Rename(t.root(), "foo", t.root(), "bar", 0)
	AssertEq(nil, err)

	// Only the client's original reference remains; a single forget
	// removes the record.
	ExpectEq(int64(1), res.Record.Refcount())
	AssertEq(nil, t.engine.Inodes().Forget(res.Record.ID, 1))
	_, err = t.engine.Inodes().GetByID(res.Record.ID)
	ExpectNe(nil, err)
}

func (t *EngineTest) CopyUpPreservesTimestamps() {
	AssertEq(nil, os.WriteFile(t.lower()+"/foo", []byte("hello"), 0644))
	stamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)
	AssertEq(nil, os.Chtimes(t.lower()+"/foo", stamp, stamp))

	res, err := t.engine.Lookup(t.root(), "foo")
	AssertEq(nil, err)
	AssertEq(nil, t.engine.CopyUp(res.Record))

	fi, err := os.Stat(t.upperDir + "/foo")
	AssertEq(nil, err)
	ExpectEq(stamp.Unix(), fi.ModTime().Unix())
}

func (t *EngineTest) CopyUpIsIdempotentOnceAnInodeIsInTheTopLayer() {
	_, f, err := t.engine.CreateFile(t.root(), "newfile", 0644)
	AssertEq(nil, err)
	f.Close()

	res, err := t.engine.Lookup(t.root(), "newfile")
	AssertEq(nil, err)

	err = t.engine.CopyUp(res.Record)
	ExpectEq(nil, err)
	ExpectEq(t.engine.TopLayerIdx(), res.Record.LayerIdx())
}
