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

package overlay_test

import (
	"context"
	"os"
	"testing"

	bazilfuse "bazil.org/fuse"

	"github.com/ocifuse/overlayfs"
	"github.com/ocifuse/overlayfs/overlay"
	. "github.com/jacobsa/ogletest"
)

func TestFilesystem(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type FilesystemTest struct {
	lowerDir string
	upperDir string
	fs       *overlay.Filesystem
	ctx      context.Context
}

func init() { RegisterTestSuite(&FilesystemTest{}) }

func (t *FilesystemTest) SetUp(ti *TestInfo) {
	var err error

	t.lowerDir, err = os.MkdirTemp("", "overlay_fs_lower")
	AssertEq(nil, err)

	t.upperDir, err = os.MkdirTemp("", "overlay_fs_upper")
	AssertEq(nil, err)

	t.ctx = context.Background()

	t.fs, err = overlay.New(overlay.Config{
		LowerRoots: []string{t.lowerDir},
		UpperRoot:  t.upperDir,
		Xattr:      true,
	})
	AssertEq(nil, err)
}

func (t *FilesystemTest) TearDown() {
	os.RemoveAll(t.lowerDir)
	os.RemoveAll(t.upperDir)
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *FilesystemTest) LookUpInodeRejectsPathSeparatorsInName() {
	_, err := t.fs.LookUpInode(t.ctx, &fuse.LookUpInodeRequest{
		Parent: fuse.RootInodeID,
		Name:   "a/b",
	})
	AssertNe(nil, err)
	ExpectEq(fuse.EINVAL, err)
}

func (t *FilesystemTest) LookUpInodeFindsALowerLayerFile() {
	AssertEq(nil, os.WriteFile(t.lowerDir+"/foo", []byte("hello"), 0644))

	resp, err := t.fs.LookUpInode(t.ctx, &fuse.LookUpInodeRequest{
		Parent: fuse.RootInodeID,
		Name:   "foo",
	})
	AssertEq(nil, err)
	ExpectEq(uint64(5), resp.Entry.Attributes.Size)
}

func (t *FilesystemTest) MkDirThenLookUpInodeSeesTheNewDirectory() {
	mkResp, err := t.fs.MkDir(t.ctx, &fuse.MkDirRequest{
		Parent: fuse.RootInodeID,
		Name:   "newdir",
		Mode:   0755,
	})
	AssertEq(nil, err)
	ExpectTrue(mkResp.Entry.Attributes.Mode.IsDir())

	luResp, err := t.fs.LookUpInode(t.ctx, &fuse.LookUpInodeRequest{
		Parent: fuse.RootInodeID,
		Name:   "newdir",
	})
	AssertEq(nil, err)
	ExpectEq(mkResp.Entry.Child, luResp.Entry.Child)
}

func (t *FilesystemTest) CreateWriteAndReadBackAFile() {
	createResp, err := t.fs.CreateFile(t.ctx, &fuse.CreateFileRequest{
		Parent: fuse.RootInodeID,
		Name:   "greeting",
		Mode:   0644,
	})
	AssertEq(nil, err)

	_, err = t.fs.WriteFile(t.ctx, &fuse.WriteFileRequest{
		Inode:  createResp.Entry.Child,
		Handle: createResp.Handle,
		Offset: 0,
		Data:   []byte("hello, overlay"),
	})
	AssertEq(nil, err)

	readResp, err := t.fs.ReadFile(t.ctx, &fuse.ReadFileRequest{
		Inode:  createResp.Entry.Child,
		Handle: createResp.Handle,
		Offset: 0,
		Size:   64,
	})
	AssertEq(nil, err)
	ExpectEq("hello, overlay", string(readResp.Data))

	_, err = t.fs.ReleaseFileHandle(t.ctx, &fuse.ReleaseFileHandleRequest{
		Handle: createResp.Handle,
	})
	AssertEq(nil, err)
}

func (t *FilesystemTest) OpenFileForWriteCopiesUpALowerLayerFile() {
	AssertEq(nil, os.WriteFile(t.lowerDir+"/foo", []byte("original"), 0644))

	luResp, err := t.fs.LookUpInode(t.ctx, &fuse.LookUpInodeRequest{
		Parent: fuse.RootInodeID,
		Name:   "foo",
	})
	AssertEq(nil, err)

	openResp, err := t.fs.OpenFile(t.ctx, &fuse.OpenFileRequest{
		Inode: luResp.Entry.Child,
		Flags: bazilfuse.OpenFlags(os.O_RDWR),
	})
	AssertEq(nil, err)

	_, err = t.fs.WriteFile(t.ctx, &fuse.WriteFileRequest{
		Inode:  luResp.Entry.Child,
		Handle: openResp.Handle,
		Offset: 0,
		Data:   []byte("modified"),
	})
	AssertEq(nil, err)

	got, err := os.ReadFile(t.upperDir + "/foo")
	AssertEq(nil, err)
	ExpectEq("modified", string(got))
}

func (t *FilesystemTest) UnlinkOfALowerLayerFileIsInvisibleAfterwards() {
	AssertEq(nil, os.WriteFile(t.lowerDir+"/foo", []byte("x"), 0644))

	_, err := t.fs.Unlink(t.ctx, &fuse.UnlinkRequest{
		Parent: fuse.RootInodeID,
		Name:   "foo",
	})
	AssertEq(nil, err)

	_, err = t.fs.LookUpInode(t.ctx, &fuse.LookUpInodeRequest{
		Parent: fuse.RootInodeID,
		Name:   "foo",
	})
	AssertNe(nil, err)
	ExpectEq(fuse.ENOENT, err)
}

func (t *FilesystemTest) ReadDirListsEntriesFromEveryLayer() {
	AssertEq(nil, os.WriteFile(t.lowerDir+"/a", []byte("x"), 0644))
	AssertEq(nil, os.WriteFile(t.upperDir+"/b", []byte("x"), 0644))

	openResp, err := t.fs.OpenDir(t.ctx, &fuse.OpenDirRequest{Inode: fuse.RootInodeID})
	AssertEq(nil, err)

	readResp, err := t.fs.ReadDir(t.ctx, &fuse.ReadDirRequest{
		Inode:  fuse.RootInodeID,
		Handle: openResp.Handle,
		Offset: 0,
		Size:   4096,
	})
	AssertEq(nil, err)
	ExpectTrue(len(readResp.Data) > 0)

	// One entry from each layer: "a" and "b", each a 24-byte fuse_dirent
	// header plus a one-byte name padded to 8 bytes.
	ExpectEq(2*32, len(readResp.Data))

	_, err = t.fs.ReleaseDirHandle(t.ctx, &fuse.ReleaseDirHandleRequest{Handle: openResp.Handle})
	AssertEq(nil, err)
}

func (t *FilesystemTest) SetXattrIsRejectedWhenDisabled() {
	fsNoXattr, err := overlay.New(overlay.Config{
		LowerRoots: []string{t.lowerDir},
		UpperRoot:  t.upperDir,
	})
	AssertEq(nil, err)

	_, err = fsNoXattr.SetXattr(t.ctx, &fuse.SetXattrRequest{
		Inode: fuse.RootInodeID,
		Name:  "user.test",
		Value: []byte("v"),
	})
	AssertEq(fuse.ENOSYS, err)
}

func (t *FilesystemTest) ForgetInodeIsANoOpOnTheRoot() {
	_, err := t.fs.ForgetInode(t.ctx, &fuse.ForgetInodeRequest{ID: fuse.RootInodeID})
	ExpectEq(nil, err)
}
