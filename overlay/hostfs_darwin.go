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
	"golang.org/x/sys/unix"

	"github.com/ocifuse/overlayfs"
)

// statToAttr converts a macOS stat_t (the primary target platform) into
// the overlay's attribute shape.
func statToAttr(st unix.Stat_t) hostAttr {
	return hostAttr{
		Size:  uint64(st.Size),
		Nlink: uint64(st.Nlink),
		Mode:  unixModeToGo(uint32(st.Mode)),
		Atime: st.Atimespec.Sec,
		Mtime: st.Mtimespec.Sec,
		Ctime: st.Ctimespec.Sec,
		Uid:   st.Uid,
		Gid:   st.Gid,
	}
}

// statfsAttr extracts the fields StatFS reports from a macOS statfs(2)
// result. macOS's statfs_t carries no maximum-filename-length field; APFS
// and HFS+ both cap components at 255 UTF-8 bytes.
func statfsAttr(st unix.Statfs_t) (blockSize uint32, blocks, blocksFree, blocksAvail, files, filesFree uint64, nameLen uint32) {
	return uint32(st.Bsize), st.Blocks, st.Bfree, st.Bavail, st.Files, st.Ffree, 255
}

// hostRename maps the overlay's rename flag bits onto macOS's
// renameatx_np(2). RENAME_SWAP is the Darwin spelling of EXCHANGE and
// RENAME_EXCL of NOREPLACE.
func hostRename(oldPath, newPath string, flags fuse.RenameFlags) error {
	var nativeFlags uint32
	if flags&fuse.RenameNoReplace != 0 {
		nativeFlags |= unix.RENAME_EXCL
	}
	if flags&fuse.RenameExchange != 0 {
		nativeFlags |= unix.RENAME_SWAP
	}
	return unix.RenameatxNp(unix.AT_FDCWD, oldPath, unix.AT_FDCWD, newPath, nativeFlags)
}

