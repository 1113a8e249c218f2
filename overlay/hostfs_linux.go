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

// statToAttr converts a Linux stat_t into the overlay's attribute shape.
// Linux hosts are not the primary target but the overlay's core logic is
// platform-agnostic aside from this file and its darwin sibling.
func statToAttr(st unix.Stat_t) hostAttr {
	return hostAttr{
		Size:  uint64(st.Size),
		Nlink: uint64(st.Nlink),
		Mode:  unixModeToGo(st.Mode),
		Atime: st.Atim.Sec,
		Mtime: st.Mtim.Sec,
		Ctime: st.Ctim.Sec,
		Uid:   st.Uid,
		Gid:   st.Gid,
	}
}

// statfsAttr extracts the fields StatFS reports from a Linux statfs(2)
// result.
func statfsAttr(st unix.Statfs_t) (blockSize uint32, blocks, blocksFree, blocksAvail, files, filesFree uint64, nameLen uint32) {
	return uint32(st.Bsize), st.Blocks, st.Bfree, st.Bavail, st.Files, st.Ffree, uint32(st.Namelen)
}

// hostRename maps the overlay's rename flag bits onto renameat2(2).
func hostRename(oldPath, newPath string, flags fuse.RenameFlags) error {
	var nativeFlags uint
	if flags&fuse.RenameNoReplace != 0 {
		nativeFlags |= unix.RENAME_NOREPLACE
	}
	if flags&fuse.RenameExchange != 0 {
		nativeFlags |= unix.RENAME_EXCHANGE
	}
	return unix.Renameat2(unix.AT_FDCWD, oldPath, unix.AT_FDCWD, newPath, nativeFlags)
}

