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
	"context"
	"io"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ocifuse/overlayfs"
)

// Filesystem adapts an Engine and a HandleTable to the fuse.FileSystem
// contract. It holds no host-resource state of its own beyond what the
// engine and handle table already track.
type Filesystem struct {
	fuse.NotImplementedFileSystem

	cfg     Config
	engine  *Engine
	handles *HandleTable
}

var _ fuse.FileSystem = (*Filesystem)(nil)

// New constructs a Filesystem over the layers named by cfg.
func New(cfg Config) (*Filesystem, error) {
	engine, err := NewEngine(cfg.layerRoots())
	if err != nil {
		return nil, err
	}
	return &Filesystem{
		cfg:     cfg,
		engine:  engine,
		handles: NewHandleTable(),
	}, nil
}

func (fs *Filesystem) rec(id fuse.InodeID) (*InodeRecord, error) {
	return fs.engine.Inodes().GetByID(uint64(id))
}

func (fs *Filesystem) toInodeAttributes(a hostAttr) fuse.InodeAttributes {
	return fuse.InodeAttributes{
		Size:  a.Size,
		Nlink: a.Nlink,
		Mode:  a.Mode,
		Atime: time.Unix(a.Atime, 0),
		Mtime: time.Unix(a.Mtime, 0),
		Ctime: time.Unix(a.Ctime, 0),
		Uid:   a.Uid,
		Gid:   a.Gid,
	}
}

func (fs *Filesystem) entryFor(res *lookupResult) fuse.ChildInodeEntry {
	return fuse.ChildInodeEntry{
		Child:                fuse.InodeID(res.Record.ID),
		Generation:           1,
		Attributes:           fs.toInodeAttributes(res.Attr),
		AttributesExpiration: fs.cfg.expiry(fs.cfg.AttrTimeout),
		EntryExpiration:      fs.cfg.expiry(fs.cfg.EntryTimeout),
	}
}

func (fs *Filesystem) Init(
	ctx context.Context,
	req *fuse.InitRequest) (*fuse.InitResponse, error) {
	return &fuse.InitResponse{
		Writeback: fs.cfg.Writeback && req.WritebackSupported,
	}, nil
}

func (fs *Filesystem) LookUpInode(
	ctx context.Context,
	req *fuse.LookUpInodeRequest) (*fuse.LookUpInodeResponse, error) {
	if err := validateName(req.Name); err != nil {
		return nil, ToErrno(err)
	}

	parent, err := fs.rec(req.Parent)
	if err != nil {
		return nil, ToErrno(err)
	}

	res, err := fs.engine.Lookup(parent, req.Name)
	if err != nil {
		return nil, ToErrno(err)
	}

	return &fuse.LookUpInodeResponse{Entry: fs.entryFor(res)}, nil
}

func (fs *Filesystem) GetInodeAttributes(
	ctx context.Context,
	req *fuse.GetInodeAttributesRequest) (*fuse.GetInodeAttributesResponse, error) {
	rec, err := fs.rec(req.Inode)
	if err != nil {
		return nil, ToErrno(err)
	}

	_, attr, err := hostStat(fs.engine.hostPath(rec))
	if err != nil {
		return nil, ToErrno(err)
	}

	return &fuse.GetInodeAttributesResponse{
		Attributes:           fs.toInodeAttributes(attr),
		AttributesExpiration: fs.cfg.expiry(fs.cfg.AttrTimeout),
	}, nil
}

func (fs *Filesystem) SetInodeAttributes(
	ctx context.Context,
	req *fuse.SetInodeAttributesRequest) (*fuse.SetInodeAttributesResponse, error) {
	rec, err := fs.rec(req.Inode)
	if err != nil {
		return nil, ToErrno(err)
	}

	if rec.ID != RootInodeID {
		if err := fs.engine.CopyUp(rec); err != nil {
			return nil, ToErrno(err)
		}
	}
	path := fs.engine.hostPath(rec)

	if req.Size != nil {
		if err := os.Truncate(path, int64(*req.Size)); err != nil {
			return nil, ToErrno(wrapHostErr("truncate", err))
		}
	}
	if req.Mode != nil {
		if err := os.Chmod(path, *req.Mode); err != nil {
			return nil, ToErrno(wrapHostErr("chmod", err))
		}
	}
	if req.Atime != nil || req.Mtime != nil {
		_, cur, err := hostStat(path)
		if err != nil {
			return nil, ToErrno(err)
		}
		atime := time.Unix(cur.Atime, 0)
		mtime := time.Unix(cur.Mtime, 0)
		if req.Atime != nil {
			atime = *req.Atime
		}
		if req.Mtime != nil {
			mtime = *req.Mtime
		}
		if err := os.Chtimes(path, atime, mtime); err != nil {
			return nil, ToErrno(wrapHostErr("chtimes", err))
		}
	}

	_, attr, err := hostStat(path)
	if err != nil {
		return nil, ToErrno(err)
	}

	return &fuse.SetInodeAttributesResponse{
		Attributes:           fs.toInodeAttributes(attr),
		AttributesExpiration: fs.cfg.expiry(fs.cfg.AttrTimeout),
	}, nil
}

func (fs *Filesystem) ForgetInode(
	ctx context.Context,
	req *fuse.ForgetInodeRequest) (*fuse.ForgetInodeResponse, error) {
	n := int64(req.N)
	if n == 0 {
		n = 1
	}
	fs.engine.Inodes().Forget(uint64(req.ID), n)
	return &fuse.ForgetInodeResponse{}, nil
}

func (fs *Filesystem) MkDir(
	ctx context.Context,
	req *fuse.MkDirRequest) (*fuse.MkDirResponse, error) {
	parent, err := fs.rec(req.Parent)
	if err != nil {
		return nil, ToErrno(err)
	}

	res, err := fs.engine.MkDir(parent, req.Name, req.Mode)
	if err != nil {
		return nil, ToErrno(err)
	}

	return &fuse.MkDirResponse{Entry: fs.entryFor(res)}, nil
}

func (fs *Filesystem) CreateFile(
	ctx context.Context,
	req *fuse.CreateFileRequest) (*fuse.CreateFileResponse, error) {
	parent, err := fs.rec(req.Parent)
	if err != nil {
		return nil, ToErrno(err)
	}

	res, f, err := fs.engine.CreateFile(parent, req.Name, req.Mode)
	if err != nil {
		return nil, ToErrno(err)
	}

	h := fs.handles.Open(res.Record.ID, f, false)
	return &fuse.CreateFileResponse{
		Entry:  fs.entryFor(res),
		Handle: fuse.HandleID(h.ID),
	}, nil
}

func (fs *Filesystem) RmDir(
	ctx context.Context,
	req *fuse.RmDirRequest) (*fuse.RmDirResponse, error) {
	parent, err := fs.rec(req.Parent)
	if err != nil {
		return nil, ToErrno(err)
	}
	if err := fs.engine.RmDir(parent, req.Name); err != nil {
		return nil, ToErrno(err)
	}
	return &fuse.RmDirResponse{}, nil
}

func (fs *Filesystem) Unlink(
	ctx context.Context,
	req *fuse.UnlinkRequest) (*fuse.UnlinkResponse, error) {
	parent, err := fs.rec(req.Parent)
	if err != nil {
		return nil, ToErrno(err)
	}
	if err := fs.engine.Unlink(parent, req.Name); err != nil {
		return nil, ToErrno(err)
	}
	return &fuse.UnlinkResponse{}, nil
}

func (fs *Filesystem) OpenDir(
	ctx context.Context,
	req *fuse.OpenDirRequest) (*fuse.OpenDirResponse, error) {
	rec, err := fs.rec(req.Inode)
	if err != nil {
		return nil, ToErrno(err)
	}

	f, err := os.Open(fs.engine.hostPath(rec))
	if err != nil {
		return nil, ToErrno(wrapHostErr("opendir", err))
	}

	h := fs.handles.Open(uint64(req.Inode), f, true)
	return &fuse.OpenDirResponse{Handle: fuse.HandleID(h.ID)}, nil
}

func (fs *Filesystem) ReadDir(
	ctx context.Context,
	req *fuse.ReadDirRequest) (*fuse.ReadDirResponse, error) {
	h, err := fs.handles.Get(uint64(req.Handle))
	if err != nil {
		return nil, ToErrno(err)
	}

	h.Lock()
	defer h.Unlock()

	if !h.direntsSet {
		rec, err := fs.engine.Inodes().GetByID(h.Inode)
		if err != nil {
			return nil, ToErrno(err)
		}
		dirents, err := fs.engine.ReadDir(rec)
		if err != nil {
			return nil, ToErrno(err)
		}
		h.dirents = dirents
		h.direntsSet = true
	}

	start := int(req.Offset)
	if start > len(h.dirents) {
		start = len(h.dirents)
	}

	buf := make([]byte, 0, req.Size)
	for i := start; i < len(h.dirents); i++ {
		d := h.dirents[i]
		entry := make([]byte, req.Size-len(buf))
		n := writeDirentInto(entry, d.Name, d.Ino, uint64(i+1), direntTypeFor(d.Mode))
		if n == 0 {
			break
		}
		buf = append(buf, entry[:n]...)
	}

	return &fuse.ReadDirResponse{Data: buf}, nil
}

func (fs *Filesystem) ReleaseDirHandle(
	ctx context.Context,
	req *fuse.ReleaseDirHandleRequest) (*fuse.ReleaseDirHandleResponse, error) {
	if err := fs.handles.Release(uint64(req.Handle)); err != nil {
		return nil, ToErrno(err)
	}
	return &fuse.ReleaseDirHandleResponse{}, nil
}

func (fs *Filesystem) OpenFile(
	ctx context.Context,
	req *fuse.OpenFileRequest) (*fuse.OpenFileResponse, error) {
	rec, err := fs.rec(req.Inode)
	if err != nil {
		return nil, ToErrno(err)
	}

	flags := int(req.Flags)
	if flags&(os.O_WRONLY|os.O_RDWR|os.O_TRUNC|os.O_APPEND) != 0 {
		if err := fs.engine.CopyUp(rec); err != nil {
			return nil, ToErrno(err)
		}
	}

	f, err := os.OpenFile(fs.engine.hostPath(rec), flags, 0)
	if err != nil {
		return nil, ToErrno(wrapHostErr("open", err))
	}

	h := fs.handles.Open(uint64(req.Inode), f, false)
	return &fuse.OpenFileResponse{Handle: fuse.HandleID(h.ID)}, nil
}

func (fs *Filesystem) ReadFile(
	ctx context.Context,
	req *fuse.ReadFileRequest) (*fuse.ReadFileResponse, error) {
	h, err := fs.handles.Get(uint64(req.Handle))
	if err != nil {
		return nil, ToErrno(err)
	}

	buf := make([]byte, req.Size)
	n, err := h.File.ReadAt(buf, req.Offset)
	if err != nil && err != io.EOF {
		return nil, ToErrno(wrapHostErr("read", err))
	}

	return &fuse.ReadFileResponse{Data: buf[:n]}, nil
}

func (fs *Filesystem) WriteFile(
	ctx context.Context,
	req *fuse.WriteFileRequest) (*fuse.WriteFileResponse, error) {
	h, err := fs.handles.Get(uint64(req.Handle))
	if err != nil {
		return nil, ToErrno(err)
	}

	if _, err := h.File.WriteAt(req.Data, req.Offset); err != nil {
		return nil, ToErrno(wrapHostErr("write", err))
	}

	return &fuse.WriteFileResponse{}, nil
}

func (fs *Filesystem) SyncFile(
	ctx context.Context,
	req *fuse.SyncFileRequest) (*fuse.SyncFileResponse, error) {
	h, err := fs.handles.Get(uint64(req.Handle))
	if err != nil {
		return nil, ToErrno(err)
	}
	if err := h.File.Sync(); err != nil {
		return nil, ToErrno(wrapHostErr("fsync", err))
	}
	return &fuse.SyncFileResponse{}, nil
}

func (fs *Filesystem) SyncDir(
	ctx context.Context,
	req *fuse.SyncDirRequest) (*fuse.SyncDirResponse, error) {
	h, err := fs.handles.Get(uint64(req.Handle))
	if err != nil {
		return nil, ToErrno(err)
	}
	if err := h.File.Sync(); err != nil {
		return nil, ToErrno(wrapHostErr("fsyncdir", err))
	}
	return &fuse.SyncDirResponse{}, nil
}

func (fs *Filesystem) ReleaseFileHandle(
	ctx context.Context,
	req *fuse.ReleaseFileHandleRequest) (*fuse.ReleaseFileHandleResponse, error) {
	if err := fs.handles.Release(uint64(req.Handle)); err != nil {
		return nil, ToErrno(err)
	}
	return &fuse.ReleaseFileHandleResponse{}, nil
}

func (fs *Filesystem) ReadSymlink(
	ctx context.Context,
	req *fuse.ReadSymlinkRequest) (*fuse.ReadSymlinkResponse, error) {
	rec, err := fs.rec(req.Inode)
	if err != nil {
		return nil, ToErrno(err)
	}

	target, err := os.Readlink(fs.engine.hostPath(rec))
	if err != nil {
		return nil, ToErrno(wrapHostErr("readlink", err))
	}

	return &fuse.ReadSymlinkResponse{Target: target}, nil
}

func (fs *Filesystem) CreateSymlink(
	ctx context.Context,
	req *fuse.CreateSymlinkRequest) (*fuse.CreateSymlinkResponse, error) {
	parent, err := fs.rec(req.Parent)
	if err != nil {
		return nil, ToErrno(err)
	}

	res, err := fs.engine.CreateSymlink(parent, req.Name, req.Target)
	if err != nil {
		return nil, ToErrno(err)
	}

	return &fuse.CreateSymlinkResponse{Entry: fs.entryFor(res)}, nil
}

func (fs *Filesystem) CreateLink(
	ctx context.Context,
	req *fuse.CreateLinkRequest) (*fuse.CreateLinkResponse, error) {
	parent, err := fs.rec(req.Parent)
	if err != nil {
		return nil, ToErrno(err)
	}
	target, err := fs.rec(req.Target)
	if err != nil {
		return nil, ToErrno(err)
	}

	res, err := fs.engine.CreateLink(parent, req.Name, target)
	if err != nil {
		return nil, ToErrno(err)
	}

	return &fuse.CreateLinkResponse{Entry: fs.entryFor(res)}, nil
}

func (fs *Filesystem) Rename(
	ctx context.Context,
	req *fuse.RenameRequest) (*fuse.RenameResponse, error) {
	oldParent, err := fs.rec(req.OldParent)
	if err != nil {
		return nil, ToErrno(err)
	}
	newParent, err := fs.rec(req.NewParent)
	if err != nil {
		return nil, ToErrno(err)
	}

	if err := fs.engine.Rename(oldParent, req.OldName, newParent, req.NewName, req.Flags); err != nil {
		return nil, ToErrno(err)
	}

	return &fuse.RenameResponse{}, nil
}

func (fs *Filesystem) SetXattr(
	ctx context.Context,
	req *fuse.SetXattrRequest) (*fuse.SetXattrResponse, error) {
	if !fs.cfg.Xattr {
		return nil, fuse.ENOSYS
	}

	rec, err := fs.rec(req.Inode)
	if err != nil {
		return nil, ToErrno(err)
	}
	if err := fs.engine.CopyUp(rec); err != nil {
		return nil, ToErrno(err)
	}

	if err := lsetxattr(fs.engine.hostPath(rec), req.Name, req.Value, int(req.Flags)); err != nil {
		return nil, ToErrno(err)
	}
	return &fuse.SetXattrResponse{}, nil
}

func (fs *Filesystem) GetXattr(
	ctx context.Context,
	req *fuse.GetXattrRequest) (*fuse.GetXattrResponse, error) {
	if !fs.cfg.Xattr {
		return nil, fuse.ENOSYS
	}

	rec, err := fs.rec(req.Inode)
	if err != nil {
		return nil, ToErrno(err)
	}
	path := fs.engine.hostPath(rec)

	if req.Size == 0 {
		n, err := lgetxattr(path, req.Name, nil)
		if err != nil {
			return nil, ToErrno(err)
		}
		return &fuse.GetXattrResponse{BytesRequired: n}, nil
	}

	buf := make([]byte, req.Size)
	n, err := lgetxattr(path, req.Name, buf)
	if err != nil {
		return nil, ToErrno(err)
	}
	return &fuse.GetXattrResponse{Data: buf[:n]}, nil
}

func (fs *Filesystem) ListXattr(
	ctx context.Context,
	req *fuse.ListXattrRequest) (*fuse.ListXattrResponse, error) {
	if !fs.cfg.Xattr {
		return nil, fuse.ENOSYS
	}

	rec, err := fs.rec(req.Inode)
	if err != nil {
		return nil, ToErrno(err)
	}
	path := fs.engine.hostPath(rec)

	if req.Size == 0 {
		n, err := llistxattr(path, nil)
		if err != nil {
			return nil, ToErrno(err)
		}
		return &fuse.ListXattrResponse{BytesRequired: n}, nil
	}

	buf := make([]byte, req.Size)
	n, err := llistxattr(path, buf)
	if err != nil {
		return nil, ToErrno(err)
	}
	return &fuse.ListXattrResponse{Data: buf[:n]}, nil
}

func (fs *Filesystem) RemoveXattr(
	ctx context.Context,
	req *fuse.RemoveXattrRequest) (*fuse.RemoveXattrResponse, error) {
	if !fs.cfg.Xattr {
		return nil, fuse.ENOSYS
	}

	rec, err := fs.rec(req.Inode)
	if err != nil {
		return nil, ToErrno(err)
	}
	if err := fs.engine.CopyUp(rec); err != nil {
		return nil, ToErrno(err)
	}

	if err := lremovexattr(fs.engine.hostPath(rec), req.Name); err != nil {
		return nil, ToErrno(err)
	}
	return &fuse.RemoveXattrResponse{}, nil
}

func (fs *Filesystem) Access(
	ctx context.Context,
	req *fuse.AccessRequest) (*fuse.AccessResponse, error) {
	rec, err := fs.rec(req.Inode)
	if err != nil {
		return nil, ToErrno(err)
	}
	if err := unix.Access(fs.engine.hostPath(rec), req.Mask); err != nil {
		return nil, ToErrno(wrapHostErr("access", err))
	}
	return &fuse.AccessResponse{}, nil
}

func (fs *Filesystem) StatFS(
	ctx context.Context,
	req *fuse.StatFSRequest) (*fuse.StatFSResponse, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(fs.engine.TopLayerRoot(), &st); err != nil {
		return nil, ToErrno(wrapHostErr("statfs", err))
	}

	bs, blocks, bfree, bavail, files, ffree, nameLen := statfsAttr(st)
	return &fuse.StatFSResponse{
		BlockSize:   bs,
		Blocks:      blocks,
		BlocksFree:  bfree,
		BlocksAvail: bavail,
		Files:       files,
		FilesFree:   ffree,
		NameLen:     nameLen,
	}, nil
}

func (fs *Filesystem) Destroy(ctx context.Context) {
	fs.handles.CloseAll()
}

// direntTypeFor maps a Go os.FileMode to the POSIX DT_* constant FUSE
// expects in a directory entry's type field.
func direntTypeFor(mode os.FileMode) uint32 {
	switch {
	case mode.IsDir():
		return 4 // DT_DIR
	case mode&os.ModeSymlink != 0:
		return 10 // DT_LNK
	case mode&os.ModeSocket != 0:
		return 12 // DT_SOCK
	case mode&os.ModeNamedPipe != 0:
		return 1 // DT_FIFO
	case mode&os.ModeCharDevice != 0:
		return 2 // DT_CHR
	case mode&os.ModeDevice != 0:
		return 6 // DT_BLK
	case mode.IsRegular():
		return 8 // DT_REG
	default:
		return 0 // DT_UNKNOWN
	}
}

// writeDirentInto encodes one directory entry in the fuse_dirent wire
// format (http://goo.gl/BmFxob), 8-byte aligned per FUSE_DIRENT_ALIGN.
// Returns 0 when the entry does not fit in buf.
func writeDirentInto(buf []byte, name string, ino uint64, offset uint64, dtype uint32) int {
	const direntAlignment = 8
	const direntHeaderSize = 8 + 8 + 4 + 4

	var padLen int
	if len(name)%direntAlignment != 0 {
		padLen = direntAlignment - (len(name) % direntAlignment)
	}

	total := direntHeaderSize + len(name) + padLen
	if total > len(buf) {
		return 0
	}

	type wireHeader struct {
		ino     uint64
		off     uint64
		namelen uint32
		typ     uint32
	}
	hdr := wireHeader{ino: ino, off: offset, namelen: uint32(len(name)), typ: dtype}

	n := copy(buf, (*[direntHeaderSize]byte)(unsafe.Pointer(&hdr))[:])
	n += copy(buf[n:], name)
	if padLen != 0 {
		var pad [direntAlignment]byte
		n += copy(buf[n:], pad[:padLen])
	}
	return n
}
