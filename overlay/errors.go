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
	"fmt"
	"syscall"

	bazilfuse "bazil.org/fuse"

	"github.com/ocifuse/overlayfs"
)

// Kind classifies a failure the overlay engine can raise, independent of
// the host errno that happened to accompany it.
type Kind int

const (
	_ Kind = iota
	BadFD
	InvalidName
	PermissionDenied
	NotFound
	AlreadyExists
	NotDirectory
	IsDirectory
	NotEmpty
	Io
)

// Error is the error type every overlay operation returns. Raw is the
// underlying host errno for Kind == Io; it is zero otherwise.
type Error struct {
	Kind Kind
	Raw  syscall.Errno
	Op   string
}

func (e *Error) Error() string {
	if e.Kind == Io {
		return fmt.Sprintf("%s: %v", e.Op, e.Raw)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (k Kind) String() string {
	switch k {
	case BadFD:
		return "bad file descriptor"
	case InvalidName:
		return "invalid name"
	case PermissionDenied:
		return "permission denied"
	case NotFound:
		return "not found"
	case AlreadyExists:
		return "already exists"
	case NotDirectory:
		return "not a directory"
	case IsDirectory:
		return "is a directory"
	case NotEmpty:
		return "directory not empty"
	case Io:
		return "I/O error"
	default:
		return "unknown error"
	}
}

func newErr(op string, kind Kind) error {
	return &Error{Op: op, Kind: kind}
}

func ioErr(op string, raw syscall.Errno) error {
	return &Error{Op: op, Kind: Io, Raw: raw}
}

// wrapHostErr classifies a raw host error (typically from golang.org/x/sys/unix
// or the os package) into the overlay's Kind taxonomy.
func wrapHostErr(op string, err error) error {
	if err == nil {
		return nil
	}

	errno, ok := err.(syscall.Errno)
	if !ok {
		if pe, ok2 := err.(interface{ Unwrap() error }); ok2 {
			return wrapHostErr(op, pe.Unwrap())
		}
		return ioErr(op, syscall.EIO)
	}

	switch errno {
	case syscall.ENOENT:
		return newErr(op, NotFound)
	case syscall.EEXIST:
		return newErr(op, AlreadyExists)
	case syscall.ENOTDIR:
		return newErr(op, NotDirectory)
	case syscall.EISDIR:
		return newErr(op, IsDirectory)
	case syscall.ENOTEMPTY:
		return newErr(op, NotEmpty)
	case syscall.EACCES, syscall.EPERM:
		return newErr(op, PermissionDenied)
	case syscall.EBADF:
		return newErr(op, BadFD)
	default:
		return ioErr(op, errno)
	}
}

// ToErrno translates an overlay error (or any error at all) into the
// fuse package's errno-typed sentinel.
func ToErrno(err error) error {
	if err == nil {
		return nil
	}

	oe, ok := err.(*Error)
	if !ok {
		return err
	}

	switch oe.Kind {
	case BadFD:
		return fuse.EBADF
	case InvalidName:
		return fuse.EINVAL
	case PermissionDenied:
		return fuse.EACCES
	case NotFound:
		return fuse.ENOENT
	case AlreadyExists:
		return fuse.EEXIST
	case NotDirectory:
		return fuse.ENOTDIR
	case IsDirectory:
		return fuse.EISDIR
	case NotEmpty:
		return fuse.ENOTEMPTY
	case Io:
		// bazilfuse.RespondError only honors its own Errno type; a bare
		// syscall.Errno would degrade to EIO on the wire.
		return bazilfuse.Errno(oe.Raw)
	default:
		return fuse.EIO
	}
}
