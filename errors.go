// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fuse

import (
	"syscall"

	bazilfuse "bazil.org/fuse"
)

const (
	// Errors corresponding to kernel error numbers. These may be treated
	// specially when returned by a FileSystem method.
	EIO       = bazilfuse.EIO
	ENOENT    = bazilfuse.ENOENT
	ENOSYS    = bazilfuse.ENOSYS
	ENOTEMPTY = bazilfuse.Errno(syscall.ENOTEMPTY)

	// Additional errno values used by the overlay's error taxonomy (see
	// overlay.Kind): BadFD, InvalidName, PermissionDenied, AlreadyExists,
	// NotDirectory and IsDirectory all surface to callers as one of these.
	EBADF   = bazilfuse.Errno(syscall.EBADF)
	EINVAL  = bazilfuse.Errno(syscall.EINVAL)
	EACCES  = bazilfuse.Errno(syscall.EACCES)
	EEXIST  = bazilfuse.Errno(syscall.EEXIST)
	ENOTDIR = bazilfuse.Errno(syscall.ENOTDIR)
	EISDIR  = bazilfuse.Errno(syscall.EISDIR)
)
