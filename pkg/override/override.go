// Copyright 2022 The Fakefs Authors.
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

//go:build linux

// Package override reads and clears the per-file marker that records whether
// a file currently has a faked-ownership overlay.
//
// The marker is an extended attribute. Only its presence matters to this
// package; the tracer stores its own payload under the same name. All probes
// are advisory: a false answer from HasNoOverride means "an overlay may
// exist", not "an overlay exists", and errors encountered while probing are
// never propagated to callers.
package override

import (
	"strings"

	"golang.org/x/sys/unix"

	"fakefs.dev/fakefs/pkg/fd"
)

// Attr is the extended attribute marking files with an active ownership
// overlay. It is shared with the tracer and must not change independently.
const Attr = "user.fakefs.override"

func pathHasNoOverride(path string, followSymlink bool) bool {
	var err error
	if followSymlink {
		_, err = unix.Getxattr(path, Attr, nil)
	} else {
		_, err = unix.Lgetxattr(path, Attr, nil)
	}
	// A missing attribute, an unsupported attribute namespace, or a missing
	// target all mean there is no overlay to preserve. Anything else is
	// inconclusive and must be treated as "overlay may exist".
	switch err {
	case unix.ENODATA, unix.ENOTSUP, unix.ENOENT, unix.ENOTDIR:
		return true
	}
	return false
}

func fdHasNoOverride(raw int) bool {
	// fgetxattr does not work with O_PATH descriptors, so go through
	// /proc/self/fd instead.
	return pathHasNoOverride(fd.ProcSelfFD(raw), true)
}

// openTarget opens the file named by dirfd and path with O_PATH, honoring
// AT_SYMLINK_NOFOLLOW. The caller owns the returned descriptor.
func openTarget(dirfd int, path string, flags int) (*fd.FD, error) {
	oflags := unix.O_RDONLY | unix.O_CLOEXEC | unix.O_PATH
	if flags&unix.AT_SYMLINK_NOFOLLOW != 0 {
		oflags |= unix.O_NOFOLLOW
	}
	return fd.Openat(dirfd, path, oflags)
}

// HasNoOverride reports whether the file addressed by dirfd, path and flags
// certainly has no ownership overlay. A false return does not imply an
// overlay exists; the probe itself may have failed.
func HasNoOverride(dirfd int, path string, flags int) bool {
	if flags&unix.AT_EMPTY_PATH != 0 && path == "" {
		return fdHasNoOverride(dirfd)
	}
	if dirfd == unix.AT_FDCWD || strings.HasPrefix(path, "/") {
		return pathHasNoOverride(path, flags&unix.AT_SYMLINK_NOFOLLOW == 0)
	}
	f, err := openTarget(dirfd, path, flags)
	if err != nil {
		return false
	}
	defer f.Close()
	return pathHasNoOverride(f.ProcPath(), true)
}

func pathClearOverride(path string, followSymlink bool) bool {
	var err error
	if followSymlink {
		err = unix.Removexattr(path, Attr)
	} else {
		err = unix.Lremovexattr(path, Attr)
	}
	// EPERM counts as cleared: if we may not remove the marker we could not
	// have installed one either, so there is nothing left to enforce.
	switch err {
	case nil, unix.ENODATA, unix.ENOTSUP, unix.EPERM:
		return true
	}
	return false
}

func fdClearOverride(raw int) bool {
	// fremovexattr does not work with O_PATH descriptors either.
	return pathClearOverride(fd.ProcSelfFD(raw), true)
}

// Clear removes the overlay marker from the file addressed by dirfd, path
// and flags. It returns true if the marker is known to be absent afterwards.
func Clear(dirfd int, path string, flags int) bool {
	if flags&unix.AT_EMPTY_PATH != 0 && path == "" {
		return fdClearOverride(dirfd)
	}
	if dirfd == unix.AT_FDCWD || strings.HasPrefix(path, "/") {
		return pathClearOverride(path, flags&unix.AT_SYMLINK_NOFOLLOW == 0)
	}
	// O_RDONLY rather than O_WRONLY: opening for write updates mtime, and
	// read access is enough to manipulate xattrs.
	f, err := openTarget(dirfd, path, flags)
	if err != nil {
		return false
	}
	defer f.Close()
	return pathClearOverride(f.ProcPath(), true)
}
