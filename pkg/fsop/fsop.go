// Copyright 2023 The Fakefs Authors.
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

// Package fsop implements the tracer side of ownership faking: metadata
// operations whose results are overridden by the per-file xattr record.
//
// Ownership overrides are kept only for regular files and directories. Other
// file types (symlinks, devices, sockets) cannot carry user xattrs, so chown
// on them succeeds only when it would not change anything.
package fsop

import (
	"bytes"
	"errors"
	"os"

	"golang.org/x/sys/unix"

	"fakefs.dev/fakefs/pkg/fd"
	"fakefs.dev/fakefs/pkg/override"
)

var errNoOverride = errors.New("no override")

// upgradeFD reopens an O_PATH descriptor as a regular read-only descriptor,
// which the f*xattr syscalls require.
func upgradeFD(raw int) (*os.File, error) {
	return os.Open(fd.ProcSelfFD(raw))
}

func readOwnerRecord(f *os.File) (*ownerRecord, error) {
	buf := make([]byte, 64)
	size, err := unix.Fgetxattr(int(f.Fd()), override.Attr, buf)
	if err == unix.ENODATA || err == unix.ENOTSUP {
		return nil, errNoOverride
	}
	if err != nil {
		return nil, err
	}
	return parseOwnerRecord(buf[:size])
}

func writeOwnerRecord(f *os.File, rec *ownerRecord) error {
	return unix.Fsetxattr(int(f.Fd()), override.Attr, rec.Marshal(), 0)
}

// HasOverride reports whether the file at path certainly carries an override
// record. Probe failures count as "no override": the caller passes the
// syscall through unmodified and the tracee observes whatever the kernel
// says, including the probe's own error condition.
func HasOverride(path string, followSymlink bool) bool {
	var err error
	if followSymlink {
		_, err = unix.Getxattr(path, override.Attr, nil)
	} else {
		_, err = unix.Lgetxattr(path, override.Attr, nil)
	}
	return err == nil
}

// FHasOverride is HasOverride for an open descriptor.
func FHasOverride(raw int) bool {
	_, err := unix.Fgetxattr(raw, override.Attr, nil)
	return err == nil
}

// Fstat fills stat for the given descriptor, substituting overridden
// ownership for regular files and directories. It reports whether an
// override was applied. raw may be an O_PATH descriptor.
func Fstat(raw int, stat *unix.Stat_t) (overridden bool, err error) {
	// fstatat(2) with AT_EMPTY_PATH supports O_PATH descriptors where plain
	// fstat(2) would not.
	if err := unix.Fstatat(raw, "", stat, unix.AT_EMPTY_PATH); err != nil {
		return false, err
	}

	switch stat.Mode & unix.S_IFMT {
	case unix.S_IFREG, unix.S_IFDIR:
	default:
		return false, nil
	}

	f, err := upgradeFD(raw)
	if err != nil {
		return false, err
	}
	defer f.Close()

	rec, err := readOwnerRecord(f)
	if err == errNoOverride {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	stat.Uid = uint32(rec.UID)
	stat.Gid = uint32(rec.GID)
	return true, nil
}

// Fstatx is Fstat for the statx(2) result format.
func Fstatx(raw int, mask int, statx *unix.Statx_t) (overridden bool, err error) {
	// Always request the mode field; it decides whether the override
	// applies. statx(2) is allowed to return more fields than requested.
	if err := unix.Statx(raw, "", unix.AT_EMPTY_PATH, mask|unix.STATX_MODE, statx); err != nil {
		return false, err
	}

	switch statx.Mode & unix.S_IFMT {
	case unix.S_IFREG, unix.S_IFDIR:
	default:
		return false, nil
	}

	f, err := upgradeFD(raw)
	if err != nil {
		return false, err
	}
	defer f.Close()

	rec, err := readOwnerRecord(f)
	if err == errNoOverride {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if statx.Mask&unix.STATX_UID != 0 {
		statx.Uid = uint32(rec.UID)
	}
	if statx.Mask&unix.STATX_GID != 0 {
		statx.Gid = uint32(rec.GID)
	}
	return true, nil
}

// Fchown records the requested ownership in the override xattr. A negative
// uid or gid keeps the current (possibly already overridden) value, matching
// chown(2). raw may be an O_PATH descriptor.
//
// TODO: Lock the file while reading and writing the record; concurrent
// chowns of the same file can lose one of the updates.
func Fchown(raw int, uid, gid int) error {
	var stat unix.Stat_t
	if _, err := Fstat(raw, &stat); err != nil {
		return err
	}

	if uid < 0 {
		uid = int(stat.Uid)
	}
	if gid < 0 {
		gid = int(stat.Gid)
	}

	switch stat.Mode & unix.S_IFMT {
	case unix.S_IFREG, unix.S_IFDIR:
		f, err := upgradeFD(raw)
		if err != nil {
			return err
		}
		defer f.Close()
		return writeOwnerRecord(f, &ownerRecord{UID: uid, GID: gid})

	default:
		// No xattr to store the override in; only a no-op change succeeds.
		if uid != int(stat.Uid) || gid != int(stat.Gid) {
			return unix.EPERM
		}
		return nil
	}
}

// filterXattrList removes the override attribute from a NUL-separated xattr
// name list so traced processes never see the marker.
func filterXattrList(raw []byte) []byte {
	var out []byte
	for _, name := range bytes.Split(raw, []byte{0}) {
		if len(name) == 0 || string(name) == override.Attr {
			continue
		}
		out = append(out, name...)
		out = append(out, 0)
	}
	return out
}

func readXattrList(read func(dest []byte) (int, error)) ([]byte, error) {
	buf := make([]byte, 256)
	for {
		n, err := read(buf)
		if err == unix.ERANGE {
			buf = make([]byte, 2*len(buf))
			continue
		}
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	}
}

func clampXattrList(filtered []byte, size int) ([]byte, int, error) {
	if size == 0 {
		// Size query: report the length only.
		return nil, len(filtered), nil
	}
	if len(filtered) > size {
		return nil, 0, unix.ERANGE
	}
	return filtered, len(filtered), nil
}

// Listxattr emulates listxattr(2)/llistxattr(2) with the override marker
// hidden. size carries the tracee's buffer size; zero asks for the needed
// length, as in the syscall contract.
func Listxattr(path string, size int, followSymlink bool) (data []byte, actualSize int, err error) {
	raw, err := readXattrList(func(dest []byte) (int, error) {
		if followSymlink {
			return unix.Listxattr(path, dest)
		}
		return unix.Llistxattr(path, dest)
	})
	if err != nil {
		return nil, 0, err
	}
	return clampXattrList(filterXattrList(raw), size)
}

// Flistxattr is Listxattr for an open descriptor.
func Flistxattr(rawFD int, size int) (data []byte, actualSize int, err error) {
	raw, err := readXattrList(func(dest []byte) (int, error) {
		return unix.Flistxattr(rawFD, dest)
	})
	if err != nil {
		return nil, 0, err
	}
	return clampXattrList(filterXattrList(raw), size)
}
