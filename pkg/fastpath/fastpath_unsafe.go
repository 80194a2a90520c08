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

//go:build linux && amd64

package fastpath

import (
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Fstatat issues newfstatat(2) directly, bypassing the tracer.
func Fstatat(dirfd int, path string, stat *unix.Stat_t, flags int) error {
	p, err := unix.BytePtrFromString(path)
	if err != nil {
		return err
	}
	_, errno := passthroughSyscall6(unix.SYS_NEWFSTATAT,
		uintptr(dirfd),
		uintptr(unsafe.Pointer(p)),
		uintptr(unsafe.Pointer(stat)),
		uintptr(flags),
		0,
		PassKey)
	runtime.KeepAlive(p)
	runtime.KeepAlive(stat)
	if errno != 0 {
		return errno
	}
	return nil
}

// Statx issues statx(2) directly, bypassing the tracer.
func Statx(dirfd int, path string, flags int, mask int, statx *unix.Statx_t) error {
	p, err := unix.BytePtrFromString(path)
	if err != nil {
		return err
	}
	_, errno := passthroughSyscall6(unix.SYS_STATX,
		uintptr(dirfd),
		uintptr(unsafe.Pointer(p)),
		uintptr(flags),
		uintptr(mask),
		uintptr(unsafe.Pointer(statx)),
		PassKey)
	runtime.KeepAlive(p)
	runtime.KeepAlive(statx)
	if errno != 0 {
		return errno
	}
	return nil
}

// Fchownat issues fchownat(2) directly, bypassing the tracer. It is used
// even when the requested ownership equals the true ownership: the real
// syscall still updates ctime, which clearing the marker alone would not.
func Fchownat(dirfd int, path string, uid int, gid int, flags int) error {
	p, err := unix.BytePtrFromString(path)
	if err != nil {
		return err
	}
	_, errno := passthroughSyscall6(unix.SYS_FCHOWNAT,
		uintptr(dirfd),
		uintptr(unsafe.Pointer(p)),
		uintptr(uid),
		uintptr(gid),
		uintptr(flags),
		PassKey)
	runtime.KeepAlive(p)
	if errno != 0 {
		return errno
	}
	return nil
}
