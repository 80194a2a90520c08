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

//go:build linux && amd64

// Package hooks emulates metadata syscalls on behalf of traced threads.
//
// For each seccomp-trapped syscall, OnSyscall decides whether the call must
// be emulated. If so it blocks the original syscall (rewriting the syscall
// number to an invalid one) and returns an exit hook that installs the
// emulated result into the thread's registers. A nil return passes the
// syscall through untouched.
package hooks

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"fakefs.dev/fakefs/pkg/fastpath"
	"fakefs.dev/fakefs/pkg/fd"
	"fakefs.dev/fakefs/pkg/fsop"
	"fakefs.dev/fakefs/pkg/log"
	"fakefs.dev/fakefs/pkg/ptracearch"
	"fakefs.dev/fakefs/pkg/syscallabi"
)

// readCString reads a NUL-terminated string from the tracee's memory with
// process_vm_readv(2), which is much cheaper than PTRACE_PEEKDATA.
func readCString(tid int, ptr uintptr) (string, error) {
	var str []byte

	// Reads never cross a page boundary so that a string ending just before
	// an unmapped page can still be read. Huge pages keep 4096-multiple
	// sizes, so the fixed constant stays safe.
	const pageSize = 4096
	buf := make([]byte, pageSize)

	for {
		nextSize := pageSize - (ptr % pageSize)
		localIov := []unix.Iovec{{
			Base: &buf[0],
			Len:  uint64(nextSize),
		}}
		remoteIov := []unix.RemoteIovec{{
			Base: ptr,
			Len:  int(nextSize),
		}}

		readSize, err := unix.ProcessVMReadv(tid, localIov, remoteIov, 0)
		if err != nil {
			return "", err
		}

		for _, b := range buf[:readSize] {
			if b == 0 {
				return string(str), nil
			}
			str = append(str, b)
		}
		ptr += uintptr(readSize)
	}
}

func writeBytes(tid int, ptr uintptr, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	localIov := []unix.Iovec{{
		Base: &data[0],
		Len:  uint64(len(data)),
	}}
	remoteIov := []unix.RemoteIovec{{
		Base: ptr,
		Len:  int(len(data)),
	}}
	_, err := unix.ProcessVMWritev(tid, localIov, remoteIov, 0)
	return err
}

func writeStruct[T any](tid int, ptr uintptr, data *T) error {
	return writeBytes(tid, ptr, unsafe.Slice((*byte)(unsafe.Pointer(data)), unsafe.Sizeof(*data)))
}

// dirfdPath returns a /proc path resolving the tracee's dirfd argument from
// the tracer's mount namespace view of that thread.
func dirfdPath(tid int, dfd int) string {
	if dfd == unix.AT_FDCWD {
		return fmt.Sprintf("/proc/%d/cwd", tid)
	}
	return fmt.Sprintf("/proc/%d/fd/%d", tid, dfd)
}

// rewritePerThreadPaths maps paths that mean something different in the
// tracee than in the tracer.
// TODO: handle /proc/thread-self the same way.
func rewritePerThreadPaths(tid int, path string) string {
	path = filepath.Clean(path)

	const procSelf = "/proc/self/"
	if strings.HasPrefix(path, procSelf) {
		path = fmt.Sprintf("/proc/%d/%s", tid, path[len(procSelf):])
	}
	return path
}

// blockSyscallAndReturn prevents the current syscall from reaching the
// kernel and arranges for the tracee to observe ret as its result. The
// syscall number is replaced with an invalid one so the kernel fails it with
// ENOSYS, and the returned exit hook overwrites that with ret.
func blockSyscallAndReturn(tid int, regs *ptracearch.Regs, ret uint64) func(regs *ptracearch.Regs) {
	regs.Orig_rax = math.MaxUint64
	_ = ptracearch.SetRegs(tid, regs)

	return func(regs *ptracearch.Regs) {
		regs.Rax = ret
		_ = ptracearch.SetRegs(tid, regs)
	}
}

// blockSyscall finishes an emulated syscall with err, translating non-errno
// emulation failures to ENOTRECOVERABLE so they are at least visible to the
// tracee.
func blockSyscall(tid int, regs *ptracearch.Regs, logger *log.Logger, err error) func(regs *ptracearch.Regs) {
	errno, ok := err.(unix.Errno)
	if err != nil && !ok {
		logger.Errorf(tid, "%s: %v", syscallabi.Name(regs.Orig_rax), err)
		errno = unix.ENOTRECOVERABLE
	}
	return blockSyscallAndReturn(tid, regs, -uint64(errno))
}

// openat resolves a tracee's (dfd, filename, flags) triple to an O_PATH
// descriptor in the tracer.
func openat(tid int, dfd int, filename string, flags int) (*fd.FD, error) {
	oflags := unix.O_PATH | unix.O_CLOEXEC
	if flags&unix.AT_SYMLINK_NOFOLLOW != 0 {
		oflags |= unix.O_NOFOLLOW
	}

	// Absolute paths do not need dfd resolution.
	if filepath.IsAbs(filename) {
		return fd.Open(filename, oflags)
	}

	dir, err := fd.Open(dirfdPath(tid, dfd), unix.O_PATH|unix.O_CLOEXEC)
	if err != nil {
		return nil, unix.EBADF
	}

	if filename == "" && flags&unix.AT_EMPTY_PATH != 0 {
		return dir, nil
	}
	defer dir.Close()

	return fd.Openat(dir.FD(), filename, oflags)
}

func simulateFstatat(tid int, regs *ptracearch.Regs, logger *log.Logger, dfd int, filename string, statbuf uintptr, flags int) func(regs *ptracearch.Regs) {
	filename = rewritePerThreadPaths(tid, filename)

	// For absolute paths a cheap xattr probe avoids opening files that have
	// no override.
	if filepath.IsAbs(filename) {
		if !fsop.HasOverride(filename, flags&unix.AT_SYMLINK_NOFOLLOW == 0) {
			return nil
		}
	}

	f, err := openat(tid, dfd, filename, flags)
	if err != nil {
		// Pass through so the tracee observes the kernel's own error.
		return nil
	}
	defer f.Close()

	var stat unix.Stat_t
	overridden, err := fsop.Fstat(f.FD(), &stat)
	if err != nil {
		return blockSyscall(tid, regs, logger, err)
	}
	if !overridden {
		return nil
	}

	err = writeStruct(tid, statbuf, &stat)
	return blockSyscall(tid, regs, logger, err)
}

func simulateStatx(tid int, regs *ptracearch.Regs, logger *log.Logger, dfd int, filename string, flags int, mask int, statxbuf uintptr) func(regs *ptracearch.Regs) {
	filename = rewritePerThreadPaths(tid, filename)

	if filepath.IsAbs(filename) {
		if !fsop.HasOverride(filename, flags&unix.AT_SYMLINK_NOFOLLOW == 0) {
			return nil
		}
	}

	f, err := openat(tid, dfd, filename, flags)
	if err != nil {
		return nil
	}
	defer f.Close()

	var statx unix.Statx_t
	overridden, err := fsop.Fstatx(f.FD(), mask, &statx)
	if err != nil {
		return blockSyscall(tid, regs, logger, err)
	}
	if !overridden {
		return nil
	}

	err = writeStruct(tid, statxbuf, &statx)
	return blockSyscall(tid, regs, logger, err)
}

func simulateListxattr(tid int, regs *ptracearch.Regs, logger *log.Logger, filename string, list uintptr, size int, followSymlinks bool) func(regs *ptracearch.Regs) {
	filename = rewritePerThreadPaths(tid, filename)
	if !filepath.IsAbs(filename) {
		filename = fmt.Sprintf("/proc/%d/cwd/%s", tid, filename)
	}
	if !fsop.HasOverride(filename, followSymlinks) {
		return nil
	}

	data, actualSize, err := fsop.Listxattr(filename, size, followSymlinks)
	if err != nil {
		return blockSyscall(tid, regs, logger, err)
	}

	if err := writeBytes(tid, list, data); err != nil {
		return blockSyscall(tid, regs, logger, err)
	}

	return blockSyscallAndReturn(tid, regs, uint64(actualSize))
}

func simulateFlistxattr(tid int, regs *ptracearch.Regs, logger *log.Logger, rawFD int, list uintptr, size int) func(regs *ptracearch.Regs) {
	// O_PATH does not work for flistxattr, so reopen read-only.
	f, err := fd.Open(fmt.Sprintf("/proc/%d/fd/%d", tid, rawFD), unix.O_RDONLY|unix.O_CLOEXEC)
	if err != nil {
		return blockSyscall(tid, regs, logger, unix.EBADF)
	}
	defer f.Close()

	if !fsop.FHasOverride(f.FD()) {
		return nil
	}

	data, actualSize, err := fsop.Flistxattr(f.FD(), size)
	if err != nil {
		return blockSyscall(tid, regs, logger, err)
	}

	if err := writeBytes(tid, list, data); err != nil {
		return blockSyscall(tid, regs, logger, err)
	}

	return blockSyscallAndReturn(tid, regs, uint64(actualSize))
}

func simulateFchownat(tid int, regs *ptracearch.Regs, logger *log.Logger, dfd int, filename string, user int, group int, flags int) func(regs *ptracearch.Regs) {
	filename = rewritePerThreadPaths(tid, filename)
	return blockSyscall(tid, regs, logger, func() error {
		f, err := openat(tid, dfd, filename, flags)
		if err != nil {
			return err
		}
		defer f.Close()

		return fsop.Fchown(f.FD(), user, group)
	}())
}

// Emulator implements the tracer's syscall hook.
type Emulator struct{}

func New() *Emulator {
	return &Emulator{}
}

// SyscallList returns the syscall numbers the seccomp filter traps.
func (*Emulator) SyscallList() []int {
	return []int{
		// stat
		unix.SYS_STAT,
		unix.SYS_FSTAT,
		unix.SYS_LSTAT,
		unix.SYS_STATX,
		unix.SYS_NEWFSTATAT,
		// listxattr
		unix.SYS_LISTXATTR,
		unix.SYS_LLISTXATTR,
		unix.SYS_FLISTXATTR,
		// chown
		unix.SYS_CHOWN,
		unix.SYS_LCHOWN,
		unix.SYS_FCHOWN,
		unix.SYS_FCHOWNAT,
	}
}

// passKeySyscalls are the trapped syscalls with at most five real
// arguments, leaving the 6th argument register free to carry the
// cooperation key.
var passKeySyscalls = map[uint64]bool{
	unix.SYS_NEWFSTATAT: true,
	unix.SYS_STATX:      true,
	unix.SYS_FCHOWNAT:   true,
}

// PassKeySyscalls returns the syscalls whose 6th argument slot the seccomp
// filter must compare against the cooperation key before trapping.
func (*Emulator) PassKeySyscalls() []int {
	return []int{unix.SYS_NEWFSTATAT, unix.SYS_STATX, unix.SYS_FCHOWNAT}
}

// passesKey reports whether the trapped syscall carries the cooperation key
// in its unused 6th argument slot. Such calls come from our own emulation
// helpers (or an in-process interceptor) and must reach the kernel
// unmodified. For syscalls with six real arguments the register holds
// caller data and is never interpreted as a key.
func passesKey(regs *ptracearch.Regs) bool {
	return passKeySyscalls[regs.Orig_rax] && regs.R9 == fastpath.PassKey
}

// OnSyscall handles a syscall-entry stop. It returns a non-nil exit hook
// when the syscall is emulated, or nil to pass it through.
func (*Emulator) OnSyscall(tid int, regs *ptracearch.Regs, logger *log.Logger) func(regs *ptracearch.Regs) {
	if passesKey(regs) {
		return nil
	}

	switch regs.Orig_rax {
	case unix.SYS_STAT:
		args := syscallabi.ParseStatArgs(regs)
		filename, err := readCString(tid, args.Filename)
		if err != nil {
			return blockSyscall(tid, regs, logger, fmt.Errorf("failed to read filename: %w", err))
		}
		logger.Infof(tid, "stat(%q)", filename)
		return simulateFstatat(tid, regs, logger, unix.AT_FDCWD, filename, args.Statbuf, unix.AT_SYMLINK_FOLLOW)

	case unix.SYS_LSTAT:
		args := syscallabi.ParseLstatArgs(regs)
		filename, err := readCString(tid, args.Filename)
		if err != nil {
			return blockSyscall(tid, regs, logger, fmt.Errorf("failed to read filename: %w", err))
		}
		logger.Infof(tid, "lstat(%q)", filename)
		return simulateFstatat(tid, regs, logger, unix.AT_FDCWD, filename, args.Statbuf, unix.AT_SYMLINK_NOFOLLOW)

	case unix.SYS_FSTAT:
		args := syscallabi.ParseFstatArgs(regs)
		logger.Infof(tid, "fstat(%d)", args.Fd)
		return simulateFstatat(tid, regs, logger, args.Fd, "", args.Statbuf, unix.AT_EMPTY_PATH)

	case unix.SYS_NEWFSTATAT:
		args := syscallabi.ParseNewfstatatArgs(regs)
		filename, err := readCString(tid, args.Filename)
		if err != nil {
			return blockSyscall(tid, regs, logger, fmt.Errorf("failed to read filename: %w", err))
		}
		logger.Infof(tid, "newfstatat(%d, %q, %#x)", args.Dfd, filename, args.Flag)
		return simulateFstatat(tid, regs, logger, args.Dfd, filename, args.Statbuf, args.Flag)

	case unix.SYS_STATX:
		args := syscallabi.ParseStatxArgs(regs)
		filename, err := readCString(tid, args.Filename)
		if err != nil {
			return blockSyscall(tid, regs, logger, fmt.Errorf("failed to read filename: %w", err))
		}
		logger.Infof(tid, "statx(%d, %q, %#x, %#x)", args.Dfd, filename, args.Flags, args.Mask)
		return simulateStatx(tid, regs, logger, args.Dfd, filename, args.Flags, args.Mask, args.Buffer)

	case unix.SYS_LISTXATTR:
		args := syscallabi.ParseListxattrArgs(regs)
		filename, err := readCString(tid, args.Pathname)
		if err != nil {
			return blockSyscall(tid, regs, logger, fmt.Errorf("failed to read filename: %w", err))
		}
		logger.Infof(tid, "listxattr(%q, %d)", filename, args.Size)
		return simulateListxattr(tid, regs, logger, filename, args.List, args.Size, true)

	case unix.SYS_LLISTXATTR:
		args := syscallabi.ParseLlistxattrArgs(regs)
		filename, err := readCString(tid, args.Pathname)
		if err != nil {
			return blockSyscall(tid, regs, logger, fmt.Errorf("failed to read filename: %w", err))
		}
		logger.Infof(tid, "llistxattr(%q, %d)", filename, args.Size)
		return simulateListxattr(tid, regs, logger, filename, args.List, args.Size, false)

	case unix.SYS_FLISTXATTR:
		args := syscallabi.ParseFlistxattrArgs(regs)
		logger.Infof(tid, "flistxattr(%d, %d)", args.Fd, args.Size)
		return simulateFlistxattr(tid, regs, logger, args.Fd, args.List, args.Size)

	case unix.SYS_CHOWN:
		args := syscallabi.ParseChownArgs(regs)
		filename, err := readCString(tid, args.Filename)
		if err != nil {
			return blockSyscall(tid, regs, logger, fmt.Errorf("failed to read filename: %w", err))
		}
		logger.Infof(tid, "chown(%q, %d, %d)", filename, args.Owner, args.Group)
		return simulateFchownat(tid, regs, logger, unix.AT_FDCWD, filename, args.Owner, args.Group, unix.AT_SYMLINK_FOLLOW)

	case unix.SYS_LCHOWN:
		args := syscallabi.ParseLchownArgs(regs)
		filename, err := readCString(tid, args.Filename)
		if err != nil {
			return blockSyscall(tid, regs, logger, fmt.Errorf("failed to read filename: %w", err))
		}
		logger.Infof(tid, "lchown(%q, %d, %d)", filename, args.Owner, args.Group)
		return simulateFchownat(tid, regs, logger, unix.AT_FDCWD, filename, args.Owner, args.Group, unix.AT_SYMLINK_NOFOLLOW)

	case unix.SYS_FCHOWN:
		args := syscallabi.ParseFchownArgs(regs)
		logger.Infof(tid, "fchown(%d, %d, %d)", args.Fd, args.Owner, args.Group)
		return simulateFchownat(tid, regs, logger, args.Fd, "", args.Owner, args.Group, unix.AT_EMPTY_PATH)

	case unix.SYS_FCHOWNAT:
		args := syscallabi.ParseFchownatArgs(regs)
		filename, err := readCString(tid, args.Filename)
		if err != nil {
			return blockSyscall(tid, regs, logger, fmt.Errorf("failed to read filename: %w", err))
		}
		logger.Infof(tid, "fchownat(%d, %q, %d, %d, %#x)", args.Dfd, filename, args.User, args.Group, args.Flag)
		return simulateFchownat(tid, regs, logger, args.Dfd, filename, args.User, args.Group, args.Flag)

	default:
		return nil
	}
}
