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

// Package syscallabi decodes syscall arguments from the amd64 syscall
// calling convention: rdi, rsi, rdx, r10, r8, r9, with the syscall number in
// orig_rax. See syscall(2).
package syscallabi

import (
	"fmt"

	"golang.org/x/sys/unix"

	"fakefs.dev/fakefs/pkg/ptracearch"
)

// StatArgs contains arguments to stat(2).
type StatArgs struct {
	Filename uintptr
	Statbuf  uintptr
}

// LstatArgs contains arguments to lstat(2).
type LstatArgs struct {
	Filename uintptr
	Statbuf  uintptr
}

// FstatArgs contains arguments to fstat(2).
type FstatArgs struct {
	Fd      int
	Statbuf uintptr
}

// NewfstatatArgs contains arguments to newfstatat(2).
type NewfstatatArgs struct {
	Dfd      int
	Filename uintptr
	Statbuf  uintptr
	Flag     int
}

// StatxArgs contains arguments to statx(2).
type StatxArgs struct {
	Dfd      int
	Filename uintptr
	Flags    int
	Mask     int
	Buffer   uintptr
}

// ChownArgs contains arguments to chown(2).
type ChownArgs struct {
	Filename uintptr
	Owner    int
	Group    int
}

// LchownArgs contains arguments to lchown(2).
type LchownArgs struct {
	Filename uintptr
	Owner    int
	Group    int
}

// FchownArgs contains arguments to fchown(2).
type FchownArgs struct {
	Fd    int
	Owner int
	Group int
}

// FchownatArgs contains arguments to fchownat(2).
type FchownatArgs struct {
	Dfd      int
	Filename uintptr
	User     int
	Group    int
	Flag     int
}

// ListxattrArgs contains arguments to listxattr(2) and llistxattr(2).
type ListxattrArgs struct {
	Pathname uintptr
	List     uintptr
	Size     int
}

// FlistxattrArgs contains arguments to flistxattr(2).
type FlistxattrArgs struct {
	Fd   int
	List uintptr
	Size int
}

func ParseStatArgs(regs *ptracearch.Regs) StatArgs {
	return StatArgs{uintptr(regs.Rdi), uintptr(regs.Rsi)}
}

func ParseLstatArgs(regs *ptracearch.Regs) LstatArgs {
	return LstatArgs{uintptr(regs.Rdi), uintptr(regs.Rsi)}
}

func ParseFstatArgs(regs *ptracearch.Regs) FstatArgs {
	return FstatArgs{int(int32(regs.Rdi)), uintptr(regs.Rsi)}
}

func ParseNewfstatatArgs(regs *ptracearch.Regs) NewfstatatArgs {
	return NewfstatatArgs{int(int32(regs.Rdi)), uintptr(regs.Rsi), uintptr(regs.Rdx), int(int32(regs.R10))}
}

func ParseStatxArgs(regs *ptracearch.Regs) StatxArgs {
	return StatxArgs{int(int32(regs.Rdi)), uintptr(regs.Rsi), int(int32(regs.Rdx)), int(int32(regs.R10)), uintptr(regs.R8)}
}

func ParseChownArgs(regs *ptracearch.Regs) ChownArgs {
	return ChownArgs{uintptr(regs.Rdi), int(int32(regs.Rsi)), int(int32(regs.Rdx))}
}

func ParseLchownArgs(regs *ptracearch.Regs) LchownArgs {
	return LchownArgs{uintptr(regs.Rdi), int(int32(regs.Rsi)), int(int32(regs.Rdx))}
}

func ParseFchownArgs(regs *ptracearch.Regs) FchownArgs {
	return FchownArgs{int(int32(regs.Rdi)), int(int32(regs.Rsi)), int(int32(regs.Rdx))}
}

func ParseFchownatArgs(regs *ptracearch.Regs) FchownatArgs {
	return FchownatArgs{int(int32(regs.Rdi)), uintptr(regs.Rsi), int(int32(regs.Rdx)), int(int32(regs.R10)), int(int32(regs.R8))}
}

func ParseListxattrArgs(regs *ptracearch.Regs) ListxattrArgs {
	return ListxattrArgs{uintptr(regs.Rdi), uintptr(regs.Rsi), int(regs.Rdx)}
}

func ParseLlistxattrArgs(regs *ptracearch.Regs) ListxattrArgs {
	return ListxattrArgs{uintptr(regs.Rdi), uintptr(regs.Rsi), int(regs.Rdx)}
}

func ParseFlistxattrArgs(regs *ptracearch.Regs) FlistxattrArgs {
	return FlistxattrArgs{int(int32(regs.Rdi)), uintptr(regs.Rsi), int(regs.Rdx)}
}

var names = map[uint64]string{
	unix.SYS_STAT:       "stat",
	unix.SYS_LSTAT:      "lstat",
	unix.SYS_FSTAT:      "fstat",
	unix.SYS_NEWFSTATAT: "newfstatat",
	unix.SYS_STATX:      "statx",
	unix.SYS_CHOWN:      "chown",
	unix.SYS_LCHOWN:     "lchown",
	unix.SYS_FCHOWN:     "fchown",
	unix.SYS_FCHOWNAT:   "fchownat",
	unix.SYS_LISTXATTR:  "listxattr",
	unix.SYS_LLISTXATTR: "llistxattr",
	unix.SYS_FLISTXATTR: "flistxattr",
}

// Name returns a human-readable name for a syscall number, for diagnostics.
func Name(nr uint64) string {
	if name, ok := names[nr]; ok {
		return name
	}
	return fmt.Sprintf("syscall_%d", nr)
}
