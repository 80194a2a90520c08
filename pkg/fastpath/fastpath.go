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

// Package fastpath issues metadata syscalls directly to the kernel, tagged
// with a pass key that tells the fakefs tracer to leave the result alone.
//
// The key rides in the sixth syscall argument slot, beyond what the public
// signatures of newfstatat(2), statx(2) and fchownat(2) use. The kernel
// ignores it; the tracer recognizes it and skips rewriting. It is a
// coordination handshake with the paired tracer, not a security boundary.
package fastpath

import (
	"golang.org/x/sys/unix"
)

// PassKey is the fixed constant smuggled into the sixth syscall argument.
// The tracer matches it against the same value; the two sides must agree.
const PassKey = 0x20221107

// passthroughSyscall6 invokes the raw syscall with all six native argument
// slots populated. Implemented in assembly. As a post-condition it zeroes the
// register that carried a6 before returning, so the pass key does not linger
// where unrelated code could observe or reuse it.
func passthroughSyscall6(trap, a1, a2, a3, a4, a5, a6 uintptr) (r1 uintptr, errno unix.Errno)
