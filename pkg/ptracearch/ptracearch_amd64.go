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

// Package ptracearch accesses tracee registers in the native register
// layout. Only amd64 is supported.
package ptracearch

import (
	"golang.org/x/sys/unix"
)

// Regs is the amd64 general-purpose register set as exposed by
// PTRACE_GETREGSET.
type Regs = unix.PtraceRegsAmd64

// GetRegs reads the register set of a stopped tracee thread.
func GetRegs(tid int, regs *Regs) error {
	return unix.PtraceGetRegsAmd64(tid, regs)
}

// SetRegs writes the register set of a stopped tracee thread.
func SetRegs(tid int, regs *Regs) error {
	return unix.PtraceSetRegsAmd64(tid, regs)
}
