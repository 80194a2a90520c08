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

package tracee

import (
	seccomp "github.com/elastic/go-seccomp-bpf"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"fakefs.dev/fakefs/pkg/fastpath"
)

// struct seccomp_data field offsets. Loads are 32-bit, so 64-bit argument
// slots are read as low/high word pairs.
const (
	dataOffsetNR     = 0
	dataOffsetArch   = 4
	dataOffsetArg5Lo = 16 + 8*5
	dataOffsetArg5Hi = dataOffsetArg5Lo + 4
)

// buildFilter returns the BPF program installed by the tracee half before
// exec. Listed syscalls trap to the tracer with SECCOMP_RET_TRACE;
// everything else is allowed. Syscalls in keyChecked additionally compare
// their 6th argument slot against the cooperation key and are allowed
// straight through on a match, so the tracer's own probes (and fast-path
// callers) never pay a ptrace round trip.
func buildFilter(syscalls, keyChecked []int) []bpf.Instruction {
	keySet := make(map[int]bool, len(keyChecked))
	for _, nr := range keyChecked {
		keySet[nr] = true
	}

	var plain []int
	for _, nr := range syscalls {
		if !keySet[nr] {
			plain = append(plain, nr)
		}
	}

	allow := bpf.RetConstant{Val: uint32(seccomp.ActionAllow)}
	trace := bpf.RetConstant{Val: uint32(seccomp.ActionTrace)}

	program := []bpf.Instruction{
		// Allow everything on a foreign architecture; the syscall numbers
		// below are only meaningful for the native one.
		bpf.LoadAbsolute{Off: dataOffsetArch, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.AUDIT_ARCH_X86_64, SkipTrue: 1},
		allow,
		bpf.LoadAbsolute{Off: dataOffsetNR, Size: 4},
	}

	// Key-checked syscalls get a self-contained block: on a syscall number
	// match, inspect the 6th argument slot and either allow (key present) or
	// trace (key absent). A number mismatch falls through to the next block
	// with the syscall number still loaded.
	for _, nr := range keyChecked {
		program = append(program,
			bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(nr), SkipFalse: 6},
			bpf.LoadAbsolute{Off: dataOffsetArg5Lo, Size: 4},
			bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: uint32(fastpath.PassKey), SkipTrue: 3},
			bpf.LoadAbsolute{Off: dataOffsetArg5Hi, Size: 4},
			bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: 0, SkipTrue: 1},
			allow,
			trace,
		)
	}

	for i, nr := range plain {
		program = append(program, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(nr), SkipTrue: uint8(len(plain) - i)})
	}
	program = append(program, allow, trace)
	return program
}
