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

// Package tracee is the half of fakefs that runs inside the traced process:
// it installs the seccomp filter, stops itself so the tracer can attach, and
// execs the target command.
package tracee

import (
	"fmt"
	"os"
	"os/exec"
	"unsafe"

	seccomp "github.com/elastic/go-seccomp-bpf"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"fakefs.dev/fakefs/pkg/hooks"
)

func installSeccompFilter() error {
	emu := hooks.New()
	program := buildFilter(emu.SyscallList(), emu.PassKeySyscalls())

	rawProgram, err := bpf.Assemble(program)
	if err != nil {
		return err
	}

	filters := make([]unix.SockFilter, 0, len(rawProgram))
	for _, inst := range rawProgram {
		filters = append(filters, unix.SockFilter{
			Code: inst.Op,
			Jt:   inst.Jt,
			Jf:   inst.Jf,
			K:    inst.K,
		})
	}
	filterProgram := &unix.SockFprog{
		Len:    uint16(len(filters)),
		Filter: &filters[0],
	}

	if err := seccomp.SetNoNewPrivs(); err != nil {
		return fmt.Errorf("prctl(PR_SET_NO_NEW_PRIVS): %w", err)
	}

	// TSYNC applies the filter to every thread of the Go runtime, not just
	// the calling one.
	const seccompSetModeFilter = 0x1
	if _, _, errno := unix.Syscall(unix.SYS_SECCOMP, seccompSetModeFilter, uintptr(seccomp.FilterFlagTSync), uintptr(unsafe.Pointer(filterProgram))); errno != 0 {
		return fmt.Errorf("seccomp(SECCOMP_SET_MODE_FILTER): %w", errno)
	}

	return nil
}

// Run installs the syscall filter and execs args. It only returns on error.
func Run(args []string) error {
	if err := installSeccompFilter(); err != nil {
		return err
	}

	// Stop so the parent can attach with PTRACE_SEIZE before the target
	// command starts issuing syscalls. PTRACE_TRACEME is avoided on purpose;
	// SEIZE has saner stop semantics.
	pid := unix.Getpid()
	unix.Kill(pid, unix.SIGSTOP)

	path, err := exec.LookPath(args[0])
	if err != nil {
		return err
	}

	return unix.Exec(path, args, os.Environ())
}
