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

package tracer

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// exitCode maps a wait status to the shell exit code convention: signaled
// processes report 128 plus the signal number.
func exitCode(ws unix.WaitStatus) int {
	if ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	if ws.Exited() {
		return ws.ExitStatus()
	}
	return 0
}

// ptraceSeize attaches to a stopped thread without the legacy side effects
// of PTRACE_ATTACH. x/sys/unix has no wrapper for it.
func ptraceSeize(tid int, options uint) error {
	if _, _, errno := unix.RawSyscall6(
		unix.SYS_PTRACE,
		unix.PTRACE_SEIZE,
		uintptr(tid),
		0,
		uintptr(options),
		0,
		0); errno != 0 {
		return errno
	}
	return nil
}

// ptraceListen resumes a group-stopped thread while keeping it stopped, so
// SIGCONT is still observable by the tracee.
func ptraceListen(tid int) error {
	if _, _, errno := unix.RawSyscall6(
		unix.SYS_PTRACE,
		unix.PTRACE_LISTEN,
		uintptr(tid),
		0,
		0,
		0,
		0); errno != 0 {
		return errno
	}
	return nil
}

// lookupPidByTid finds the thread group id of a thread from procfs. Needed
// when a new thread's first stop arrives before its clone event.
func lookupPidByTid(tid int) (pid int, err error) {
	path := fmt.Sprintf("/proc/%d/status", tid)
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok || key != "Tgid" {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return pid, nil
	}
	return 0, fmt.Errorf("failed to parse %s: tgid not found", path)
}
