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

// Package tracer runs a command under ptrace and routes its seccomp-trapped
// syscalls to a hook for emulation.
package tracer

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"fakefs.dev/fakefs/pkg/exit"
	"fakefs.dev/fakefs/pkg/log"
	"fakefs.dev/fakefs/pkg/ptracearch"
)

// Hook inspects a syscall-entry-stop. A non-nil return means the syscall
// was emulated; the returned function runs at the matching
// syscall-exit-stop to install the result.
type Hook interface {
	OnSyscall(tid int, regs *ptracearch.Regs, logger *log.Logger) func(regs *ptracearch.Regs)
}

// startTracee re-executes this binary in tracee mode and waits for it to
// stop itself, then seizes it and lets it continue into the target command.
func startTracee(args []string) (pid int, err error) {
	// Re-resolve our own executable instead of trusting os.Args[0]; callers
	// are known to rewrite argv[0].
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(exe, append([]string{"tracee", "--"}, args...)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return 0, err
	}

	pid = cmd.Process.Pid

	// Wait for the tracee's self-delivered SIGSTOP.
	for {
		var ws unix.WaitStatus
		if _, err := unix.Wait4(pid, &ws, unix.WUNTRACED, nil); err != nil {
			return 0, fmt.Errorf("failed to wait for tracee %d to stop initially: %w", pid, err)
		}
		if !ws.Stopped() {
			return 0, fmt.Errorf("tracee exited prematurely: exit code %d", exitCode(ws))
		}
		if ws.StopSignal() == unix.SIGSTOP {
			break
		}
	}

	const options = unix.PTRACE_O_EXITKILL |
		unix.PTRACE_O_TRACESYSGOOD |
		unix.PTRACE_O_TRACEEXEC |
		unix.PTRACE_O_TRACECLONE |
		unix.PTRACE_O_TRACEFORK |
		unix.PTRACE_O_TRACEVFORK |
		unix.PTRACE_O_TRACESECCOMP
	if err := ptraceSeize(pid, options); err != nil {
		return 0, fmt.Errorf("failed to initialize tracee: ptrace(PTRACE_SEIZE, %d): %w", pid, err)
	}

	if err := unix.Kill(pid, unix.SIGCONT); err != nil {
		return 0, fmt.Errorf("failed to start tracee: kill(%d, SIGCONT): %w", pid, err)
	}

	return pid, nil
}

// waitNextStop waits for the next ptrace-stop of any traced thread. When
// the last thread of the root process exits, it returns an exit.Code error
// carrying the root's exit code.
func waitNextStop(rootPid int, index *threadStateIndex, logger *log.Logger) (*threadState, unix.WaitStatus, error) {
	for {
		var ws unix.WaitStatus
		tid, err := unix.Wait4(-1, &ws, unix.WALL, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("wait4: %w", err)
		}

		thread := index.GetByTid(tid)
		if thread == nil {
			// A thread we have not seen a clone event for yet.
			pid, err := lookupPidByTid(tid)
			if err != nil {
				continue
			}
			thread = &threadState{tid: tid, pid: pid}
			index.Put(thread)
			logger.Infof(tid, "* thread born")
		}

		if ws.Exited() || ws.Signaled() {
			index.Remove(thread)
			logger.Infof(tid, "* thread exited (%d)", exitCode(ws))

			if thread.pid == rootPid && len(index.GetByPid(rootPid)) == 0 {
				return nil, 0, exit.Code(exitCode(ws))
			}
			continue
		}

		if !ws.Stopped() {
			return nil, 0, fmt.Errorf("wait4: tid %d: unknown wait status 0x%x", tid, ws)
		}

		return thread, ws, nil
	}
}

type continueAction int

const (
	continueActionInject continueAction = iota
	continueActionIgnore
	continueActionSyscall
	continueActionListen
)

// processStop classifies a ptrace-stop and runs the hook on seccomp stops.
func processStop(thread *threadState, ws unix.WaitStatus, hook Hook, index *threadStateIndex, logger *log.Logger) (continueAction, error) {
	stopSignal := ws.StopSignal()

	if stopSignal == unix.SIGTRAP|0x80 {
		// syscall-exit-stop.
		if thread.syscallExitHook == nil {
			return continueActionIgnore, errors.New("unexpected syscall-exit-stop")
		}

		var regs ptracearch.Regs
		if err := ptracearch.GetRegs(thread.tid, &regs); err != nil {
			// The thread may be dying; nothing to finish.
			return continueActionIgnore, nil
		}

		thread.syscallExitHook(&regs)
		thread.syscallExitHook = nil
		return continueActionIgnore, nil
	}

	if trapCause := ws.TrapCause(); trapCause > 0 {
		switch trapCause {
		case unix.PTRACE_EVENT_SECCOMP:
			// syscall-entry-stop.
			var regs ptracearch.Regs
			if err := ptracearch.GetRegs(thread.tid, &regs); err != nil {
				return continueActionIgnore, nil
			}

			thread.syscallExitHook = hook.OnSyscall(thread.tid, &regs, logger)
			if thread.syscallExitHook == nil {
				return continueActionIgnore, nil
			}
			logger.RecordIntercept()
			return continueActionSyscall, nil

		case unix.PTRACE_EVENT_CLONE, unix.PTRACE_EVENT_FORK, unix.PTRACE_EVENT_VFORK:
			// A new thread was born. Its own PTRACE_EVENT_STOP arrives
			// separately and in no guaranteed order relative to this event,
			// so registration happens in waitNextStop instead.
			return continueActionIgnore, nil

		case unix.PTRACE_EVENT_EXEC:
			// execve(2) implicitly kills every thread but the leader.
			if thread.tid != thread.pid {
				return continueActionIgnore, fmt.Errorf("PTRACE_EVENT_EXEC: expected tid (%d) == pid (%d)", thread.tid, thread.pid)
			}
			logger.Infof(thread.tid, "* exec")

			for _, sibling := range index.GetByPid(thread.pid) {
				if sibling.tid != thread.tid {
					index.Remove(sibling)
					logger.Infof(sibling.tid, "* thread gone (exec)")
				}
			}
			return continueActionIgnore, nil

		case unix.PTRACE_EVENT_STOP:
			if stopSignal == unix.SIGTRAP {
				// Initial stop of clone/fork/vfork children.
				return continueActionIgnore, nil
			}
			// group-stop.
			logger.Infof(thread.tid, "* group-stop (%s)", unix.SignalName(stopSignal))
			return continueActionListen, nil

		default:
			return continueActionIgnore, fmt.Errorf("unknown trap cause %d", trapCause)
		}
	}

	// signal-delivery-stop.
	logger.Infof(thread.tid, "* %s", unix.SignalName(stopSignal))
	return continueActionInject, nil
}

// Run executes args under tracing until the root process exits. The error
// is an exit.Code carrying the root's exit code on a normal finish.
func Run(args []string, hook Hook, logger *log.Logger) error {
	rootPid, err := startTracee(args)
	if err != nil {
		return err
	}

	index := newThreadStateIndex()

	for {
		thread, ws, err := waitNextStop(rootPid, index, logger)
		if err != nil {
			var code exit.Code
			if errors.As(err, &code) {
				logger.PrintStats()
			}
			return err
		}

		action, err := processStop(thread, ws, hook, index, logger)
		if err != nil {
			return err
		}

		// Resume errors are ignored: the thread may have been killed between
		// the stop and the resume.
		switch action {
		case continueActionInject:
			_ = unix.PtraceCont(thread.tid, int(ws.StopSignal()))

		case continueActionIgnore:
			_ = unix.PtraceCont(thread.tid, 0)

		case continueActionSyscall:
			_ = unix.PtraceSyscall(thread.tid, 0)

		case continueActionListen:
			_ = ptraceListen(thread.tid)

		default:
			return fmt.Errorf("unknown stop action %d", action)
		}
	}
}
