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
	"sort"

	"fakefs.dev/fakefs/pkg/ptracearch"
)

// threadState is what the tracer remembers about one traced thread. A
// non-nil syscallExitHook means the thread is between a syscall-entry-stop
// we emulated and the matching syscall-exit-stop.
type threadState struct {
	tid             int
	pid             int
	syscallExitHook func(regs *ptracearch.Regs)
}

type threadStateIndex struct {
	threadByTid map[int]*threadState
	threadByPid map[int]map[int]*threadState
}

func newThreadStateIndex() *threadStateIndex {
	return &threadStateIndex{
		threadByTid: make(map[int]*threadState),
		threadByPid: make(map[int]map[int]*threadState),
	}
}

func (ti *threadStateIndex) GetByTid(tid int) *threadState {
	return ti.threadByTid[tid]
}

// GetByPid returns the threads of a process ordered by tid.
func (ti *threadStateIndex) GetByPid(pid int) []*threadState {
	var threads []*threadState
	for _, t := range ti.threadByPid[pid] {
		threads = append(threads, t)
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].tid < threads[j].tid
	})
	return threads
}

func (ti *threadStateIndex) Put(t *threadState) {
	ti.threadByTid[t.tid] = t
	if ti.threadByPid[t.pid] == nil {
		ti.threadByPid[t.pid] = make(map[int]*threadState)
	}
	ti.threadByPid[t.pid][t.tid] = t
}

func (ti *threadStateIndex) Remove(t *threadState) {
	delete(ti.threadByTid, t.tid)
	delete(ti.threadByPid[t.pid], t.tid)
	if len(ti.threadByPid[t.pid]) == 0 {
		delete(ti.threadByPid, t.pid)
	}
}
