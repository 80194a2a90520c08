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

// Package fd provides an owned file descriptor type with strict close
// semantics.
//
// Probing and emulation code opens many short-lived O_PATH descriptors; FD
// makes the acquire/release discipline explicit and safe to defer.
package fd

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// FD owns a host file descriptor. The zero value is not usable; construct
// with New, Open or Openat.
type FD struct {
	// raw is accessed atomically so concurrent Close calls swap it out once.
	raw int64
}

// New creates a new FD that owns the given descriptor.
func New(raw int) *FD {
	return &FD{raw: int64(raw)}
}

// Open opens path with unix.Open and returns an owned FD.
func Open(path string, oflags int) (*FD, error) {
	raw, err := unix.Open(path, oflags, 0)
	if err != nil {
		return nil, err
	}
	return New(raw), nil
}

// Openat opens path relative to dirfd with unix.Openat and returns an owned
// FD.
func Openat(dirfd int, path string, oflags int) (*FD, error) {
	raw, err := unix.Openat(dirfd, path, oflags, 0)
	if err != nil {
		return nil, err
	}
	return New(raw), nil
}

// FD returns the raw descriptor. The FD retains ownership.
func (f *FD) FD() int {
	return int(atomic.LoadInt64(&f.raw))
}

// ProcSelfFD returns the /proc/self/fd path referring to the given raw
// descriptor. Several xattr syscalls reject O_PATH descriptors, so callers
// reach the underlying file through /proc instead.
func ProcSelfFD(raw int) string {
	return fmt.Sprintf("/proc/self/fd/%d", raw)
}

// ProcPath returns the /proc/self/fd path referring to this descriptor.
func (f *FD) ProcPath() string {
	return ProcSelfFD(f.FD())
}

// Close closes the descriptor. It is idempotent: only the first call closes.
func (f *FD) Close() error {
	raw := atomic.SwapInt64(&f.raw, -1)
	if raw < 0 {
		return nil
	}
	return unix.Close(int(raw))
}
