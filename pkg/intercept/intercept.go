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

// Package intercept provides drop-in replacements for the stat, chown and
// chmod family of operations, for processes running under the fakefs tracer.
//
// Each operation decides between a fast path and a slow path. The fast path
// issues the real syscall directly, tagged so the tracer lets it through
// unmodified; it is taken only when the target provably has no ownership
// overlay. The slow path is the ordinary call chain, which the tracer
// observes and rewrites. Getting the decision wrong either leaks true
// ownership or makes every call pay tracer overhead.
//
// Configuration comes from the environment, read once on first use:
//
//	FAKEFS_VERBOSE       log every fast-path decision to stderr
//	FAKEFS_ABORT_ON_SLOW terminate instead of taking a slow path; used by
//	                     tests asserting that a workload is provably fast
package intercept

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"fakefs.dev/fakefs/pkg/fastpath"
	"fakefs.dev/fakefs/pkg/override"
)

// forwarders is the resolved table of true underlying implementations. The
// calls it forwards are the ones the tracer is expected to intercept. It is
// written exactly once, inside ensureInit, and read-only afterwards.
type forwarders struct {
	fstatat  func(dirfd int, path string, stat *unix.Stat_t, flags int) error
	statx    func(dirfd int, path string, flags int, mask int, statx *unix.Statx_t) error
	fchownat func(dirfd int, path string, uid int, gid int, flags int) error
	fchmodat func(dirfd int, path string, mode uint32, flags int) error
}

var (
	initOnce    sync.Once
	verbose     bool
	abortOnSlow bool
	fwd         forwarders
	log         *logrus.Logger
)

// ensureInit performs the one-time setup: resolve the forwarding table and
// read the environment toggles. Safe to call from any entry point, any
// thread.
func ensureInit() {
	initOnce.Do(func() {
		verbose = os.Getenv("FAKEFS_VERBOSE") != ""
		abortOnSlow = os.Getenv("FAKEFS_ABORT_ON_SLOW") != ""

		log = logrus.New()
		log.SetOutput(os.Stderr)
		log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		}

		fwd = forwarders{
			fstatat:  unix.Fstatat,
			statx:    unix.Statx,
			fchownat: unix.Fchownat,
			fchmodat: unix.Fchmodat,
		}
	})
}

func wrapFstatat(dirfd int, path string, stat *unix.Stat_t, flags int) error {
	if stat == nil {
		return unix.EFAULT
	}

	if override.HasNoOverride(dirfd, path, flags) {
		if verbose {
			log.WithField("tid", unix.Gettid()).Debugf("fast: fstatat(%d, %q, %#x)", dirfd, path, flags)
		}
		return fastpath.Fstatat(dirfd, path, stat, flags)
	}

	if abortOnSlow {
		log.WithField("tid", unix.Gettid()).Fatalf("abort-on-slow: fstatat(%d, %q, %#x)", dirfd, path, flags)
	}
	return fwd.fstatat(dirfd, path, stat, flags)
}

func wrapStatx(dirfd int, path string, flags int, mask int, statx *unix.Statx_t) error {
	if statx == nil {
		return unix.EFAULT
	}

	if override.HasNoOverride(dirfd, path, flags) {
		if verbose {
			log.WithField("tid", unix.Gettid()).Debugf("fast: statx(%d, %q, %#x, %#x)", dirfd, path, flags, mask)
		}
		return fastpath.Statx(dirfd, path, flags, mask, statx)
	}

	if abortOnSlow {
		log.WithField("tid", unix.Gettid()).Fatalf("abort-on-slow: statx(%d, %q, %#x, %#x)", dirfd, path, flags, mask)
	}
	return fwd.statx(dirfd, path, flags, mask, statx)
}

// matchesTrueOwnership reports whether the file's true ownership, read
// through the fast path so any overlay is ignored, equals uid:gid. A failed
// read counts as no match. Note that a "don't change" value of -1 never
// matches a real id, which is exactly the conservative behavior wanted.
func matchesTrueOwnership(dirfd int, path string, flags int, uid, gid int) bool {
	var stat unix.Stat_t
	if err := fastpath.Fstatat(dirfd, path, &stat, flags); err != nil {
		return false
	}
	return stat.Uid == uint32(uid) && stat.Gid == uint32(gid)
}

func wrapFchownat(dirfd int, path string, uid, gid, flags int) error {
	// A chown back to the file's true ownership means the overlay is no
	// longer needed: clear the marker and run the real chown through the
	// fast path so ctime still advances.
	if matchesTrueOwnership(dirfd, path, flags, uid, gid) {
		if override.Clear(dirfd, path, flags) {
			if verbose {
				log.WithField("tid", unix.Gettid()).Debugf("fast: fchownat(%d, %q, %d, %d, %#x)", dirfd, path, uid, gid, flags)
			}
			return fastpath.Fchownat(dirfd, path, uid, gid, flags)
		}
	}

	if abortOnSlow {
		log.WithField("tid", unix.Gettid()).Fatalf("abort-on-slow: fchownat(%d, %q, %d, %d, %#x)", dirfd, path, uid, gid, flags)
	}
	return fwd.fchownat(dirfd, path, uid, gid, flags)
}

// Stat replaces stat(2).
func Stat(path string, stat *unix.Stat_t) error {
	ensureInit()
	return wrapFstatat(unix.AT_FDCWD, path, stat, 0)
}

// Lstat replaces lstat(2).
func Lstat(path string, stat *unix.Stat_t) error {
	ensureInit()
	return wrapFstatat(unix.AT_FDCWD, path, stat, unix.AT_SYMLINK_NOFOLLOW)
}

// Fstat replaces fstat(2).
func Fstat(fd int, stat *unix.Stat_t) error {
	ensureInit()
	return wrapFstatat(fd, "", stat, unix.AT_EMPTY_PATH)
}

// Fstatat replaces fstatat(2).
func Fstatat(dirfd int, path string, stat *unix.Stat_t, flags int) error {
	ensureInit()
	return wrapFstatat(dirfd, path, stat, flags)
}

// Statx replaces statx(2).
func Statx(dirfd int, path string, flags int, mask int, statx *unix.Statx_t) error {
	ensureInit()
	return wrapStatx(dirfd, path, flags, mask, statx)
}

// Chown replaces chown(2).
func Chown(path string, uid, gid int) error {
	ensureInit()
	return wrapFchownat(unix.AT_FDCWD, path, uid, gid, 0)
}

// Lchown replaces lchown(2).
func Lchown(path string, uid, gid int) error {
	ensureInit()
	return wrapFchownat(unix.AT_FDCWD, path, uid, gid, unix.AT_SYMLINK_NOFOLLOW)
}

// Fchown replaces fchown(2).
func Fchown(fd int, uid, gid int) error {
	ensureInit()
	return wrapFchownat(fd, "", uid, gid, unix.AT_EMPTY_PATH)
}

// Fchownat replaces fchownat(2).
func Fchownat(dirfd int, path string, uid, gid, flags int) error {
	ensureInit()
	return wrapFchownat(dirfd, path, uid, gid, flags)
}

// Fchmodat replaces fchmodat(2). Mode is never faked, so there is no marker
// consultation and no fast-path decision here.
//
// AT_SYMLINK_NOFOLLOW is rejected outright with ENOTSUP: honoring it needs a
// metadata probe that is itself subject to the slow-path overhead this
// library exists to avoid, and callers such as GNU tar already fall back to
// retrying without the flag for compatibility with old libc behavior.
func Fchmodat(dirfd int, path string, mode uint32, flags int) error {
	ensureInit()
	if flags&unix.AT_SYMLINK_NOFOLLOW != 0 {
		return unix.ENOTSUP
	}
	return fwd.fchmodat(dirfd, path, mode, flags)
}
