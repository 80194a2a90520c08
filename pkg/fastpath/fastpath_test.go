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

package fastpath

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func tempFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestFstatatMatchesLibc(t *testing.T) {
	path := tempFile(t)

	var got, want unix.Stat_t
	if err := Fstatat(unix.AT_FDCWD, path, &got, 0); err != nil {
		t.Fatalf("Fstatat: %v", err)
	}
	if err := unix.Stat(path, &want); err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if got.Dev != want.Dev || got.Ino != want.Ino || got.Uid != want.Uid || got.Gid != want.Gid || got.Size != want.Size {
		t.Errorf("Fstatat = {dev %d ino %d uid %d gid %d size %d}, want {dev %d ino %d uid %d gid %d size %d}",
			got.Dev, got.Ino, got.Uid, got.Gid, got.Size,
			want.Dev, want.Ino, want.Uid, want.Gid, want.Size)
	}
}

func TestFstatatEmptyPath(t *testing.T) {
	path := tempFile(t)
	f, err := unix.Open(path, unix.O_PATH|unix.O_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer unix.Close(f)

	var got unix.Stat_t
	if err := Fstatat(f, "", &got, unix.AT_EMPTY_PATH); err != nil {
		t.Fatalf("Fstatat(fd, \"\", AT_EMPTY_PATH): %v", err)
	}
	if got.Uid != uint32(os.Getuid()) {
		t.Errorf("uid = %d, want %d", got.Uid, os.Getuid())
	}
}

func TestFstatatMissing(t *testing.T) {
	err := Fstatat(unix.AT_FDCWD, filepath.Join(t.TempDir(), "missing"), new(unix.Stat_t), 0)
	if !errors.Is(err, unix.ENOENT) {
		t.Errorf("Fstatat(missing) = %v, want ENOENT", err)
	}
}

func TestStatxMatchesLibc(t *testing.T) {
	path := tempFile(t)

	var got, want unix.Statx_t
	if err := Statx(unix.AT_FDCWD, path, 0, unix.STATX_BASIC_STATS, &got); err != nil {
		t.Fatalf("Statx: %v", err)
	}
	if err := unix.Statx(unix.AT_FDCWD, path, 0, unix.STATX_BASIC_STATS, &want); err != nil {
		t.Fatalf("unix.Statx: %v", err)
	}
	if got.Ino != want.Ino || got.Uid != want.Uid || got.Gid != want.Gid || got.Size != want.Size {
		t.Errorf("Statx = {ino %d uid %d gid %d size %d}, want {ino %d uid %d gid %d size %d}",
			got.Ino, got.Uid, got.Gid, got.Size, want.Ino, want.Uid, want.Gid, want.Size)
	}
}

func TestFchownatUpdatesCtime(t *testing.T) {
	path := tempFile(t)

	var before unix.Stat_t
	if err := unix.Stat(path, &before); err != nil {
		t.Fatalf("Stat: %v", err)
	}

	// Filesystems may have coarse ctime granularity.
	time.Sleep(20 * time.Millisecond)

	// Chowning to our own uid/gid is permitted without privilege.
	if err := Fchownat(unix.AT_FDCWD, path, os.Getuid(), os.Getgid(), 0); err != nil {
		t.Fatalf("Fchownat: %v", err)
	}

	var after unix.Stat_t
	if err := unix.Stat(path, &after); err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if after.Ctim == before.Ctim {
		t.Errorf("ctime unchanged by Fchownat: %v", after.Ctim)
	}
}

func TestFchownatNoChangeValues(t *testing.T) {
	path := tempFile(t)
	if err := Fchownat(unix.AT_FDCWD, path, -1, -1, 0); err != nil {
		t.Fatalf("Fchownat(-1, -1): %v", err)
	}
}
