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

package fsop

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"fakefs.dev/fakefs/pkg/override"
)

// openPath opens the file with O_PATH, mirroring how the tracer addresses
// tracee files.
func openPath(t *testing.T, path string) int {
	t.Helper()
	raw, err := unix.Open(path, unix.O_PATH|unix.O_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("Open(%q, O_PATH): %v", path, err)
	}
	t.Cleanup(func() { unix.Close(raw) })
	return raw
}

func createFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	requireXattrs(t, path)
	return path
}

func requireXattrs(t *testing.T, path string) {
	t.Helper()
	if err := unix.Setxattr(path, "user.fakefs.probe", nil, 0); err != nil {
		if errors.Is(err, unix.ENOTSUP) {
			t.Skipf("user xattrs not supported on %s", filepath.Dir(path))
		}
		t.Fatalf("Setxattr: %v", err)
	}
	if err := unix.Removexattr(path, "user.fakefs.probe"); err != nil {
		t.Fatalf("Removexattr: %v", err)
	}
}

func TestFchownThenFstat(t *testing.T) {
	path := createFile(t)
	raw := openPath(t, path)

	if err := Fchown(raw, 123, 234); err != nil {
		t.Fatalf("Fchown: %v", err)
	}

	var stat unix.Stat_t
	overridden, err := Fstat(raw, &stat)
	if err != nil {
		t.Fatalf("Fstat: %v", err)
	}
	if !overridden {
		t.Fatalf("Fstat reported no override after Fchown")
	}
	if stat.Uid != 123 || stat.Gid != 234 {
		t.Errorf("ownership = %d:%d, want 123:234", stat.Uid, stat.Gid)
	}

	// The real file is untouched.
	var real unix.Stat_t
	if err := unix.Stat(path, &real); err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if real.Uid != uint32(os.Getuid()) {
		t.Errorf("real uid = %d, want %d", real.Uid, os.Getuid())
	}
}

func TestFchownKeepsUnsetIDs(t *testing.T) {
	path := createFile(t)
	raw := openPath(t, path)

	if err := Fchown(raw, 123, 234); err != nil {
		t.Fatalf("Fchown: %v", err)
	}
	// chgrp only: uid -1 must keep the overridden 123.
	if err := Fchown(raw, -1, 345); err != nil {
		t.Fatalf("Fchown(-1, 345): %v", err)
	}

	var stat unix.Stat_t
	if _, err := Fstat(raw, &stat); err != nil {
		t.Fatalf("Fstat: %v", err)
	}
	if stat.Uid != 123 || stat.Gid != 345 {
		t.Errorf("ownership = %d:%d, want 123:345", stat.Uid, stat.Gid)
	}
}

func TestFstatNoOverride(t *testing.T) {
	path := createFile(t)
	raw := openPath(t, path)

	var stat unix.Stat_t
	overridden, err := Fstat(raw, &stat)
	if err != nil {
		t.Fatalf("Fstat: %v", err)
	}
	if overridden {
		t.Errorf("Fstat reported an override on a plain file")
	}
	if stat.Uid != uint32(os.Getuid()) {
		t.Errorf("uid = %d, want %d", stat.Uid, os.Getuid())
	}
}

func TestFstatxOverride(t *testing.T) {
	path := createFile(t)
	raw := openPath(t, path)

	if err := Fchown(raw, 123, 234); err != nil {
		t.Fatalf("Fchown: %v", err)
	}

	var statx unix.Statx_t
	overridden, err := Fstatx(raw, unix.STATX_BASIC_STATS, &statx)
	if err != nil {
		t.Fatalf("Fstatx: %v", err)
	}
	if !overridden {
		t.Fatalf("Fstatx reported no override")
	}
	if statx.Uid != 123 || statx.Gid != 234 {
		t.Errorf("ownership = %d:%d, want 123:234", statx.Uid, statx.Gid)
	}
}

func TestFchownNonRegularFile(t *testing.T) {
	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink("target", link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	raw, err := unix.Open(link, unix.O_PATH|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("Open(O_PATH|O_NOFOLLOW): %v", err)
	}
	defer unix.Close(raw)

	// Changing ownership of a symlink cannot be recorded.
	if err := Fchown(raw, 123, 234); !errors.Is(err, unix.EPERM) {
		t.Errorf("Fchown(symlink, 123, 234) = %v, want EPERM", err)
	}
	// A no-op change succeeds.
	var stat unix.Stat_t
	if _, err := Fstat(raw, &stat); err != nil {
		t.Fatalf("Fstat: %v", err)
	}
	if err := Fchown(raw, int(stat.Uid), int(stat.Gid)); err != nil {
		t.Errorf("Fchown(symlink, current ids) = %v, want nil", err)
	}
}

func TestListxattrHidesMarker(t *testing.T) {
	path := createFile(t)
	if err := unix.Setxattr(path, "user.other", []byte("v"), 0); err != nil {
		t.Fatalf("Setxattr: %v", err)
	}
	if err := unix.Setxattr(path, override.Attr, []byte("1:2"), 0); err != nil {
		t.Fatalf("Setxattr: %v", err)
	}

	data, size, err := Listxattr(path, 4096, true)
	if err != nil {
		t.Fatalf("Listxattr: %v", err)
	}
	if bytes.Contains(data, []byte(override.Attr)) {
		t.Errorf("marker visible in xattr list %q", data)
	}
	if !bytes.Contains(data, []byte("user.other\x00")) {
		t.Errorf("user.other missing from xattr list %q", data)
	}
	if size != len(data) {
		t.Errorf("size = %d, want %d", size, len(data))
	}
}

func TestListxattrSizeQuery(t *testing.T) {
	path := createFile(t)
	if err := unix.Setxattr(path, "user.other", []byte("v"), 0); err != nil {
		t.Fatalf("Setxattr: %v", err)
	}

	_, want, err := Listxattr(path, 4096, true)
	if err != nil {
		t.Fatalf("Listxattr: %v", err)
	}
	data, size, err := Listxattr(path, 0, true)
	if err != nil {
		t.Fatalf("Listxattr(size=0): %v", err)
	}
	if data != nil || size != want {
		t.Errorf("size query = (%q, %d), want (nil, %d)", data, size, want)
	}

	if _, _, err := Listxattr(path, 1, true); !errors.Is(err, unix.ERANGE) {
		t.Errorf("Listxattr(size=1) = %v, want ERANGE", err)
	}
}

func TestFlistxattr(t *testing.T) {
	path := createFile(t)
	if err := unix.Setxattr(path, override.Attr, []byte("1:2"), 0); err != nil {
		t.Fatalf("Setxattr: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	data, _, err := Flistxattr(int(f.Fd()), 4096)
	if err != nil {
		t.Fatalf("Flistxattr: %v", err)
	}
	if bytes.Contains(data, []byte(override.Attr)) {
		t.Errorf("marker visible in xattr list %q", data)
	}
}

func TestHasOverride(t *testing.T) {
	path := createFile(t)
	if HasOverride(path, true) {
		t.Errorf("HasOverride = true for plain file")
	}
	if err := unix.Setxattr(path, override.Attr, []byte("1:2"), 0); err != nil {
		t.Fatalf("Setxattr: %v", err)
	}
	if !HasOverride(path, true) {
		t.Errorf("HasOverride = false for marked file")
	}
	if HasOverride(filepath.Join(t.TempDir(), "missing"), true) {
		t.Errorf("HasOverride = true for missing file")
	}
}

func TestParseOwnerRecord(t *testing.T) {
	tests := []struct {
		in      string
		uid     int
		gid     int
		wantErr bool
	}{
		{in: "123:234", uid: 123, gid: 234},
		{in: "0:0", uid: 0, gid: 0},
		{in: "123", wantErr: true},
		{in: "a:b", wantErr: true},
		{in: "123:", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		rec, err := parseOwnerRecord([]byte(tc.in))
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseOwnerRecord(%q) = %+v, want error", tc.in, rec)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseOwnerRecord(%q): %v", tc.in, err)
			continue
		}
		if rec.UID != tc.uid || rec.GID != tc.gid {
			t.Errorf("parseOwnerRecord(%q) = %d:%d, want %d:%d", tc.in, rec.UID, rec.GID, tc.uid, tc.gid)
		}
	}
}

func TestOwnerRecordRoundTrip(t *testing.T) {
	rec := &ownerRecord{UID: 4321, GID: 1}
	got, err := parseOwnerRecord(rec.Marshal())
	if err != nil {
		t.Fatalf("parseOwnerRecord: %v", err)
	}
	if *got != *rec {
		t.Errorf("round trip = %+v, want %+v", got, rec)
	}
}
