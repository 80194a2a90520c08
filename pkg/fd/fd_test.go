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

package fd

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func tempFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestCloseIdempotent(t *testing.T) {
	f, err := Open(tempFile(t), unix.O_RDONLY|unix.O_CLOEXEC)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestProcPath(t *testing.T) {
	path := tempFile(t)
	f, err := Open(path, unix.O_PATH|unix.O_CLOEXEC)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	var viaProc, direct unix.Stat_t
	if err := unix.Stat(f.ProcPath(), &viaProc); err != nil {
		t.Fatalf("Stat(%q): %v", f.ProcPath(), err)
	}
	if err := unix.Stat(path, &direct); err != nil {
		t.Fatalf("Stat(%q): %v", path, err)
	}
	if viaProc.Ino != direct.Ino || viaProc.Dev != direct.Dev {
		t.Errorf("ProcPath resolves to (dev %d, ino %d), want (dev %d, ino %d)",
			viaProc.Dev, viaProc.Ino, direct.Dev, direct.Ino)
	}
}
