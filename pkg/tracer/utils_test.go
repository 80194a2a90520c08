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
	"testing"

	"golang.org/x/sys/unix"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		ws   unix.WaitStatus
		want int
	}{
		{name: "exited 0", ws: 0x0000, want: 0},
		{name: "exited 3", ws: 0x0300, want: 3},
		{name: "killed by SIGKILL", ws: unix.WaitStatus(unix.SIGKILL), want: 128 + 9},
		{name: "killed by SIGTERM", ws: unix.WaitStatus(unix.SIGTERM), want: 128 + 15},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCode(tc.ws); got != tc.want {
				t.Errorf("exitCode(%#x) = %d, want %d", uint32(tc.ws), got, tc.want)
			}
		})
	}
}
