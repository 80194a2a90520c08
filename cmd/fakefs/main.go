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

// Binary fakefs runs a command with file ownership faked through per-file
// xattr records, letting unprivileged builds pretend to chown.
package main

import (
	"os"
	"runtime"

	"fakefs.dev/fakefs/pkg/cli"
)

func main() {
	// ptrace requires the tracing syscalls to come from one thread.
	runtime.LockOSThread()

	os.Exit(int(cli.Main()))
}
