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

package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"fakefs.dev/fakefs/pkg/tracee"
)

// Tracee implements subcommands.Command for the internal "tracee" command.
// The tracer re-executes this binary with it; it is not meant to be invoked
// by hand.
type Tracee struct{}

// Name implements subcommands.Command.Name.
func (*Tracee) Name() string {
	return "tracee"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Tracee) Synopsis() string {
	return "internal: install the syscall filter and exec the target command"
}

// Usage implements subcommands.Command.Usage.
func (*Tracee) Usage() string {
	return `tracee -- <command> [args...]

Internal command used by "run". Installs the seccomp filter, stops itself so
the parent can attach, and execs the command.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Tracee) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Tracee) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	args := f.Args()
	if len(args) == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	// Only returns on error; on success the command replaces this process.
	err := tracee.Run(args)
	fmt.Fprintf(os.Stderr, "fakefs: tracee: %v\n", err)
	return subcommands.ExitFailure
}
