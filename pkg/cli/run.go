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

	"github.com/google/subcommands"

	"fakefs.dev/fakefs/pkg/exit"
	"fakefs.dev/fakefs/pkg/hooks"
	"fakefs.dev/fakefs/pkg/log"
	"fakefs.dev/fakefs/pkg/tracer"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	verbose bool

	// Accepted and ignored for command line compatibility with fakeroot.
	compatSave string
	compatLoad string
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "run a command with file ownership faked for unprivileged builds"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <command> [args...]

Runs the command under a ptrace/seccomp supervisor. chown calls made by the
command are recorded in per-file xattrs instead of being applied, and stat
calls report the recorded ownership back. The command's exit code is
propagated.

OPTIONS:
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.verbose, "verbose", false, "log every emulated syscall to stderr")
	f.StringVar(&r.compatSave, "s", "", "accepted for fakeroot compatibility (ignored)")
	f.StringVar(&r.compatLoad, "i", "", "accepted for fakeroot compatibility (ignored)")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	args := f.Args()
	if len(args) == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	logger := log.New(r.verbose, args)
	return exit.Status(tracer.Run(args, hooks.New(), logger))
}
