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

// Package exit propagates a specific process exit code through an error
// value. The tracer uses it to make the fakefs process exit with the same
// code as the command it ran.
package exit

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

// Code is an error value carrying an exit code.
type Code int

func (c Code) Error() string {
	return fmt.Sprintf("exit code %d", int(c))
}

// Status converts an error into a subcommands exit status. A nil error is
// success; a Code is passed through; anything else is reported on stderr and
// mapped to a failure status.
func Status(err error) subcommands.ExitStatus {
	if err == nil {
		return subcommands.ExitSuccess
	}
	var code Code
	if errors.As(err, &code) {
		return subcommands.ExitStatus(int(code))
	}
	fmt.Fprintf(os.Stderr, "fakefs: %v\n", err)
	return subcommands.ExitFailure
}
