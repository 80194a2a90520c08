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

// Package log provides the tracer's diagnostic logger: per-thread tagged
// messages on stderr and a summary of intercepted syscalls.
package log

import (
	"io"
	"os"

	"github.com/alessio/shellescape"
	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus logger with the tid tagging and intercept counting
// the tracer wants. Per-syscall messages are Debug level and only emitted in
// verbose mode.
//
// The intercept counter is not synchronized; the tracer is single-threaded
// by construction (one wait loop).
type Logger struct {
	inner      *logrus.Logger
	args       []string
	intercepts uint64
}

// New creates a Logger for a tracer running the given command line.
func New(verbose bool, args []string) *Logger {
	inner := logrus.New()
	inner.SetOutput(os.Stderr)
	inner.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if verbose {
		inner.SetLevel(logrus.DebugLevel)
	}
	return &Logger{inner: inner, args: args}
}

// SetOutput redirects the log stream, primarily for tests.
func (l *Logger) SetOutput(w io.Writer) {
	l.inner.SetOutput(w)
}

// Infof logs a per-thread diagnostic message. It is dropped unless verbose
// mode is on.
func (l *Logger) Infof(tid int, format string, args ...any) {
	l.inner.WithField("tid", tid).Debugf(format, args...)
}

// Errorf logs a per-thread error. Always emitted.
func (l *Logger) Errorf(tid int, format string, args ...any) {
	l.inner.WithField("tid", tid).Errorf(format, args...)
}

// RecordIntercept counts one emulated syscall.
func (l *Logger) RecordIntercept() {
	l.intercepts++
}

// PrintStats emits the end-of-run summary.
func (l *Logger) PrintStats() {
	l.inner.Infof("intercepted %d syscalls: %s", l.intercepts, shellescape.QuoteCommand(l.args))
}
