// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ExitError signals a non-zero exit code without printing an extra
// error message. A command that has already written its own output
// (a failed signature verification, say) returns one to set the
// status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the exit code.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// Fatal writes "error: err" to stderr and exits with code 1. Use it in
// main() for errors from run() where the structured logger may not be
// initialized. An [ExitError] anywhere in the chain exits silently
// with its code instead.
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

// report writes err (unless it is an ExitError) and returns the exit
// status.
func report(stderr io.Writer, err error) int {
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return 1
}
