// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ErrEmpty is returned when a secret source contains nothing but
// whitespace.
var ErrEmpty = errors.New("secret: source is empty")

// maxSecretSize bounds how much a single secret source may contain.
// Seed phrases and signing keys are well under a kilobyte.
const maxSecretSize = 64 * 1024

// ReadFromPath reads a secret from a file path, or from stdin if path is
// "-". Surrounding whitespace is trimmed. The returned buffer must be
// closed by the caller.
func ReadFromPath(path string) (*Buffer, error) {
	if path == "-" {
		return ReadFrom(os.Stdin)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadFrom(file)
}

// ReadFrom reads reader to EOF, trims surrounding whitespace, and moves
// the value into a protected buffer. Every intermediate heap copy is
// zeroed.
func ReadFrom(reader io.Reader) (*Buffer, error) {
	data, err := io.ReadAll(io.LimitReader(reader, maxSecretSize))
	if err != nil {
		Zero(data)
		return nil, fmt.Errorf("reading secret: %w", err)
	}
	defer Zero(data)

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrEmpty
	}
	return NewFromBytes(trimmed)
}

// ReadPassphrase prompts on stderr and reads a passphrase from the
// terminal attached to file without echo. When file is not a terminal
// (a pipe in scripts and tests), one line is read instead.
func ReadPassphrase(file *os.File, prompt string) (*Buffer, error) {
	fileDescriptor := int(file.Fd())
	if !term.IsTerminal(fileDescriptor) {
		scanner := bufio.NewScanner(file)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading passphrase: %w", err)
			}
			return nil, ErrEmpty
		}
		line := scanner.Bytes()
		defer Zero(line)
		return ReadFrom(bytes.NewReader(line))
	}

	fmt.Fprint(os.Stderr, prompt)
	passphrase, err := term.ReadPassword(fileDescriptor)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	if len(passphrase) == 0 {
		return nil, ErrEmpty
	}
	return NewFromBytes(passphrase)
}
