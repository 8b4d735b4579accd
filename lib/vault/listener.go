// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"
)

// dialTimeout bounds the connect phase of Dial.
const dialTimeout = 5 * time.Second

// Listen removes any stale socket at socketPath and listens on it. The
// socket file is restricted to the owning user.
func Listen(socketPath string) (net.Listener, error) {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("vault: removing stale socket %s: %w", socketPath, err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("vault: listening on %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("vault: restricting socket %s: %w", socketPath, err)
	}
	return listener, nil
}

// Dial connects to a vault socket and returns the client side channel.
func Dial(ctx context.Context, socketPath string) (*StreamChannel[Request, Response], error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("vault: connecting to %s: %w", socketPath, err)
	}
	return NewStreamChannel[Request, Response](conn), nil
}
