// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/codec"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/secret"
)

// MaxMessageSize bounds a single framed message. Requests and
// responses carry at most a message to sign, a signature and a few
// identifiers.
const MaxMessageSize = 1024 * 1024

// ErrMessageTooLarge is returned when a peer announces a frame larger
// than MaxMessageSize.
var ErrMessageTooLarge = errors.New("vault: message exceeds size limit")

// Channel is a bidirectional typed message channel. The client side
// is a Channel[Request, Response]; the server side is a
// Channel[Response, Request].
//
// Send is safe for concurrent use. Receive is called from a single
// reader goroutine.
type Channel[Out, In any] interface {
	Send(message Out) error
	Receive() (In, error)
	Close() error
}

// StreamChannel frames CBOR messages over a byte stream: each message
// is a 4-byte big-endian length followed by that many bytes of CBOR.
type StreamChannel[Out, In any] struct {
	stream io.ReadWriteCloser

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewStreamChannel wraps stream. The channel owns stream and closes it
// on Close.
func NewStreamChannel[Out, In any](stream io.ReadWriteCloser) *StreamChannel[Out, In] {
	return &StreamChannel[Out, In]{stream: stream}
}

// Send encodes message and writes it as one frame.
func (c *StreamChannel[Out, In]) Send(message Out) error {
	data, err := codec.Marshal(message)
	if err != nil {
		return fmt.Errorf("vault: encoding message: %w", err)
	}
	// Unlock frames carry a password.
	defer secret.Zero(data)
	if len(data) > MaxMessageSize {
		return ErrMessageTooLarge
	}

	frame := make([]byte, 4+len(data))
	defer secret.Zero(frame)
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stream.Write(frame); err != nil {
		return fmt.Errorf("vault: writing frame: %w", err)
	}
	return nil
}

// Receive reads and decodes the next frame. It returns io.EOF when the
// peer closed the stream cleanly between frames.
func (c *StreamChannel[Out, In]) Receive() (In, error) {
	var message In
	var header [4]byte
	if _, err := io.ReadFull(c.stream, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return message, fmt.Errorf("vault: truncated frame header: %w", err)
		}
		return message, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxMessageSize {
		return message, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, size)
	}
	data := make([]byte, size)
	defer secret.Zero(data)
	if _, err := io.ReadFull(c.stream, data); err != nil {
		return message, fmt.Errorf("vault: reading frame: %w", err)
	}
	if err := codec.Unmarshal(data, &message); err != nil {
		return message, fmt.Errorf("vault: decoding message: %w", err)
	}
	return message, nil
}

// Close closes the underlying stream. Idempotent.
func (c *StreamChannel[Out, In]) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.stream.Close()
	})
	return c.closeErr
}

// Pipe returns a connected in-process client and server channel pair.
func Pipe() (*StreamChannel[Request, Response], *StreamChannel[Response, Request]) {
	clientSide, serverSide := net.Pipe()
	return NewStreamChannel[Request, Response](clientSide), NewStreamChannel[Response, Request](serverSide)
}
