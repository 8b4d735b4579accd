// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/clock"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/codec"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/secret"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/session"
)

// DefaultCallTimeout bounds how long a call waits for its response.
const DefaultCallTimeout = 30 * time.Second

// ClientConfig configures a Client.
type ClientConfig struct {
	// Origin is declared on every request.
	Origin string

	// Token is an optional origin token sent on every request.
	Token []byte

	// Timeout bounds each call. Zero means DefaultCallTimeout.
	Timeout time.Duration

	// Clock drives call timeouts. Nil means the real clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// outcome is what a pending call eventually receives: a response or a
// local failure.
type outcome struct {
	response Response
	err      error
}

type pendingCall struct {
	requestType RequestType
	result      chan outcome
	timer       *clock.Timer
}

// Client issues requests to a vault over a Channel and correlates
// responses by request ID. Calls may be issued concurrently.
//
// Each call is bounded by a timer on the injected clock. A call that
// times out or whose context is cancelled is removed from the pending
// map; a response arriving for it later is ignored.
type Client struct {
	channel Channel[Request, Response]
	origin  string
	token   []byte
	timeout time.Duration
	clock   clock.Clock
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingCall
	closed  bool
	// closeErr is why the client closed, reported to later calls.
	closeErr error

	readerDone chan struct{}
}

// NewClient starts a client reading responses from channel. The client
// owns channel and closes it on Close.
func NewClient(channel Channel[Request, Response], config ClientConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultCallTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	client := &Client{
		channel:    channel,
		origin:     config.Origin,
		token:      config.Token,
		timeout:    config.Timeout,
		clock:      config.Clock,
		logger:     config.Logger,
		pending:    make(map[string]*pendingCall),
		readerDone: make(chan struct{}),
	}
	go client.readLoop()
	return client
}

// Origin returns the origin this client declares.
func (c *Client) Origin() string { return c.origin }

// PendingCount returns the number of calls awaiting a response.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Call sends a request of the given type with payload and decodes the
// success payload into into. Vault-side errors are returned as
// *RemoteError.
func (c *Client) Call(ctx context.Context, requestType RequestType, payload any, into ResponsePayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	request := Request{
		Type:      requestType,
		RequestID: uuid.NewString(),
		Origin:    c.origin,
		Token:     c.token,
	}
	if payload != nil {
		data, err := codec.Marshal(payload)
		if err != nil {
			return fmt.Errorf("vault: encoding %s payload: %w", requestType, err)
		}
		request.Payload = data
		defer secret.Zero(request.Payload)
	}

	call := &pendingCall{
		requestType: requestType,
		result:      make(chan outcome, 1),
	}
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return err
	}
	c.pending[request.RequestID] = call
	call.timer = c.clock.AfterFunc(c.timeout, func() {
		c.complete(request.RequestID, outcome{err: ErrTimeout})
	})
	c.mu.Unlock()

	if err := c.channel.Send(request); err != nil {
		c.discard(request.RequestID)
		return fmt.Errorf("vault: sending %s: %w", requestType, err)
	}

	select {
	case result := <-call.result:
		if result.err != nil {
			return result.err
		}
		return decodeResponse(requestType, result.response, into)
	case <-ctx.Done():
		c.discard(request.RequestID)
		return ctx.Err()
	}
}

// complete delivers result to the pending call for requestID and
// removes it. Returns false when no such call is pending, which is the
// case for late responses after a timeout or cancellation.
func (c *Client) complete(requestID string, result outcome) bool {
	c.mu.Lock()
	call, exists := c.pending[requestID]
	if exists {
		delete(c.pending, requestID)
	}
	c.mu.Unlock()
	if !exists {
		return false
	}
	if call.timer != nil {
		call.timer.Stop()
	}
	call.result <- result
	return true
}

// discard drops a pending call without delivering anything.
func (c *Client) discard(requestID string) {
	c.mu.Lock()
	call, exists := c.pending[requestID]
	delete(c.pending, requestID)
	c.mu.Unlock()
	if exists && call.timer != nil {
		call.timer.Stop()
	}
}

// readLoop routes responses to pending calls until the channel fails.
func (c *Client) readLoop() {
	defer close(c.readerDone)
	for {
		response, err := c.channel.Receive()
		if err != nil {
			c.shutdown(fmt.Errorf("%w: %v", ErrClientClosed, err))
			return
		}
		if !c.complete(response.RequestID, outcome{response: response}) {
			c.logger.Debug("ignoring response with no pending request",
				"request_id", response.RequestID,
				"type", response.Type,
			)
		}
	}
}

// shutdown fails every pending call with reason and rejects new ones.
func (c *Client) shutdown(reason error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = reason
	pending := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	for _, call := range pending {
		if call.timer != nil {
			call.timer.Stop()
		}
		call.result <- outcome{err: reason}
	}
}

// Close closes the channel and fails pending calls with
// ErrClientClosed.
func (c *Client) Close() error {
	c.shutdown(ErrClientClosed)
	err := c.channel.Close()
	<-c.readerDone
	return err
}

// decodeResponse checks the response envelope and decodes its payload.
func decodeResponse(requestType RequestType, response Response, into ResponsePayload) error {
	if response.Error != nil {
		return &RemoteError{
			Request: requestType,
			Code:    response.Error.Code,
			Message: response.Error.Message,
		}
	}
	if want := expectedResponse[requestType]; response.Type != want {
		return fmt.Errorf("%w: got %q for %s, want %q", ErrUnexpectedResponse, response.Type, requestType, want)
	}
	if into == nil {
		return nil
	}
	if err := codec.Unmarshal(response.Payload, into); err != nil {
		return fmt.Errorf("vault: decoding %s payload: %w", response.Type, err)
	}
	return nil
}

// Unlock asks the vault to decrypt the stored secret for the request's
// owner and kind. request.Password and every encoded copy of it are
// zeroed before Unlock returns.
func (c *Client) Unlock(ctx context.Context, request UnlockRequest) (*UnlockedPayload, error) {
	defer secret.Zero(request.Password)
	var payload UnlockedPayload
	if err := c.Call(ctx, RequestUnlock, request, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Sign asks the vault to sign message with the session's key.
func (c *Client) Sign(ctx context.Context, sessionID session.ID, message []byte) (*SignedPayload, error) {
	var payload SignedPayload
	if err := c.Call(ctx, RequestSign, SignRequest{SessionID: sessionID, Message: message}, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// PublicKey returns the public key of the session's secret.
func (c *Client) PublicKey(ctx context.Context, sessionID session.ID) (*PublicKeyPayload, error) {
	var payload PublicKeyPayload
	if err := c.Call(ctx, RequestGetPublicKey, SessionRequest{SessionID: sessionID}, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Status reports the session's state.
func (c *Client) Status(ctx context.Context, sessionID session.ID) (*StatusPayload, error) {
	var payload StatusPayload
	if err := c.Call(ctx, RequestStatus, SessionRequest{SessionID: sessionID}, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Lock destroys the session inside the vault.
func (c *Client) Lock(ctx context.Context, sessionID session.ID) (*LockedPayload, error) {
	var payload LockedPayload
	if err := c.Call(ctx, RequestLock, SessionRequest{SessionID: sessionID}, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Permissions lists the operations this client's origin may request.
func (c *Client) Permissions(ctx context.Context) (*PermissionsPayload, error) {
	var payload PermissionsPayload
	if err := c.Call(ctx, RequestGetPermissions, nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// IsTimeout reports whether err is a call timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
