// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/blobstore"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/clock"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/codec"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/envelope"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/origintoken"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/schema"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/secret"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/session"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/signer"
)

// Session bounds applied when an unlock request leaves them unset or
// asks for more than the server allows.
const (
	DefaultSessionTTL    = 5 * time.Minute
	DefaultMaxSessionTTL = time.Hour
	DefaultSessionOps    = 10
	DefaultMaxSessionOps = 1000
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Allowlist maps each accepted origin to the operations it may
	// request. Origins absent from the map are rejected.
	Allowlist map[string][]RequestType

	// Tokens, when set, additionally requires every request to carry
	// an origin token minted for its declared origin.
	Tokens *origintoken.Verifier

	// Store holds the encrypted secrets the vault can unlock.
	Store blobstore.Store

	// Manager owns decrypted sessions. Nil creates one on Clock and
	// Logger; the server then closes it on Close.
	Manager *session.Manager

	// Codec decrypts blobs. Nil means default parameters.
	Codec *envelope.Codec

	SessionTTL    time.Duration
	MaxSessionTTL time.Duration
	SessionOps    int
	MaxSessionOps int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Server is the vault side of the boundary. It is the only holder of
// decrypted secrets: requests reach them through its session manager,
// and every reply is a ResponsePayload.
//
// Every request is checked against the origin allowlist (and origin
// token, when configured) before anything else happens. Requests that
// address the same session, or unlock the same owner and kind, run one
// at a time in arrival order.
type Server struct {
	allowlist     map[string]map[RequestType]bool
	permissions   map[string][]RequestType
	tokens        *origintoken.Verifier
	store         blobstore.Store
	manager       *session.Manager
	ownsManager   bool
	codec         *envelope.Codec
	sessionTTL    time.Duration
	maxSessionTTL time.Duration
	sessionOps    int
	maxSessionOps int
	clock         clock.Clock
	logger        *slog.Logger

	queue *keyedQueue

	mu         sync.Mutex
	publicKeys map[session.ID]ed25519.PublicKey
}

// NewServer validates config and creates a Server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("vault: server requires a store")
	}
	if len(config.Allowlist) == 0 {
		return nil, fmt.Errorf("vault: server requires a non-empty origin allowlist")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Codec == nil {
		config.Codec = &envelope.Codec{}
	}
	ownsManager := false
	if config.Manager == nil {
		config.Manager = session.NewManager(session.Config{Clock: config.Clock, Logger: config.Logger})
		ownsManager = true
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = DefaultSessionTTL
	}
	if config.MaxSessionTTL <= 0 {
		config.MaxSessionTTL = DefaultMaxSessionTTL
	}
	if config.SessionOps <= 0 {
		config.SessionOps = DefaultSessionOps
	}
	if config.MaxSessionOps <= 0 {
		config.MaxSessionOps = DefaultMaxSessionOps
	}

	allowlist := make(map[string]map[RequestType]bool, len(config.Allowlist))
	permissions := make(map[string][]RequestType, len(config.Allowlist))
	for origin, operations := range config.Allowlist {
		if origin == "" {
			return nil, fmt.Errorf("vault: allowlist contains an empty origin")
		}
		allowed := make(map[RequestType]bool, len(operations))
		for _, operation := range operations {
			if !operation.IsKnown() {
				return nil, fmt.Errorf("vault: origin %q allows unknown operation %q", origin, operation)
			}
			allowed[operation] = true
		}
		// get_permissions is always answerable for an allowed origin.
		allowed[RequestGetPermissions] = true
		allowlist[origin] = allowed

		listed := make([]RequestType, 0, len(allowed))
		for operation := range allowed {
			listed = append(listed, operation)
		}
		sort.Slice(listed, func(i, j int) bool { return listed[i] < listed[j] })
		permissions[origin] = listed
	}

	return &Server{
		allowlist:     allowlist,
		permissions:   permissions,
		tokens:        config.Tokens,
		store:         config.Store,
		manager:       config.Manager,
		ownsManager:   ownsManager,
		codec:         config.Codec,
		sessionTTL:    config.SessionTTL,
		maxSessionTTL: config.MaxSessionTTL,
		sessionOps:    config.SessionOps,
		maxSessionOps: config.MaxSessionOps,
		clock:         config.Clock,
		logger:        config.Logger,
		queue:         newKeyedQueue(),
		publicKeys:    make(map[session.ID]ed25519.PublicKey),
	}, nil
}

// job is an admitted request: origin and permission checked, payload
// decoded, ready to run once its queue key comes up.
type job struct {
	request Request
	// key serializes jobs touching the same session or subject. Empty
	// means the job touches no session state.
	key string
	run func(ctx context.Context) (ResponsePayload, error)
}

// Handle processes one request synchronously and returns its response.
func (s *Server) Handle(ctx context.Context, request Request) Response {
	admitted, rejection, ok := s.admit(request)
	if !ok {
		return rejection
	}
	var entry *ticket
	if admitted.key != "" {
		entry = s.queue.enqueue(admitted.key)
	}
	return s.execute(ctx, entry, admitted)
}

// admit runs every check that precedes state access. On rejection it
// returns the error response and false.
func (s *Server) admit(request Request) (*job, Response, bool) {
	if !s.originAllowed(request) {
		s.logger.Warn("vault request rejected",
			"origin", request.Origin,
			"type", request.Type,
			"request_id", request.RequestID,
		)
		return nil, newErrorResponse(request.RequestID, CodeOriginRejected), false
	}
	if !request.Type.IsKnown() {
		return nil, newErrorResponse(request.RequestID, CodeBadRequest), false
	}
	if !s.allowlist[request.Origin][request.Type] {
		s.logger.Warn("vault operation denied",
			"origin", request.Origin,
			"type", request.Type,
			"request_id", request.RequestID,
		)
		return nil, newErrorResponse(request.RequestID, CodePermissionDenied), false
	}

	admitted, err := s.bind(request)
	if err != nil {
		s.logger.Debug("vault request malformed",
			"origin", request.Origin,
			"type", request.Type,
			"request_id", request.RequestID,
			"error", err,
		)
		return nil, newErrorResponse(request.RequestID, CodeBadRequest), false
	}
	return admitted, Response{}, true
}

func (s *Server) originAllowed(request Request) bool {
	if _, exists := s.allowlist[request.Origin]; !exists {
		return false
	}
	if s.tokens == nil {
		return true
	}
	if _, err := s.tokens.VerifyOrigin(request.Token, request.Origin, s.clock.Now()); err != nil {
		return false
	}
	return true
}

// bind decodes the payload and attaches the operation for its type.
func (s *Server) bind(request Request) (*job, error) {
	admitted := &job{request: request}
	switch request.Type {
	case RequestUnlock:
		var payload UnlockRequest
		err := decodePayload(request, &payload)
		secret.Zero(request.Payload)
		if err != nil {
			return nil, err
		}
		subject := envelope.Subject{OwnerID: payload.OwnerID, Kind: payload.Kind}
		if err := subject.Validate(); err != nil {
			secret.Zero(payload.Password)
			return nil, err
		}
		admitted.key = "subject:" + subject.String()
		admitted.run = func(ctx context.Context) (ResponsePayload, error) {
			return s.unlock(ctx, subject, payload)
		}

	case RequestSign:
		var payload SignRequest
		if err := decodePayload(request, &payload); err != nil {
			return nil, err
		}
		if payload.SessionID == "" {
			return nil, fmt.Errorf("session ID is empty")
		}
		admitted.key = "session:" + string(payload.SessionID)
		admitted.run = func(ctx context.Context) (ResponsePayload, error) {
			return s.sign(ctx, payload)
		}

	case RequestGetPublicKey, RequestStatus, RequestLock:
		var payload SessionRequest
		if err := decodePayload(request, &payload); err != nil {
			return nil, err
		}
		if payload.SessionID == "" {
			return nil, fmt.Errorf("session ID is empty")
		}
		admitted.key = "session:" + string(payload.SessionID)
		switch request.Type {
		case RequestGetPublicKey:
			admitted.run = func(context.Context) (ResponsePayload, error) { return s.publicKey(payload.SessionID) }
		case RequestStatus:
			admitted.run = func(context.Context) (ResponsePayload, error) { return s.status(payload.SessionID) }
		default:
			admitted.run = func(context.Context) (ResponsePayload, error) { return s.lock(payload.SessionID) }
		}

	case RequestGetPermissions:
		origin := request.Origin
		admitted.run = func(context.Context) (ResponsePayload, error) {
			return PermissionsPayload{Origin: origin, Operations: s.permissions[origin]}, nil
		}

	default:
		return nil, fmt.Errorf("unhandled request type %q", request.Type)
	}
	return admitted, nil
}

func decodePayload(request Request, into any) error {
	if len(request.Payload) == 0 {
		return fmt.Errorf("%s request has no payload", request.Type)
	}
	if err := codec.Unmarshal(request.Payload, into); err != nil {
		return fmt.Errorf("decoding %s payload: %w", request.Type, err)
	}
	return nil
}

// execute waits for the job's turn, runs it, and builds the response.
func (s *Server) execute(ctx context.Context, entry *ticket, admitted *job) Response {
	requestID := admitted.request.RequestID
	if entry != nil {
		defer s.queue.finish(entry)
		if err := entry.wait(ctx); err != nil {
			return newErrorResponse(requestID, CodeInternal)
		}
	}

	payload, err := admitted.run(ctx)
	if err != nil {
		code := codeFor(err)
		level := slog.LevelInfo
		if code == CodeInternal {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "vault request failed",
			"origin", admitted.request.Origin,
			"type", admitted.request.Type,
			"request_id", requestID,
			"code", code,
			"error", err,
		)
		return newErrorResponse(requestID, code)
	}

	response, err := newResponse(requestID, payload)
	if err != nil {
		s.logger.Error("encoding vault response", "request_id", requestID, "error", err)
		return newErrorResponse(requestID, CodeInternal)
	}
	return response
}

// sessionLimits resolves requested bounds against the server's.
func (s *Server) sessionLimits(request UnlockRequest) (time.Duration, int) {
	ttl := request.TTL
	if ttl <= 0 {
		ttl = s.sessionTTL
	}
	ttl = min(ttl, s.maxSessionTTL)
	maxOps := request.MaxOps
	if maxOps <= 0 {
		maxOps = s.sessionOps
	}
	maxOps = min(maxOps, s.maxSessionOps)
	return ttl, maxOps
}

func (s *Server) unlock(ctx context.Context, subject envelope.Subject, request UnlockRequest) (ResponsePayload, error) {
	defer secret.Zero(request.Password)

	blob, err := s.store.Read(ctx, subject)
	if err != nil {
		return nil, err
	}
	plaintext, err := s.codec.Decrypt(blob, request.Password, request.OwnerSalt)
	if err != nil {
		return nil, err
	}
	defer plaintext.Close()

	publicKey, err := signer.PublicKey(subject.Kind, plaintext.Bytes())
	if err != nil {
		return nil, fmt.Errorf("deriving public key for %s: %w", subject, err)
	}

	ttl, maxOps := s.sessionLimits(request)
	id, err := s.manager.Create(plaintext.Bytes(), session.Params{
		OwnerID:   subject.OwnerID,
		Kind:      subject.Kind,
		TTL:       ttl,
		MaxOps:    maxOps,
		SourceTag: schema.SourceSandboxedVault,
	})
	if err != nil {
		return nil, err
	}
	info, err := s.manager.Info(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.publicKeys[id] = publicKey
	s.pruneLocked()
	s.mu.Unlock()

	s.logger.Info("vault unlocked",
		"owner", subject.OwnerID,
		"kind", subject.Kind,
		"session", id,
		"expires_at", info.ExpiresAt,
		"max_ops", info.MaxOps,
	)

	return UnlockedPayload{
		Unlocked:    true,
		SessionID:   id,
		OwnerID:     info.OwnerID,
		Kind:        info.Kind,
		ExpiresAt:   info.ExpiresAt,
		MaxOps:      info.MaxOps,
		PublicKey:   publicKey,
		Fingerprint: signer.Fingerprint(publicKey),
	}, nil
}

// pruneLocked forgets public keys of sessions that are no longer live.
// Caller holds s.mu.
func (s *Server) pruneLocked() {
	for id := range s.publicKeys {
		if _, err := s.manager.Check(id); err != nil {
			delete(s.publicKeys, id)
		}
	}
}

func (s *Server) sign(ctx context.Context, request SignRequest) (ResponsePayload, error) {
	info, err := s.manager.Check(request.SessionID)
	if err != nil {
		return nil, err
	}

	var signature []byte
	err = s.manager.Use(ctx, request.SessionID, func(secretBytes []byte) error {
		var signErr error
		signature, signErr = signer.Sign(info.Kind, secretBytes, request.Message)
		return signErr
	})
	if err != nil {
		return nil, err
	}

	remaining := 0
	if after, err := s.manager.Info(request.SessionID); err == nil {
		remaining = after.RemainingOps()
	}
	return SignedPayload{
		SessionID:    request.SessionID,
		Signature:    signature,
		RemainingOps: remaining,
	}, nil
}

func (s *Server) publicKey(id session.ID) (ResponsePayload, error) {
	if _, err := s.manager.Check(id); err != nil {
		s.forget(id)
		return nil, err
	}
	s.mu.Lock()
	publicKey, exists := s.publicKeys[id]
	s.mu.Unlock()
	if !exists {
		return nil, session.ErrSessionNotFound
	}
	return PublicKeyPayload{
		SessionID:   id,
		PublicKey:   publicKey,
		Fingerprint: signer.Fingerprint(publicKey),
	}, nil
}

func (s *Server) status(id session.ID) (ResponsePayload, error) {
	info, err := s.manager.Check(id)
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil, err
	}
	return StatusPayload{
		SessionID:    id,
		Unlocked:     err == nil,
		OwnerID:      info.OwnerID,
		Kind:         info.Kind,
		State:        info.State,
		OpCount:      info.OpCount,
		MaxOps:       info.MaxOps,
		RemainingOps: info.RemainingOps(),
		ExpiresAt:    info.ExpiresAt,
	}, nil
}

func (s *Server) lock(id session.ID) (ResponsePayload, error) {
	if err := s.manager.Lock(id); err != nil {
		return nil, err
	}
	s.forget(id)
	return LockedPayload{SessionID: id, Locked: true}, nil
}

func (s *Server) forget(id session.ID) {
	s.mu.Lock()
	delete(s.publicKeys, id)
	s.mu.Unlock()
}

// ServeChannel reads requests from channel until it closes or ctx is
// cancelled. Admission happens on the reading goroutine so queue order
// is arrival order; admitted jobs then run concurrently across keys.
func (s *Server) ServeChannel(ctx context.Context, channel Channel[Response, Request]) error {
	stop := context.AfterFunc(ctx, func() { channel.Close() })
	defer stop()

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		request, err := channel.Receive()
		if err != nil {
			if ctx.Err() != nil || isClosedError(err) {
				return nil
			}
			return fmt.Errorf("vault: receiving request: %w", err)
		}

		admitted, rejection, ok := s.admit(request)
		if !ok {
			s.reply(channel, rejection)
			continue
		}
		var entry *ticket
		if admitted.key != "" {
			entry = s.queue.enqueue(admitted.key)
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			s.reply(channel, s.execute(ctx, entry, admitted))
		}()
	}
}

func (s *Server) reply(channel Channel[Response, Request], response Response) {
	if err := channel.Send(response); err != nil {
		s.logger.Debug("writing vault response failed",
			"request_id", response.RequestID,
			"error", err,
		)
	}
}

func isClosedError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}

// Serve accepts connections on listener and serves each as a channel.
// Blocks until ctx is cancelled, then waits for active connections.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	var connections sync.WaitGroup
	defer connections.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		connections.Add(1)
		go func() {
			defer connections.Done()
			channel := NewStreamChannel[Response, Request](conn)
			defer channel.Close()
			if err := s.ServeChannel(ctx, channel); err != nil {
				s.logger.Debug("vault connection ended", "error", err)
			}
		}()
	}
}

// Close destroys every session the server holds if it created its own
// manager.
func (s *Server) Close() error {
	s.mu.Lock()
	s.publicKeys = make(map[session.ID]ed25519.PublicKey)
	s.mu.Unlock()
	if s.ownsManager {
		return s.manager.Close()
	}
	return nil
}

// Manager returns the server's session manager.
func (s *Server) Manager() *session.Manager { return s.manager }
