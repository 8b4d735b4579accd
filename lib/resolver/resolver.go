// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/clock"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/envelope"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/schema"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/secret"
)

// DefaultProbeTimeout bounds each source's Probe.
const DefaultProbeTimeout = 2 * time.Second

var (
	// ErrAllSourcesUnavailable is returned when no source produced a
	// session. The returned error is an *UnavailableError.
	ErrAllSourcesUnavailable = errors.New("resolver: all credential sources unavailable")

	// ErrProbeTimeout records a probe that did not answer in time.
	ErrProbeTimeout = errors.New("resolver: probe timed out")
)

// Stage names the step at which a source failed.
type Stage string

const (
	StageProbe   Stage = "probe"
	StageAcquire Stage = "acquire"
)

// Attempt records one source's failure during resolution. Err holds
// only error kinds, never credentials.
type Attempt struct {
	Source schema.SourceType
	Stage  Stage
	Err    error
}

// UnavailableError lists the failures that led to
// ErrAllSourcesUnavailable.
type UnavailableError struct {
	Attempts []Attempt
}

func (e *UnavailableError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrAllSourcesUnavailable.Error() + ": no sources configured"
	}
	parts := make([]string, len(e.Attempts))
	for index, attempt := range e.Attempts {
		parts[index] = fmt.Sprintf("%s %s: %v", attempt.Source, attempt.Stage, attempt.Err)
	}
	return ErrAllSourcesUnavailable.Error() + ": " + strings.Join(parts, "; ")
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrAllSourcesUnavailable
}

// Result is a successful resolution.
type Result struct {
	Session Session
	Source  schema.SourceType

	// Attempts lists the sources that failed before the one that
	// succeeded.
	Attempts []Attempt
}

// Config configures a Resolver.
type Config struct {
	// ProbeTimeout bounds each Probe. Zero means DefaultProbeTimeout.
	ProbeTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Resolver turns an ordered list of credential sources into one live
// session. Sources are tried one at a time, never in parallel, so two
// decrypted copies of the same secret never race each other.
//
// The resolver remembers the session it last produced for each owner
// and kind. A later successful resolution locks that session: the most
// recent successful decrypt is the one in use.
type Resolver struct {
	probeTimeout time.Duration
	clock        clock.Clock
	logger       *slog.Logger

	mu     sync.Mutex
	active map[envelope.Subject]Session
}

// New creates a Resolver.
func New(config Config) *Resolver {
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultProbeTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{
		probeTimeout: config.ProbeTimeout,
		clock:        config.Clock,
		logger:       config.Logger,
		active:       make(map[envelope.Subject]Session),
	}
}

// Resolve tries sources in priority order and returns the first
// session acquired. A source whose probe fails or times out, or whose
// acquisition fails, is skipped. When every source fails the error is
// an *UnavailableError matching ErrAllSourcesUnavailable. Cancelling
// ctx aborts resolution with ctx.Err().
//
// request.Password is zeroed before Resolve returns.
func (r *Resolver) Resolve(ctx context.Context, request Request, sources ...CredentialSource) (*Result, error) {
	defer secret.Zero(request.Password)

	subject := request.Subject()
	if err := subject.Validate(); err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}

	ordered := make([]CredentialSource, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() < ordered[j].Priority()
	})

	var attempts []Attempt
	for _, source := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := r.probe(ctx, source); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			attempts = append(attempts, r.failed(source, StageProbe, subject, err))
			continue
		}

		acquired, err := source.Acquire(ctx, request)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			attempts = append(attempts, r.failed(source, StageAcquire, subject, err))
			continue
		}

		r.replaceActive(ctx, subject, acquired)
		r.logger.Info("credential resolved",
			"owner", subject.OwnerID,
			"kind", subject.Kind,
			"source", source.Type(),
			"session", acquired.ID(),
			"failed_sources", len(attempts),
		)
		return &Result{Session: acquired, Source: source.Type(), Attempts: attempts}, nil
	}

	r.logger.Warn("no credential source available",
		"owner", subject.OwnerID,
		"kind", subject.Kind,
		"sources", len(ordered),
	)
	return nil, &UnavailableError{Attempts: attempts}
}

// probe runs source.Probe under the probe timeout. The probe's context
// is cancelled when the timeout fires so a well-behaved source stops
// promptly; the resolver does not wait for it either way.
func (r *Resolver) probe(ctx context.Context, source CredentialSource) error {
	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- source.Probe(probeCtx)
	}()

	timedOut := make(chan struct{})
	timer := r.clock.AfterFunc(r.probeTimeout, func() { close(timedOut) })
	defer timer.Stop()

	select {
	case err := <-result:
		return err
	case <-timedOut:
		return ErrProbeTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Resolver) failed(source CredentialSource, stage Stage, subject envelope.Subject, err error) Attempt {
	r.logger.Info("credential source failed",
		"owner", subject.OwnerID,
		"kind", subject.Kind,
		"source", source.Type(),
		"stage", stage,
		"error", err,
	)
	return Attempt{Source: source.Type(), Stage: stage, Err: err}
}

// replaceActive records acquired as the live session for subject and
// locks the one it replaces.
func (r *Resolver) replaceActive(ctx context.Context, subject envelope.Subject, acquired Session) {
	r.mu.Lock()
	previous := r.active[subject]
	r.active[subject] = acquired
	r.mu.Unlock()

	if previous == nil || previous.ID() == acquired.ID() {
		return
	}
	if err := previous.Lock(ctx); err != nil {
		// Already ended or replaced inside the same manager.
		r.logger.Debug("previous session lock",
			"owner", subject.OwnerID,
			"kind", subject.Kind,
			"source", previous.Source(),
			"session", previous.ID(),
			"error", err,
		)
	}
}

// Active returns the session this resolver last produced for owner and
// kind, if any.
func (r *Resolver) Active(ownerID string, kind schema.Kind) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, exists := r.active[envelope.Subject{OwnerID: ownerID, Kind: kind}]
	return active, exists
}

// LockAll locks every session the resolver produced and forgets them.
func (r *Resolver) LockAll(ctx context.Context) {
	r.mu.Lock()
	active := r.active
	r.active = make(map[envelope.Subject]Session)
	r.mu.Unlock()

	for subject, held := range active {
		if err := held.Lock(ctx); err != nil {
			r.logger.Debug("locking session", "owner", subject.OwnerID, "kind", subject.Kind, "error", err)
		}
	}
}
