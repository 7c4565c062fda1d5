// Package allocator issues pallet identifiers and series codes.
//
// The per-scope read-then-issue critical section lives in the record store
// (see store.Sequences); the allocator adds argument checks, series candidate
// generation, bounded retries on reservation conflicts and error typing.
package allocator

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/raphaelgruber/labelflow/internal/models"
	"github.com/raphaelgruber/labelflow/internal/resilience"
	"github.com/raphaelgruber/labelflow/internal/store"
)

const (
	seriesAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	seriesCodeLength = 6

	// DefaultSeriesRounds bounds how often colliding series are regenerated.
	DefaultSeriesRounds = 5
)

// ErrInvalidCount is returned for a count below 1.
var ErrInvalidCount = errors.New("count must be at least 1")

// ErrSeriesExhausted is returned when collisions persist for every round.
var ErrSeriesExhausted = errors.New("series collisions persisted")

// AllocationError reports a failed reservation. Nothing was issued.
type AllocationError struct {
	Scope string
	Count int
	Err   error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocate %d for scope %s: %v", e.Count, e.Scope, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// Allocator issues identifiers from a store.
type Allocator struct {
	store  store.Sequences
	loc    *time.Location
	now    func() time.Time
	retry  resilience.RetryPolicy
	rounds int
	random io.Reader
	logger *slog.Logger
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithLocation sets the timezone scope dates are computed in.
func WithLocation(loc *time.Location) Option {
	return func(a *Allocator) { a.loc = loc }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// WithRetry sets the policy for reservation conflicts.
func WithRetry(p resilience.RetryPolicy) Option {
	return func(a *Allocator) { a.retry = p }
}

// WithRandom sets the entropy source for series codes.
func WithRandom(r io.Reader) Option {
	return func(a *Allocator) { a.random = r }
}

// WithSeriesRounds bounds series regeneration rounds.
func WithSeriesRounds(n int) Option {
	return func(a *Allocator) { a.rounds = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Allocator) { a.logger = l }
}

// New creates an Allocator backed by s.
func New(s store.Sequences, opts ...Option) *Allocator {
	a := &Allocator{
		store:  s,
		loc:    time.Local,
		now:    time.Now,
		retry:  resilience.DefaultRetryPolicy(),
		rounds: DefaultSeriesRounds,
		random: rand.Reader,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Day resolves the scope day for scopeDate, defaulting to today.
func (a *Allocator) Day(scopeDate time.Time) time.Time {
	if scopeDate.IsZero() {
		scopeDate = a.now()
	}
	return models.Day(scopeDate.In(a.loc))
}

// Location returns the time zone scope days are computed in.
func (a *Allocator) Location() *time.Location {
	return a.loc
}

// AllocateIdentifiers reserves count consecutive identifiers in the scope of
// scopeDate.
func (a *Allocator) AllocateIdentifiers(ctx context.Context, scopeDate time.Time, count int, parentRef string) ([]models.Identifier, error) {
	day := a.Day(scopeDate)
	scope := models.ScopeKey(day)
	if count < 1 {
		return nil, &AllocationError{Scope: scope, Count: count, Err: ErrInvalidCount}
	}

	first, err := resilience.DoValue(ctx, a.retry, func(ctx context.Context) (int, error) {
		return a.store.ReserveSequence(ctx, scope, count)
	}, isConflict)
	if err != nil {
		a.logger.Error("sequence reservation failed", "scope", scope, "count", count, "error", err)
		return nil, &AllocationError{Scope: scope, Count: count, Err: err}
	}

	ids := make([]models.Identifier, count)
	for i := range ids {
		ids[i] = models.Identifier{ScopeDate: day, Sequence: first + i, ParentRef: parentRef}
	}
	a.logger.Debug("identifiers allocated", "scope", scope, "first", ids[0].String(), "count", count)
	return ids, nil
}

// AllocateSeries reserves count globally unique series codes.
func (a *Allocator) AllocateSeries(ctx context.Context, scopeDate time.Time, count int) ([]string, error) {
	day := a.Day(scopeDate)
	prefix := models.ScopeKey(day)
	if count < 1 {
		return nil, &AllocationError{Scope: prefix, Count: count, Err: ErrInvalidCount}
	}

	codes := make([]string, count)
	seen := make(map[string]struct{}, count)
	for i := range codes {
		c, err := a.uniqueCandidate(prefix, seen)
		if err != nil {
			return nil, &AllocationError{Scope: prefix, Count: count, Err: err}
		}
		codes[i] = c
	}

	for round := 0; round < a.rounds; round++ {
		taken, err := resilience.DoValue(ctx, a.retry, func(ctx context.Context) ([]string, error) {
			return a.store.ReserveSeries(ctx, codes)
		}, isConflict)
		if err != nil {
			a.logger.Error("series reservation failed", "scope", prefix, "count", count, "error", err)
			return nil, &AllocationError{Scope: prefix, Count: count, Err: err}
		}
		if len(taken) == 0 {
			return codes, nil
		}

		a.logger.Debug("series collision, regenerating", "taken", len(taken), "round", round+1)
		collided := make(map[string]struct{}, len(taken))
		for _, t := range taken {
			collided[t] = struct{}{}
		}
		for i, c := range codes {
			if _, ok := collided[c]; !ok {
				continue
			}
			next, err := a.uniqueCandidate(prefix, seen)
			if err != nil {
				return nil, &AllocationError{Scope: prefix, Count: count, Err: err}
			}
			codes[i] = next
		}
	}
	return nil, &AllocationError{Scope: prefix, Count: count, Err: ErrSeriesExhausted}
}

// MaxSequenceForScope returns the highest sequence issued for the scope of
// scopeDate.
func (a *Allocator) MaxSequenceForScope(ctx context.Context, scopeDate time.Time) (int, error) {
	scope := models.ScopeKey(a.Day(scopeDate))
	n, err := a.store.MaxSequenceForScope(ctx, scope)
	if err != nil {
		return 0, &AllocationError{Scope: scope, Err: err}
	}
	return n, nil
}

// uniqueCandidate draws a code not yet in seen and records it.
func (a *Allocator) uniqueCandidate(prefix string, seen map[string]struct{}) (string, error) {
	for {
		c, err := a.candidate(prefix)
		if err != nil {
			return "", err
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		return c, nil
	}
}

func (a *Allocator) candidate(prefix string) (string, error) {
	out := make([]byte, 0, seriesCodeLength)
	buf := make([]byte, seriesCodeLength)
	// Bytes >= 252 are rejected so each symbol is equally likely.
	const limit = 256 - 256%len(seriesAlphabet)
	for len(out) < seriesCodeLength {
		if _, err := io.ReadFull(a.random, buf); err != nil {
			return "", fmt.Errorf("read entropy: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit || len(out) == seriesCodeLength {
				continue
			}
			out = append(out, seriesAlphabet[int(b)%len(seriesAlphabet)])
		}
	}
	return prefix + "-" + string(out), nil
}

func isConflict(err error) bool {
	return errors.Is(err, store.ErrConflict)
}
