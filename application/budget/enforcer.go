// Package budget implements the per-session resource budget enforcer.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/domain/errors"
	"github.com/sentinel-dev/sentinel/domain/ports"
	"github.com/sentinel-dev/sentinel/internal/clock"
)

// enforcerConfig holds configuration for the Enforcer.
type enforcerConfig struct {
	clock  clock.Clock
	sink   ports.EventSink
	logger *slog.Logger
}

func defaultEnforcerConfig() enforcerConfig {
	return enforcerConfig{
		clock:  clock.Real(),
		sink:   ports.NopEventSink{},
		logger: slog.Default(),
	}
}

// EnforcerOption configures an Enforcer.
type EnforcerOption func(*enforcerConfig)

// WithClock sets the time source.
func WithClock(c clock.Clock) EnforcerOption {
	return func(cfg *enforcerConfig) {
		cfg.clock = c
	}
}

// WithEventSink sets the audit sink.
func WithEventSink(s ports.EventSink) EnforcerOption {
	return func(cfg *enforcerConfig) {
		cfg.sink = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EnforcerOption {
	return func(cfg *enforcerConfig) {
		cfg.logger = l
	}
}

// Enforcer tracks one session's consumption. Its state machine is
// Active -> Exhausted; crossing any ceiling traps the session and every
// later check fails with the same BudgetExhaustedError.
type Enforcer struct {
	config    enforcerConfig
	logger    *slog.Logger
	start     time.Time
	trap      *errors.BudgetExhaustedError
	limits    entities.BudgetLimits
	charged   uint64
	instances int
	mu        sync.RWMutex
}

// NewEnforcer starts a session budget at the clock's current time.
func NewEnforcer(limits entities.BudgetLimits, opts ...EnforcerOption) *Enforcer {
	cfg := defaultEnforcerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Enforcer{
		config: cfg,
		logger: cfg.logger.With("target", "sentinel::budget"),
		start:  cfg.clock.Now(),
		limits: limits,
	}
}

// Charge consumes units of compute. The check and the decrement are one
// step under the write lock, so concurrent charges never both cross the
// ceiling.
func (e *Enforcer) Charge(ctx context.Context, units uint64) error {
	now := e.config.clock.Now()

	e.mu.Lock()
	t := e.preflightLocked(now)
	if t.err == nil {
		total := e.charged + units
		if total < e.charged || (e.limits.ComputeUnits > 0 && total > e.limits.ComputeUnits) {
			t = e.trapLocked(&errors.BudgetExhaustedError{
				Dimension: entities.DimensionCompute,
				Requested: units,
				Limit:     e.limits.ComputeUnits,
			})
		} else {
			e.charged = total
		}
	}
	remaining := e.remainingLocked()
	e.mu.Unlock()

	if t.err != nil {
		return e.report(ctx, t)
	}
	e.config.sink.Record(ctx, entities.AuditEvent{
		Time:    now,
		Type:    entities.EventBudgetCharged,
		Details: map[string]any{"units": units, "remaining": remaining},
	})
	return nil
}

// CheckMemory fails when a single allocation of bytes would exceed the
// memory ceiling.
func (e *Enforcer) CheckMemory(ctx context.Context, bytes uint64) error {
	now := e.config.clock.Now()

	e.mu.Lock()
	t := e.preflightLocked(now)
	if t.err == nil && e.limits.MemoryBytes > 0 && bytes > e.limits.MemoryBytes {
		t = e.trapLocked(&errors.BudgetExhaustedError{
			Dimension: entities.DimensionMemory,
			Requested: bytes,
			Limit:     e.limits.MemoryBytes,
		})
	}
	e.mu.Unlock()

	return e.report(ctx, t)
}

// CheckInstanceCount fails when one more instance would exceed the
// concurrent-instance ceiling.
func (e *Enforcer) CheckInstanceCount(ctx context.Context) error {
	now := e.config.clock.Now()

	e.mu.Lock()
	t := e.checkInstancesLocked(now)
	e.mu.Unlock()

	return e.report(ctx, t)
}

// AcquireInstance reserves an instance slot. The returned release func
// frees it and is safe to call more than once.
func (e *Enforcer) AcquireInstance(ctx context.Context) (func(), error) {
	now := e.config.clock.Now()

	e.mu.Lock()
	t := e.checkInstancesLocked(now)
	if t.err == nil {
		e.instances++
	}
	e.mu.Unlock()

	if t.err != nil {
		return nil, e.report(ctx, t)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			e.instances--
			e.mu.Unlock()
		})
	}, nil
}

// CheckTimeout fails once now is at or past the session deadline.
func (e *Enforcer) CheckTimeout(ctx context.Context, now time.Time) error {
	e.mu.Lock()
	t := e.preflightLocked(now)
	e.mu.Unlock()

	return e.report(ctx, t)
}

// Check fails when the session is already exhausted or past its
// deadline. It charges nothing.
func (e *Enforcer) Check(ctx context.Context) error {
	return e.CheckTimeout(ctx, e.config.clock.Now())
}

// Deadline returns the session deadline, or the zero time when the
// session has none.
func (e *Enforcer) Deadline() time.Time {
	if e.limits.SessionTimeout <= 0 {
		return time.Time{}
	}
	return e.start.Add(e.limits.SessionTimeout)
}

// Limits returns the ceilings the enforcer was created with.
func (e *Enforcer) Limits() entities.BudgetLimits {
	return e.limits
}

// Exhausted reports whether the session has been trapped.
func (e *Enforcer) Exhausted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trap != nil
}

// Snapshot returns a point-in-time copy of the budget state.
func (e *Enforcer) Snapshot() entities.BudgetSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := entities.BudgetSnapshot{
		StartTime:              e.start,
		Deadline:               e.Deadline(),
		State:                  entities.BudgetActive,
		ComputeUnitsRemaining:  e.remainingLocked(),
		ComputeUnitsCharged:    e.charged,
		MemoryCeilingBytes:     e.limits.MemoryBytes,
		ActiveInstanceCount:    e.instances,
		MaxInstances:           e.limits.MaxInstances,
		ComputeCeilingDisabled: e.limits.ComputeUnits == 0,
	}
	if e.trap != nil {
		s.State = entities.BudgetExhausted
		s.TrappedOn = e.trap.Dimension
	}
	return s
}

// trapResult carries a failed check out of the locked region. fresh is
// set only for the call that moved the session to Exhausted.
type trapResult struct {
	err   *errors.BudgetExhaustedError
	fresh bool
}

func (e *Enforcer) remainingLocked() uint64 {
	if e.limits.ComputeUnits == 0 {
		return math.MaxUint64
	}
	return e.limits.ComputeUnits - e.charged
}

// preflightLocked returns the existing trap, or traps on the deadline.
func (e *Enforcer) preflightLocked(now time.Time) trapResult {
	if e.trap != nil {
		return trapResult{err: e.trap}
	}
	if deadline := e.Deadline(); !deadline.IsZero() && !now.Before(deadline) {
		return e.trapLocked(&errors.BudgetExhaustedError{
			Dimension: entities.DimensionTimeout,
			Reason:    fmt.Sprintf("session deadline %s passed", deadline.Format(time.RFC3339)),
		})
	}
	return trapResult{}
}

func (e *Enforcer) checkInstancesLocked(now time.Time) trapResult {
	if t := e.preflightLocked(now); t.err != nil {
		return t
	}
	if e.limits.MaxInstances > 0 && e.instances >= e.limits.MaxInstances {
		return e.trapLocked(&errors.BudgetExhaustedError{
			Dimension: entities.DimensionInstances,
			Requested: uint64(e.instances + 1),
			Limit:     uint64(e.limits.MaxInstances),
		})
	}
	return trapResult{}
}

// trapLocked moves the session to Exhausted. Only the first trap is
// kept; it is what every later call reports.
func (e *Enforcer) trapLocked(err *errors.BudgetExhaustedError) trapResult {
	if e.trap != nil {
		return trapResult{err: e.trap}
	}
	e.trap = err
	return trapResult{err: err, fresh: true}
}

// report records the transition to Exhausted once and returns the
// error. It must be called without the lock held.
func (e *Enforcer) report(ctx context.Context, t trapResult) error {
	if t.err == nil {
		return nil
	}
	if t.fresh {
		e.logger.WarnContext(ctx, "session budget exhausted",
			"dimension", string(t.err.Dimension),
			"requested", t.err.Requested,
			"limit", t.err.Limit,
		)
		e.config.sink.Record(ctx, entities.AuditEvent{
			Time:   e.config.clock.Now(),
			Type:   entities.EventBudgetExhausted,
			Reason: t.err.Error(),
			Details: map[string]any{
				"dimension": string(t.err.Dimension),
				"requested": t.err.Requested,
				"limit":     t.err.Limit,
			},
		})
	}
	return t.err
}
