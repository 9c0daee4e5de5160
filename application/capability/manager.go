// Package capability implements the capability token manager: it mints,
// validates, revokes and expires scoped tokens on behalf of one session.
package capability

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/domain/errors"
	"github.com/sentinel-dev/sentinel/domain/ports"
	"github.com/sentinel-dev/sentinel/internal/clock"
)

// managerConfig holds configuration for the Manager.
type managerConfig struct {
	clock     clock.Clock
	sink      ports.EventSink
	logger    *slog.Logger
	ttl       time.Duration
	retention time.Duration
	newID     func() string
}

func defaultManagerConfig() managerConfig {
	return managerConfig{
		clock:     clock.Real(),
		sink:      ports.NopEventSink{},
		logger:    slog.Default(),
		ttl:       entities.DefaultTokenTTL,
		retention: entities.DefaultTokenTTL,
		newID:     func() string { return ulid.Make().String() },
	}
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerConfig)

// WithClock sets the time source.
func WithClock(c clock.Clock) ManagerOption {
	return func(cfg *managerConfig) {
		cfg.clock = c
	}
}

// WithEventSink sets the audit sink.
func WithEventSink(s ports.EventSink) ManagerOption {
	return func(cfg *managerConfig) {
		cfg.sink = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(cfg *managerConfig) {
		cfg.logger = l
	}
}

// WithTTL sets the lifetime of minted tokens.
func WithTTL(d time.Duration) ManagerOption {
	return func(cfg *managerConfig) {
		if d > 0 {
			cfg.ttl = d
		}
	}
}

// WithRetention sets how long expired or revoked tokens stay in the
// store, so that validating them reports why they stopped working.
func WithRetention(d time.Duration) ManagerOption {
	return func(cfg *managerConfig) {
		if d >= 0 {
			cfg.retention = d
		}
	}
}

// WithIDGenerator replaces the ULID generator. Intended for tests.
func WithIDGenerator(fn func() string) ManagerOption {
	return func(cfg *managerConfig) {
		cfg.newID = fn
	}
}

// Manager owns the session's token store. Agents only ever see token
// ids; every use is re-validated against the store and the policy.
type Manager struct {
	policy  ports.Policy
	config  managerConfig
	logger  *slog.Logger
	tokens  map[string]*entities.CapabilityToken
	byScope map[entities.Scope]string
	mu      sync.RWMutex
}

// NewManager creates a token manager bound to policy.
func NewManager(policy ports.Policy, opts ...ManagerOption) *Manager {
	cfg := defaultManagerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{
		policy:  policy,
		config:  cfg,
		logger:  cfg.logger.With("target", "sentinel::capabilities"),
		tokens:  make(map[string]*entities.CapabilityToken),
		byScope: make(map[entities.Scope]string),
	}
}

// Request returns a token id covering resource. A still-valid token
// with the same scope is reused; otherwise a new one is minted. It
// fails with PolicyViolationError when no allow rule covers resource.
func (m *Manager) Request(ctx context.Context, kind entities.ActionKind, resource string) (string, error) {
	if !kind.IsValid() {
		return "", m.deny(ctx, kind, resource, "unknown action kind")
	}

	// Canonicalization may touch the filesystem; keep it outside the lock.
	canonical, err := m.policy.Canonicalize(kind, resource)
	if err != nil {
		return "", m.deny(ctx, kind, resource, err.Error())
	}
	scope, ok := m.policy.ScopeFor(kind, canonical)
	if !ok {
		return "", m.deny(ctx, kind, canonical, "no allow rule covers resource")
	}

	now := m.config.clock.Now()

	m.mu.Lock()
	if id, ok := m.byScope[scope]; ok {
		if tok := m.tokens[id]; tok != nil && tok.IsValid(now) {
			m.mu.Unlock()
			m.emit(ctx, entities.AuditEvent{Type: entities.EventTokenReused, Kind: kind, Resource: canonical, TokenID: id})
			return id, nil
		}
	}
	tok := &entities.CapabilityToken{
		ID:       m.config.newID(),
		Scope:    scope,
		IssuedAt: now,
		TTL:      m.config.ttl,
	}
	m.tokens[tok.ID] = tok
	m.byScope[scope] = tok.ID
	m.mu.Unlock()

	m.emit(ctx, entities.AuditEvent{
		Type:     entities.EventTokenMinted,
		Kind:     kind,
		Resource: canonical,
		TokenID:  tok.ID,
		Details:  map[string]any{"scope": scope.String(), "rule": scope.Rule, "ttl": tok.TTL.String()},
	})
	return tok.ID, nil
}

// Validate checks that tokenID authorizes an action of kind on resource
// right now. It returns a copy of the token and the canonical resource.
func (m *Manager) Validate(ctx context.Context, tokenID string, kind entities.ActionKind, resource string) (*entities.CapabilityToken, string, error) {
	canonical, cerr := m.policy.Canonicalize(kind, resource)
	if cerr != nil {
		canonical = strings.TrimSpace(resource)
	}
	now := m.config.clock.Now()

	m.mu.RLock()
	stored, ok := m.tokens[tokenID]
	var tok entities.CapabilityToken
	if ok {
		tok = *stored
	}
	m.mu.RUnlock()

	fail := func(reason errors.CapabilityReason) (*entities.CapabilityToken, string, error) {
		m.emit(ctx, entities.AuditEvent{
			Type:     entities.EventTokenInvalid,
			Kind:     kind,
			Resource: canonical,
			TokenID:  tokenID,
			Reason:   string(reason),
		})
		return nil, canonical, &errors.CapabilityError{Reason: reason, TokenID: tokenID, Kind: kind, Resource: canonical}
	}

	switch {
	case !ok:
		return fail(errors.ReasonUnknownToken)
	case tok.Scope.Kind != kind:
		return fail(errors.ReasonKindMismatch)
	case tok.Revoked:
		return fail(errors.ReasonRevoked)
	case !now.Before(tok.ExpiresAt()):
		return fail(errors.ReasonExpired)
	case cerr != nil || !m.policy.Covers(tok.Scope, canonical):
		return fail(errors.ReasonOutOfScope)
	}
	return &tok, canonical, nil
}

// Revoke marks a token revoked. Revoking an unknown or already revoked
// token is a no-op; it reports whether anything changed.
func (m *Manager) Revoke(ctx context.Context, tokenID string) bool {
	m.mu.Lock()
	tok, ok := m.tokens[tokenID]
	changed := ok && !tok.Revoked
	if changed {
		tok.Revoked = true
		if m.byScope[tok.Scope] == tokenID {
			delete(m.byScope, tok.Scope)
		}
	}
	m.mu.Unlock()

	if changed {
		m.emit(ctx, entities.AuditEvent{
			Type:     entities.EventTokenRevoked,
			Kind:     tok.Scope.Kind,
			Resource: tok.Scope.Pattern,
			TokenID:  tokenID,
		})
	}
	return changed
}

// RevokeAll revokes every live token and returns how many were revoked.
func (m *Manager) RevokeAll(ctx context.Context) int {
	m.mu.Lock()
	var revoked []entities.CapabilityToken
	for _, tok := range m.tokens {
		if !tok.Revoked {
			tok.Revoked = true
			revoked = append(revoked, *tok)
		}
	}
	clear(m.byScope)
	m.mu.Unlock()

	slices.SortFunc(revoked, compareTokens)
	for _, tok := range revoked {
		m.emit(ctx, entities.AuditEvent{
			Type:     entities.EventTokenRevoked,
			Kind:     tok.Scope.Kind,
			Resource: tok.Scope.Pattern,
			TokenID:  tok.ID,
			Reason:   "session closed",
		})
	}
	return len(revoked)
}

// ListActive returns the currently valid tokens, oldest first.
func (m *Manager) ListActive() []entities.TokenSummary {
	now := m.config.clock.Now()

	m.mu.RLock()
	active := make([]entities.CapabilityToken, 0, len(m.tokens))
	for _, tok := range m.tokens {
		if tok.IsValid(now) {
			active = append(active, *tok)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(active, compareTokens)
	out := make([]entities.TokenSummary, len(active))
	for i := range active {
		out[i] = active[i].Summary(now)
	}
	return out
}

// Get returns the observer view of one token.
func (m *Manager) Get(tokenID string) (entities.TokenSummary, bool) {
	now := m.config.clock.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.tokens[tokenID]
	if !ok {
		return entities.TokenSummary{}, false
	}
	return tok.Summary(now), true
}

// PurgeExpired drops tokens whose expiry lies more than the retention
// period in the past. Expiry of a token that was never revoked is
// recorded as an audit event.
func (m *Manager) PurgeExpired(ctx context.Context) int {
	now := m.config.clock.Now()

	m.mu.Lock()
	var purged []entities.CapabilityToken
	for id, tok := range m.tokens {
		if now.Before(tok.ExpiresAt().Add(m.config.retention)) {
			continue
		}
		delete(m.tokens, id)
		if m.byScope[tok.Scope] == id {
			delete(m.byScope, tok.Scope)
		}
		purged = append(purged, *tok)
	}
	m.mu.Unlock()

	slices.SortFunc(purged, compareTokens)
	for _, tok := range purged {
		if tok.Revoked {
			continue
		}
		m.emit(ctx, entities.AuditEvent{
			Type:     entities.EventTokenExpired,
			Kind:     tok.Scope.Kind,
			Resource: tok.Scope.Pattern,
			TokenID:  tok.ID,
		})
	}
	if len(purged) > 0 {
		m.logger.DebugContext(ctx, "purged capability tokens", "count", len(purged))
	}
	return len(purged)
}

func (m *Manager) deny(ctx context.Context, kind entities.ActionKind, resource, reason string) error {
	m.emit(ctx, entities.AuditEvent{Type: entities.EventTokenDenied, Kind: kind, Resource: resource, Reason: reason})
	return &errors.PolicyViolationError{Kind: kind, Resource: resource, Reason: reason}
}

func (m *Manager) emit(ctx context.Context, e entities.AuditEvent) {
	if e.Time.IsZero() {
		e.Time = m.config.clock.Now()
	}
	m.config.sink.Record(ctx, e)
}

func compareTokens(a, b entities.CapabilityToken) int {
	if c := a.IssuedAt.Compare(b.IssuedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
