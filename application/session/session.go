// Package session wires the authorization core of one agent run: the
// policy store, the capability token manager, the budget enforcer and
// the manifest protocol. Every privileged action passes Authorize.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sentinel-dev/sentinel/application/budget"
	"github.com/sentinel-dev/sentinel/application/capability"
	"github.com/sentinel-dev/sentinel/application/hitl"
	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/domain/errors"
	"github.com/sentinel-dev/sentinel/domain/policy"
	"github.com/sentinel-dev/sentinel/domain/ports"
	"github.com/sentinel-dev/sentinel/internal/clock"
)

// DefaultJanitorInterval is how often expired tokens are purged and
// stale manifests expired.
const DefaultJanitorInterval = 30 * time.Second

// sessionConfig holds configuration for a Session.
type sessionConfig struct {
	clock           clock.Clock
	sink            ports.EventSink
	channel         ports.ApprovalChannel
	logger          *slog.Logger
	id              string
	janitorInterval time.Duration
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{
		clock:           clock.Real(),
		sink:            ports.NopEventSink{},
		logger:          slog.Default(),
		janitorInterval: DefaultJanitorInterval,
	}
}

// Option configures a Session.
type Option func(*sessionConfig)

// WithClock sets the time source shared by every component.
func WithClock(c clock.Clock) Option {
	return func(cfg *sessionConfig) {
		cfg.clock = c
	}
}

// WithEventSink sets the audit sink.
func WithEventSink(s ports.EventSink) Option {
	return func(cfg *sessionConfig) {
		cfg.sink = s
	}
}

// WithApprovalChannel sets where pending manifests are surfaced.
func WithApprovalChannel(ch ports.ApprovalChannel) Option {
	return func(cfg *sessionConfig) {
		cfg.channel = ch
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *sessionConfig) {
		cfg.logger = l
	}
}

// WithID sets the session id. A random UUID is used otherwise.
func WithID(id string) Option {
	return func(cfg *sessionConfig) {
		cfg.id = id
	}
}

// WithJanitorInterval sets the purge interval. Zero disables the janitor.
func WithJanitorInterval(d time.Duration) Option {
	return func(cfg *sessionConfig) {
		cfg.janitorInterval = d
	}
}

// Session is the authorization core of one agent run.
type Session struct {
	policy *policy.Policy
	signer ports.Signer
	tokens *capability.Manager
	budget *budget.Enforcer
	hitl   *hitl.Protocol
	config sessionConfig
	logger *slog.Logger
	stop   chan struct{}
	id     string
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool
}

var _ ports.Authorizer = (*Session)(nil)

// New starts a session. The signer belongs to the session from here on
// and is destroyed by Close.
func New(p *policy.Policy, signer ports.Signer, opts ...Option) *Session {
	cfg := defaultSessionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.id == "" {
		cfg.id = uuid.NewString()
	}

	doc := p.Config()
	logger := cfg.logger.With("session_id", cfg.id)

	s := &Session{
		policy: p,
		signer: signer,
		config: cfg,
		logger: logger.With("target", "sentinel::session"),
		stop:   make(chan struct{}),
		id:     cfg.id,
	}
	s.tokens = capability.NewManager(p,
		capability.WithClock(cfg.clock),
		capability.WithEventSink(cfg.sink),
		capability.WithLogger(logger),
		capability.WithTTL(doc.Tokens.DefaultTTL.Std()),
	)
	s.budget = budget.NewEnforcer(doc.Limits(),
		budget.WithClock(cfg.clock),
		budget.WithEventSink(cfg.sink),
		budget.WithLogger(logger),
	)
	s.hitl = hitl.NewProtocol(signer,
		hitl.WithClock(cfg.clock),
		hitl.WithEventSink(cfg.sink),
		hitl.WithApprovalChannel(cfg.channel),
		hitl.WithLogger(logger),
		hitl.WithThreshold(doc.HITL.Threshold),
		hitl.WithApprovalTimeout(doc.HITL.ApprovalTimeout.Std()),
	)

	if cfg.janitorInterval > 0 {
		s.wg.Add(1)
		go s.janitor(cfg.janitorInterval)
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Policy returns the defaulted policy document.
func (s *Session) Policy() *entities.PolicyConfig { return s.policy.Config() }

// Budget returns a snapshot of the session budget.
func (s *Session) Budget() entities.BudgetSnapshot { return s.budget.Snapshot() }

// Deadline returns the session deadline, zero when there is none.
func (s *Session) Deadline() time.Time { return s.budget.Deadline() }

// Enforcer exposes the budget enforcer to the runtime that hosts guest
// instances.
func (s *Session) Enforcer() *budget.Enforcer { return s.budget }

// Authorize runs every gate for one privileged action, in order: budget
// charge, method allow-list, capability token, classification and, at
// or above the approval threshold, a signed manifest that is consumed
// here. No lock is held while waiting for the human.
func (s *Session) Authorize(ctx context.Context, req entities.ActionRequest) (*entities.Authorization, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	cost := req.Cost
	if cost == 0 {
		cost = s.policy.Config().CallCost(req.Kind)
	}
	if err := s.budget.Charge(ctx, cost); err != nil {
		return nil, err
	}

	if req.Kind == entities.KindNetworkRequest && req.Method != "" && !s.policy.AllowsMethod(req.Method) {
		reason := fmt.Sprintf("HTTP method %s is not allowed", req.Method)
		s.config.sink.Record(ctx, entities.AuditEvent{
			Time:     s.config.clock.Now(),
			Type:     entities.EventTokenDenied,
			Kind:     req.Kind,
			Resource: req.Resource,
			Reason:   reason,
		})
		return nil, &errors.PolicyViolationError{Kind: req.Kind, Resource: req.Resource, Reason: reason}
	}

	tokenID := req.TokenID
	if tokenID == "" {
		var err error
		if tokenID, err = s.tokens.Request(ctx, req.Kind, req.Resource); err != nil {
			return nil, err
		}
	}
	tok, canonical, err := s.tokens.Validate(ctx, tokenID, req.Kind, req.Resource)
	if err != nil {
		return nil, err
	}

	risk := s.policy.ClassifyCanonical(req.Kind, canonical)
	auth := &entities.Authorization{
		TokenID:   tok.ID,
		Canonical: canonical,
		Kind:      req.Kind,
		RiskLevel: risk,
	}
	if !s.policy.Config().HITL.Threshold.RequiresHuman(risk) {
		return auth, nil
	}

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("%s %s", req.Kind, canonical)
	}
	params := req.Parameters
	if len(params) == 0 {
		params, _ = json.Marshal(map[string]string{"kind": string(req.Kind), "resource": canonical})
	}
	m, err := s.hitl.Submit(ctx, description, string(params), risk)
	if err != nil {
		return nil, err
	}
	if err := s.hitl.Wait(ctx, m.ID); err != nil {
		return nil, err
	}

	// The token may have expired or been revoked during the wait.
	if _, _, err := s.tokens.Validate(ctx, tokenID, req.Kind, req.Resource); err != nil {
		return nil, err
	}
	if _, err := s.hitl.AuthorizeExecution(ctx, m.ID); err != nil {
		return nil, err
	}
	auth.ManifestID = m.ID
	auth.Gated = true
	return auth, nil
}

// RequestCapability returns a token id for kind/resource.
func (s *Session) RequestCapability(ctx context.Context, kind entities.ActionKind, resource string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	if err := s.budget.Check(ctx); err != nil {
		return "", err
	}
	return s.tokens.Request(ctx, kind, resource)
}

// ValidateCapability checks that tokenID authorizes kind on resource.
func (s *Session) ValidateCapability(ctx context.Context, tokenID string, kind entities.ActionKind, resource string) error {
	_, _, err := s.tokens.Validate(ctx, tokenID, kind, resource)
	return err
}

// ReleaseCapability revokes a token. Unknown ids are ignored.
func (s *Session) ReleaseCapability(ctx context.Context, tokenID string) {
	s.tokens.Revoke(ctx, tokenID)
}

// GetActiveTokens returns the currently valid tokens.
func (s *Session) GetActiveTokens() []entities.TokenSummary {
	return s.tokens.ListActive()
}

// SubmitForApproval creates a manifest and returns its id.
func (s *Session) SubmitForApproval(ctx context.Context, description string, parametersJSON string, risk entities.RiskLevel) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	if err := s.budget.Check(ctx); err != nil {
		return "", err
	}
	m, err := s.hitl.Submit(ctx, description, parametersJSON, risk)
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

// AwaitApproval blocks until the manifest is decided and consumes it
// when approved.
func (s *Session) AwaitApproval(ctx context.Context, manifestID string) error {
	if err := s.hitl.Wait(ctx, manifestID); err != nil {
		return err
	}
	_, err := s.hitl.AuthorizeExecution(ctx, manifestID)
	return err
}

// HandleApproval delivers a human decision.
func (s *Session) HandleApproval(ctx context.Context, manifestID string, approved bool) error {
	return s.hitl.Decide(ctx, manifestID, approved)
}

// ApprovalStatus reports a manifest's state without side effects.
func (s *Session) ApprovalStatus(manifestID string) (entities.ManifestStatus, error) {
	return s.hitl.Status(manifestID)
}

// PendingApprovals lists manifests waiting for a human.
func (s *Session) PendingApprovals() []entities.ApprovalRequest {
	return s.hitl.Pending()
}

// CheckBudget fails once the session budget is exhausted.
func (s *Session) CheckBudget(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.budget.Check(ctx)
}

// CheckMemory fails when an allocation would cross the memory ceiling.
func (s *Session) CheckMemory(ctx context.Context, bytes uint64) error {
	return s.budget.CheckMemory(ctx, bytes)
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool { return s.closed.Load() }

// Close tears the session down: the janitor stops, pending manifests
// expire and their waiters return, every token is revoked and the
// signing key is destroyed. Close is idempotent.
func (s *Session) Close(ctx context.Context) {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.stop)
		s.wg.Wait()

		s.hitl.Close(ctx)
		revoked := s.tokens.RevokeAll(ctx)
		s.signer.Destroy()

		snap := s.budget.Snapshot()
		s.config.sink.Record(ctx, entities.AuditEvent{
			Time: s.config.clock.Now(),
			Type: entities.EventSessionClosed,
			Details: map[string]any{
				"session_id":     s.id,
				"tokens_revoked": revoked,
				"budget_state":   string(snap.State),
				"compute_used":   snap.ComputeUnitsCharged,
			},
		})
		s.logger.InfoContext(ctx, "session closed", "tokens_revoked", revoked, "budget_state", string(snap.State))
	})
}

func (s *Session) checkOpen() error {
	if s.closed.Load() {
		return &errors.ManifestError{Reason: errors.ReasonCancelled, Detail: "session closed"}
	}
	return nil
}

func (s *Session) janitor(interval time.Duration) {
	defer s.wg.Done()
	ticker := s.config.clock.NewTicker(interval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			purged := s.tokens.PurgeExpired(ctx)
			expired := s.hitl.ExpireStale(ctx)
			if err := s.budget.Check(ctx); err != nil {
				s.logger.Debug("janitor observed exhausted budget", "error", err)
			}
			if purged+expired > 0 {
				s.logger.Debug("janitor pass", "tokens_purged", purged, "manifests_expired", expired)
			}
		}
	}
}
