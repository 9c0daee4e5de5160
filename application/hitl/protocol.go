// Package hitl implements the human-in-the-loop manifest protocol:
// high-risk actions wait for a single signed decision, and an approved
// manifest authorizes exactly one execution.
package hitl

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/domain/errors"
	"github.com/sentinel-dev/sentinel/domain/ports"
	"github.com/sentinel-dev/sentinel/internal/clock"
)

// protocolConfig holds configuration for the Protocol.
type protocolConfig struct {
	clock     clock.Clock
	sink      ports.EventSink
	channel   ports.ApprovalChannel
	logger    *slog.Logger
	entropy   io.Reader
	newID     func() string
	threshold entities.ApprovalThreshold
	timeout   time.Duration
}

func defaultProtocolConfig() protocolConfig {
	return protocolConfig{
		clock:     clock.Real(),
		sink:      ports.NopEventSink{},
		logger:    slog.Default(),
		entropy:   rand.Reader,
		newID:     uuid.NewString,
		threshold: entities.ThresholdHigh,
		timeout:   entities.DefaultApprovalTimeout,
	}
}

// ProtocolOption configures a Protocol.
type ProtocolOption func(*protocolConfig)

// WithClock sets the time source.
func WithClock(c clock.Clock) ProtocolOption {
	return func(cfg *protocolConfig) {
		cfg.clock = c
	}
}

// WithEventSink sets the audit sink.
func WithEventSink(s ports.EventSink) ProtocolOption {
	return func(cfg *protocolConfig) {
		cfg.sink = s
	}
}

// WithApprovalChannel sets where pending manifests are surfaced.
func WithApprovalChannel(ch ports.ApprovalChannel) ProtocolOption {
	return func(cfg *protocolConfig) {
		cfg.channel = ch
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ProtocolOption {
	return func(cfg *protocolConfig) {
		cfg.logger = l
	}
}

// WithThreshold sets the lowest risk level that needs a human.
func WithThreshold(t entities.ApprovalThreshold) ProtocolOption {
	return func(cfg *protocolConfig) {
		cfg.threshold = t
	}
}

// WithApprovalTimeout sets how long a manifest may stay pending.
func WithApprovalTimeout(d time.Duration) ProtocolOption {
	return func(cfg *protocolConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

// WithEntropy replaces the nonce source. Intended for tests.
func WithEntropy(r io.Reader) ProtocolOption {
	return func(cfg *protocolConfig) {
		cfg.entropy = r
	}
}

// WithIDGenerator replaces the manifest id generator. Intended for tests.
func WithIDGenerator(fn func() string) ProtocolOption {
	return func(cfg *protocolConfig) {
		cfg.newID = fn
	}
}

type record struct {
	manifest  *entities.ExecutionManifest
	decided   chan struct{} // closed when the manifest leaves pending
	expiresAt time.Time
}

// Protocol is the manifest store of one session. State transitions and
// nonce consumption are linearized per manifest by mu; no lock is held
// while waiting for a human.
type Protocol struct {
	signer    ports.Signer
	config    protocolConfig
	logger    *slog.Logger
	manifests map[string]*record
	consumed  map[string]struct{}
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
}

// NewProtocol creates a manifest protocol that signs with signer.
func NewProtocol(signer ports.Signer, opts ...ProtocolOption) *Protocol {
	cfg := defaultProtocolConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Protocol{
		signer:    signer,
		config:    cfg,
		logger:    cfg.logger.With("target", "sentinel::hitl"),
		manifests: make(map[string]*record),
		consumed:  make(map[string]struct{}),
		done:      make(chan struct{}),
	}
}

// Submit creates a manifest with a fresh nonce. Below the approval
// threshold it is approved and signed immediately; otherwise it stays
// pending and is surfaced on the approval channel.
func (p *Protocol) Submit(ctx context.Context, description string, parametersJSON string, risk entities.RiskLevel) (*entities.ExecutionManifest, error) {
	params := []byte(parametersJSON)
	if len(params) == 0 {
		params = []byte("{}")
	}
	if !json.Valid(params) {
		return nil, fmt.Errorf("manifest parameters are not valid JSON")
	}

	nonce := make([]byte, entities.NonceSize)
	if _, err := io.ReadFull(p.config.entropy, nonce); err != nil {
		return nil, fmt.Errorf("generate manifest nonce: %w", err)
	}

	now := p.config.clock.Now()
	m := &entities.ExecutionManifest{
		ID:                p.config.newID(),
		ActionDescription: description,
		Parameters:        json.RawMessage(params),
		Nonce:             nonce,
		ParametersHash:    HashParameters(params),
		RiskLevel:         risk,
		State:             entities.ManifestPending,
		CreatedAt:         now,
	}

	auto := !p.config.threshold.RequiresHuman(risk)
	if auto {
		if err := p.sign(m, entities.ManifestApproved, entities.SourceAuto); err != nil {
			return nil, err
		}
		m.DecidedAt = now
	}

	rec := &record{manifest: m, decided: make(chan struct{}), expiresAt: now.Add(p.config.timeout)}
	if auto {
		close(rec.decided)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, &errors.ManifestError{Reason: errors.ReasonCancelled, ManifestID: m.ID, Detail: "session closed"}
	}
	p.manifests[m.ID] = rec
	out := m.Clone()
	p.mu.Unlock()

	p.emit(ctx, entities.EventManifestSubmitted, out, map[string]any{
		"description": description,
		"risk_level":  risk.String(),
	})
	if auto {
		p.emit(ctx, entities.EventManifestApproved, out, map[string]any{"source": string(entities.SourceAuto)})
		return out, nil
	}

	if p.config.channel != nil {
		req := entities.ApprovalRequest{
			ManifestID:        out.ID,
			ActionDescription: description,
			ParametersJSON:    string(params),
			RiskLevel:         risk,
			CreatedAt:         now,
			ExpiresAt:         rec.expiresAt,
		}
		if err := p.config.channel.Notify(ctx, req, p.Decide); err != nil {
			p.logger.WarnContext(ctx, "approval channel failed; manifest stays pending until it expires",
				"manifest_id", out.ID, "error", err)
		}
	}
	return out, nil
}

// Decide records a single human decision on a pending manifest.
func (p *Protocol) Decide(ctx context.Context, manifestID string, approved bool) error {
	decision := entities.ManifestRejected
	if approved {
		decision = entities.ManifestApproved
	}
	now := p.config.clock.Now()

	p.mu.Lock()
	rec, ok := p.manifests[manifestID]
	if !ok {
		p.mu.Unlock()
		return &errors.ManifestError{Reason: errors.ReasonNotFound, ManifestID: manifestID}
	}
	m := rec.manifest
	switch {
	case m.State == entities.ManifestExpired:
		p.mu.Unlock()
		return &errors.ManifestError{Reason: errors.ReasonManifestExpired, ManifestID: manifestID}
	case m.State != entities.ManifestPending:
		state := m.State
		p.mu.Unlock()
		return &errors.ManifestError{Reason: errors.ReasonAlreadyDecided, ManifestID: manifestID, Detail: string(state)}
	case !now.Before(rec.expiresAt):
		p.expireLocked(rec, now)
		out := m.Clone()
		p.mu.Unlock()
		p.emit(ctx, entities.EventManifestExpired, out, nil)
		return &errors.ManifestError{Reason: errors.ReasonManifestExpired, ManifestID: manifestID}
	}
	if approved {
		if err := p.sign(m, decision, entities.SourceHuman); err != nil {
			p.mu.Unlock()
			return err
		}
	} else {
		// Only approvals carry a signature.
		m.State = decision
		m.Source = entities.SourceHuman
		m.Signature = nil
	}
	m.DecidedAt = now
	close(rec.decided)
	out := m.Clone()
	p.mu.Unlock()

	event := entities.EventManifestRejected
	if approved {
		event = entities.EventManifestApproved
	}
	p.emit(ctx, event, out, map[string]any{"source": string(entities.SourceHuman)})
	return nil
}

// Wait blocks until the manifest leaves pending, its approval timeout
// passes, ctx is cancelled or the protocol is closed. It returns nil
// only for an approved manifest.
func (p *Protocol) Wait(ctx context.Context, manifestID string) error {
	p.mu.RLock()
	rec, ok := p.manifests[manifestID]
	var expiresAt time.Time
	var decided chan struct{}
	if ok {
		expiresAt, decided = rec.expiresAt, rec.decided
	}
	p.mu.RUnlock()
	if !ok {
		return &errors.ManifestError{Reason: errors.ReasonNotFound, ManifestID: manifestID}
	}

	timer := p.config.clock.NewTimer(expiresAt.Sub(p.config.clock.Now()))
	defer timer.Stop()

	select {
	case <-decided:
	case <-timer.C:
		p.ExpireStale(ctx)
	case <-p.done:
	case <-ctx.Done():
		return &errors.ManifestError{Reason: errors.ReasonCancelled, ManifestID: manifestID, Detail: ctx.Err().Error()}
	}
	return p.outcome(manifestID)
}

func (p *Protocol) outcome(manifestID string) error {
	p.mu.RLock()
	state := p.manifests[manifestID].manifest.State
	closed := p.closed
	p.mu.RUnlock()

	switch state {
	case entities.ManifestApproved, entities.ManifestConsumed:
		return nil
	case entities.ManifestRejected:
		return &errors.ManifestError{Reason: errors.ReasonNotApproved, ManifestID: manifestID, Detail: "rejected"}
	case entities.ManifestExpired:
		if closed {
			return &errors.ManifestError{Reason: errors.ReasonCancelled, ManifestID: manifestID, Detail: "session closed"}
		}
		return &errors.ManifestError{Reason: errors.ReasonManifestExpired, ManifestID: manifestID}
	default:
		return &errors.ManifestError{Reason: errors.ReasonNotApproved, ManifestID: manifestID, Detail: string(state)}
	}
}

// AuthorizeExecution consumes an approved manifest. The signature and
// parameter hash are verified, and the nonce is burned so the same
// approval can never authorize a second execution.
func (p *Protocol) AuthorizeExecution(ctx context.Context, manifestID string) (*entities.ExecutionManifest, error) {
	pub := p.signer.PublicKey()

	p.mu.Lock()
	rec, ok := p.manifests[manifestID]
	if !ok {
		p.mu.Unlock()
		return nil, &errors.ManifestError{Reason: errors.ReasonNotFound, ManifestID: manifestID}
	}
	m := rec.manifest

	var failure *errors.ManifestError
	_, replayed := p.consumed[string(m.Nonce)]
	switch {
	case m.State == entities.ManifestConsumed || replayed:
		failure = &errors.ManifestError{Reason: errors.ReasonReplayDetected, ManifestID: manifestID}
	case m.State == entities.ManifestExpired:
		failure = &errors.ManifestError{Reason: errors.ReasonManifestExpired, ManifestID: manifestID}
	case m.State != entities.ManifestApproved:
		failure = &errors.ManifestError{Reason: errors.ReasonNotApproved, ManifestID: manifestID, Detail: string(m.State)}
	default:
		if err := VerifyManifest(pub, m); err != nil {
			failure = &errors.ManifestError{Reason: errors.ReasonSignatureInvalid, ManifestID: manifestID, Detail: err.Error()}
		}
	}
	if failure != nil {
		out := m.Clone()
		p.mu.Unlock()
		if failure.Reason == errors.ReasonReplayDetected {
			p.emit(ctx, entities.EventManifestReplay, out, nil)
		}
		return nil, failure
	}

	p.consumed[string(m.Nonce)] = struct{}{}
	m.State = entities.ManifestConsumed
	out := m.Clone()
	p.mu.Unlock()

	p.emit(ctx, entities.EventManifestConsumed, out, nil)
	return out, nil
}

// ExpireStale moves every pending manifest past its approval timeout to
// expired and returns how many changed.
func (p *Protocol) ExpireStale(ctx context.Context) int {
	now := p.config.clock.Now()

	p.mu.Lock()
	var expired []*entities.ExecutionManifest
	for _, rec := range p.manifests {
		if rec.manifest.State == entities.ManifestPending && !now.Before(rec.expiresAt) {
			p.expireLocked(rec, now)
			expired = append(expired, rec.manifest.Clone())
		}
	}
	p.mu.Unlock()

	slices.SortFunc(expired, compareManifests)
	for _, m := range expired {
		p.emit(ctx, entities.EventManifestExpired, m, nil)
	}
	return len(expired)
}

// Status returns the manifest's state without side effects.
func (p *Protocol) Status(manifestID string) (entities.ManifestStatus, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.manifests[manifestID]
	if !ok {
		return entities.ManifestStatus{}, &errors.ManifestError{Reason: errors.ReasonNotFound, ManifestID: manifestID}
	}
	return rec.manifest.Status(), nil
}

// Get returns a copy of a manifest.
func (p *Protocol) Get(manifestID string) (*entities.ExecutionManifest, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.manifests[manifestID]
	if !ok {
		return nil, false
	}
	return rec.manifest.Clone(), true
}

// Pending returns the approval requests still waiting for a human,
// oldest first.
func (p *Protocol) Pending() []entities.ApprovalRequest {
	p.mu.RLock()
	var out []entities.ApprovalRequest
	for _, rec := range p.manifests {
		m := rec.manifest
		if m.State != entities.ManifestPending {
			continue
		}
		out = append(out, entities.ApprovalRequest{
			ManifestID:        m.ID,
			ActionDescription: m.ActionDescription,
			ParametersJSON:    string(m.Parameters),
			RiskLevel:         m.RiskLevel,
			CreatedAt:         m.CreatedAt,
			ExpiresAt:         rec.expiresAt,
		})
	}
	p.mu.RUnlock()

	slices.SortFunc(out, func(a, b entities.ApprovalRequest) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ManifestID, b.ManifestID)
	})
	return out
}

// Close expires every pending manifest and wakes all waiters. Further
// submissions fail. Close is idempotent.
func (p *Protocol) Close(ctx context.Context) {
	now := p.config.clock.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	var expired []*entities.ExecutionManifest
	for _, rec := range p.manifests {
		if rec.manifest.State == entities.ManifestPending {
			p.expireLocked(rec, now)
			expired = append(expired, rec.manifest.Clone())
		}
	}
	close(p.done)
	p.mu.Unlock()

	slices.SortFunc(expired, compareManifests)
	for _, m := range expired {
		p.emit(ctx, entities.EventManifestExpired, m, map[string]any{"reason": "session closed"})
	}
}

func (p *Protocol) expireLocked(rec *record, now time.Time) {
	rec.manifest.State = entities.ManifestExpired
	rec.manifest.Source = entities.SourceHost
	rec.manifest.DecidedAt = now
	close(rec.decided)
}

// sign sets state, source and signature on m. m is left untouched when
// signing fails.
func (p *Protocol) sign(m *entities.ExecutionManifest, decision entities.ManifestState, source entities.DecisionSource) error {
	digest, err := SigningDigest(m, decision, source)
	if err != nil {
		return err
	}
	sig, err := p.signer.Sign(digest)
	if err != nil {
		return fmt.Errorf("sign manifest %s: %w", m.ID, err)
	}
	m.State = decision
	m.Source = source
	m.Signature = sig
	return nil
}

func (p *Protocol) emit(ctx context.Context, t entities.EventType, m *entities.ExecutionManifest, details map[string]any) {
	p.config.sink.Record(ctx, entities.AuditEvent{
		Time:       p.config.clock.Now(),
		Type:       t,
		ManifestID: m.ID,
		Details:    details,
	})
}

func compareManifests(a, b *entities.ExecutionManifest) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
