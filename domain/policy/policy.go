package policy

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/domain/errors"
	"github.com/sentinel-dev/sentinel/domain/ports"
)

// policyConfig holds configuration for the Policy engine. Zero values
// fall back to the policy document.
type policyConfig struct {
	cwd             *string                // Working directory for relative path resolution
	resolveSymlinks *bool                  // Whether to resolve symlinks (security feature)
	scopeMode       entities.ScopeMode     // How narrow minted scopes are
	denialHandler   ports.DenialHandler    // Handler invoked on policy denials
	assessor        *entities.RiskAssessor // Built-in classification heuristics
}

func defaultPolicyConfig() policyConfig {
	return policyConfig{
		denialHandler: &LogDenialHandler{Logger: slog.Default()},
		assessor:      entities.NewRiskAssessor(),
	}
}

// PolicyOption configures the Policy.
type PolicyOption func(*policyConfig)

// WithWorkingDirectory sets the working directory for relative path
// resolution, overriding the document.
func WithWorkingDirectory(cwd string) PolicyOption {
	return func(c *policyConfig) {
		c.cwd = &cwd
	}
}

// WithSymlinkResolution enables/disables symlink resolution.
// Default is true (secure). Disable only for testing.
func WithSymlinkResolution(enabled bool) PolicyOption {
	return func(c *policyConfig) {
		c.resolveSymlinks = &enabled
	}
}

// WithScopeMode overrides the document's scope mode.
func WithScopeMode(mode entities.ScopeMode) PolicyOption {
	return func(c *policyConfig) {
		c.scopeMode = mode
	}
}

// WithDenialHandler sets the denial handler.
func WithDenialHandler(h ports.DenialHandler) PolicyOption {
	return func(c *policyConfig) {
		if h != nil {
			c.denialHandler = h
		}
	}
}

// WithRiskAssessor replaces the built-in classification heuristics.
func WithRiskAssessor(a *entities.RiskAssessor) PolicyOption {
	return func(c *policyConfig) {
		if a != nil {
			c.assessor = a
		}
	}
}

// Policy is the compiled, immutable policy store of one session.
// It holds no locks: nothing in it changes after NewPolicy returns.
type Policy struct {
	doc             *entities.PolicyConfig
	denialHandler   ports.DenialHandler
	assessor        *entities.RiskAssessor
	rules           map[entities.ActionKind][]compiledRule
	riskRules       []compiledRiskRule
	methods         map[string]struct{}
	cwd             string
	scopeMode       entities.ScopeMode
	resolveSymlinks bool
}

var _ ports.Policy = (*Policy)(nil)

type compiledRule struct {
	source    string // pattern as written
	match     string // canonical pattern
	index     int
	literal   int
	wildcards int
	exact     bool
	deny      bool
}

type compiledRiskRule struct {
	kind  entities.ActionKind
	match string
	level entities.RiskLevel
}

// NewPolicy compiles a policy document. Defaults are applied to a copy;
// the caller must not modify doc afterwards. Invalid patterns are
// rejected.
func NewPolicy(doc *entities.PolicyConfig, opts ...PolicyOption) (*Policy, error) {
	cfg := defaultPolicyConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if doc == nil {
		doc = entities.DefaultPolicyConfig()
	}
	copied := *doc
	copied.ApplyDefaults()

	p := &Policy{
		doc:             &copied,
		denialHandler:   cfg.denialHandler,
		assessor:        cfg.assessor,
		rules:           make(map[entities.ActionKind][]compiledRule),
		methods:         make(map[string]struct{}),
		cwd:             copied.WorkingDirectory,
		scopeMode:       copied.Tokens.ScopeMode,
		resolveSymlinks: copied.SymlinkResolution(),
	}
	if cfg.cwd != nil {
		p.cwd = *cfg.cwd
		p.doc.WorkingDirectory = p.cwd
	}
	if cfg.resolveSymlinks != nil {
		p.resolveSymlinks = *cfg.resolveSymlinks
	}
	if cfg.scopeMode != "" {
		p.scopeMode = cfg.scopeMode
	}

	for _, kind := range entities.AllActionKinds() {
		set := copied.Rules(kind)
		compiled := make([]compiledRule, 0, len(set.Allow)+len(set.Deny))
		for i, pattern := range set.Allow {
			r, err := p.compile(kind, pattern)
			if err != nil {
				return nil, &errors.ConfigError{Field: fmt.Sprintf("%s.allow[%d]", kind, i), Err: err}
			}
			r.index = len(compiled)
			compiled = append(compiled, r)
		}
		for i, pattern := range set.Deny {
			r, err := p.compile(kind, pattern)
			if err != nil {
				return nil, &errors.ConfigError{Field: fmt.Sprintf("%s.deny[%d]", kind, i), Err: err}
			}
			r.deny = true
			r.index = len(compiled)
			compiled = append(compiled, r)
		}
		p.rules[kind] = compiled
	}

	for i, rule := range copied.Risk.Rules {
		if !rule.Kind.IsValid() {
			return nil, &errors.ConfigError{Field: fmt.Sprintf("risk.rules[%d].kind", i), Err: fmt.Errorf("unknown action kind %q", rule.Kind)}
		}
		rr := compiledRiskRule{kind: rule.Kind, level: rule.Level}
		if rule.Pattern != "" {
			r, err := p.compile(rule.Kind, rule.Pattern)
			if err != nil {
				return nil, &errors.ConfigError{Field: fmt.Sprintf("risk.rules[%d].pattern", i), Err: err}
			}
			rr.match = r.match
		}
		p.riskRules = append(p.riskRules, rr)
	}

	for _, m := range copied.Network.Methods {
		p.methods[strings.ToUpper(m)] = struct{}{}
	}

	return p, nil
}

func (p *Policy) compile(kind entities.ActionKind, pattern string) (compiledRule, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return compiledRule{}, fmt.Errorf("empty pattern")
	}

	match := pattern
	switch kind.Class() {
	case entities.ResourcePath:
		var err error
		if match, err = canonicalPathPattern(pattern, p.cwd, p.resolveSymlinks); err != nil {
			return compiledRule{}, err
		}
	case entities.ResourceURL:
		match = canonicalURLPattern(pattern)
	case entities.ResourceCommand:
		if strings.ContainsRune(pattern, '/') {
			var err error
			if match, err = canonicalPathPattern(pattern, p.cwd, p.resolveSymlinks); err != nil {
				return compiledRule{}, err
			}
		}
	}

	if !doublestar.ValidatePattern(match) {
		return compiledRule{}, fmt.Errorf("invalid pattern %q", pattern)
	}

	literal := metaIndex(match)
	exact := literal < 0
	if exact {
		literal = len(match)
	}
	return compiledRule{
		source:    pattern,
		match:     match,
		literal:   literal,
		wildcards: countWildcards(match),
		exact:     exact,
	}, nil
}

// moreSpecific orders rules: an exact pattern beats a glob, then the
// longer literal prefix, then fewer wildcards, then deny over allow,
// then the earlier rule.
func moreSpecific(a, b compiledRule) bool {
	if a.exact != b.exact {
		return a.exact
	}
	if a.literal != b.literal {
		return a.literal > b.literal
	}
	if a.wildcards != b.wildcards {
		return a.wildcards < b.wildcards
	}
	if a.deny != b.deny {
		return a.deny
	}
	return a.index < b.index
}

func matches(pattern, subject string) bool {
	ok, err := doublestar.Match(pattern, subject)
	return err == nil && ok
}

// winner returns the most specific rule matching a canonical resource.
func (p *Policy) winner(kind entities.ActionKind, canonical string) (compiledRule, bool) {
	subject := matchSubject(kind, canonical)
	var best compiledRule
	found := false
	for _, r := range p.rules[kind] {
		if !matches(r.match, subject) {
			continue
		}
		if !found || moreSpecific(r, best) {
			best, found = r, true
		}
	}
	return best, found
}

// Canonicalize resolves a raw resource identifier.
func (p *Policy) Canonicalize(kind entities.ActionKind, resource string) (string, error) {
	switch kind.Class() {
	case entities.ResourcePath:
		return canonicalPath(resource, p.cwd, p.resolveSymlinks)
	case entities.ResourceURL:
		return canonicalURL(resource)
	case entities.ResourceCommand:
		return canonicalCommand(resource, p.cwd, p.resolveSymlinks)
	case entities.ResourceName:
		return canonicalName(resource)
	default:
		return "", fmt.Errorf("unknown action kind %q", kind)
	}
}

// NarrowestScope canonicalizes resource and returns the scope a token
// for it would carry.
func (p *Policy) NarrowestScope(kind entities.ActionKind, resource string) (entities.Scope, bool) {
	canonical, err := p.Canonicalize(kind, resource)
	if err != nil {
		p.denialHandler.OnDenial(kind, resource, err.Error())
		return entities.Scope{}, false
	}
	return p.ScopeFor(kind, canonical)
}

// ScopeFor returns the scope for an already canonical resource. In
// exact mode the scope names only that resource; in pattern mode it is
// the winning allow pattern.
func (p *Policy) ScopeFor(kind entities.ActionKind, canonical string) (entities.Scope, bool) {
	r, ok := p.winner(kind, canonical)
	if !ok {
		p.denialHandler.OnDenial(kind, canonical, "no allow rule matches")
		return entities.Scope{}, false
	}
	if r.deny {
		p.denialHandler.OnDenial(kind, canonical, fmt.Sprintf("denied by rule %q", r.source))
		return entities.Scope{}, false
	}

	if p.scopeMode == entities.ScopeModePattern {
		return entities.Scope{Kind: kind, Pattern: r.match, Rule: r.source, Exact: r.exact}, true
	}
	return entities.Scope{Kind: kind, Pattern: canonical, Rule: r.source, Exact: true}, true
}

// Covers reports whether scope authorizes canonical. The policy is
// consulted again so a deny carve-out inside a pattern scope holds.
func (p *Policy) Covers(scope entities.Scope, canonical string) bool {
	if scope.Exact {
		if canonical != scope.Pattern {
			return false
		}
	} else if !matches(scope.Pattern, matchSubject(scope.Kind, canonical)) {
		return false
	}
	r, ok := p.winner(scope.Kind, canonical)
	return ok && !r.deny
}

// Classify returns the risk level of an action. A resource that cannot
// be canonicalized is classified on its raw form.
func (p *Policy) Classify(kind entities.ActionKind, resource string) entities.RiskLevel {
	canonical, err := p.Canonicalize(kind, resource)
	if err != nil {
		canonical = strings.TrimSpace(resource)
	}
	return p.ClassifyCanonical(kind, canonical)
}

// ClassifyCanonical consults, in order: operator risk rules (first match
// wins), built-in escalations, operator per-kind defaults and the
// built-in baseline.
func (p *Policy) ClassifyCanonical(kind entities.ActionKind, canonical string) entities.RiskLevel {
	subject := matchSubject(kind, canonical)
	for _, rr := range p.riskRules {
		if rr.kind != kind {
			continue
		}
		if rr.match == "" || matches(rr.match, subject) {
			return rr.level
		}
	}
	if level, ok := p.assessor.Escalation(kind, canonical); ok {
		return level
	}
	if level, ok := p.doc.Risk.Defaults[kind]; ok {
		return level
	}
	return p.assessor.Baseline(kind)
}

// AllowsMethod reports whether an HTTP method is allowed.
func (p *Policy) AllowsMethod(method string) bool {
	_, ok := p.methods[strings.ToUpper(strings.TrimSpace(method))]
	return ok
}

// Config returns the defaulted policy document. Callers must not
// modify it.
func (p *Policy) Config() *entities.PolicyConfig {
	return p.doc
}

// WorkingDirectory returns the directory relative paths resolve against.
func (p *Policy) WorkingDirectory() string {
	return p.cwd
}

// Lint reports allow rules that grant excessive access.
func (p *Policy) Lint() *entities.ValidationResult {
	result := &entities.ValidationResult{Valid: true}
	for _, kind := range entities.AllActionKinds() {
		for _, r := range p.rules[kind] {
			if r.deny {
				continue
			}
			if p.assessor.IsBroad(kind, r.source) || p.assessor.IsBroad(kind, r.match) {
				result.AddWarning(string(kind), fmt.Sprintf("allow pattern %q is overly broad", r.source))
			}
		}
	}
	return result
}
