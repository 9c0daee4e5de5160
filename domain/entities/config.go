package entities

import (
	"fmt"
	"net/http"
	"time"
)

// Default policy values.
const (
	DefaultTokenTTL        = 5 * time.Minute
	DefaultMaxReadBytes    = 10 * 1024 * 1024
	DefaultRequestTimeout  = 30 * time.Second
	DefaultApprovalTimeout = 5 * time.Minute
	DefaultMemoryBytes     = 256 * 1024 * 1024
	DefaultComputeUnits    = 1_000_000_000
	DefaultMaxInstances    = 4
	DefaultSessionTimeout  = time.Hour
	DefaultCallCost        = 1
)

// DefaultHTTPMethods are allowed when the policy lists none.
var DefaultHTTPMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}

// PolicyConfig is the operator-supplied configuration surface. It is
// read once at session start and never mutated by the agent.
type PolicyConfig struct {
	Risk             RiskConfig       `json:"risk,omitempty" yaml:"risk,omitempty"`
	ResolveSymlinks  *bool            `json:"resolve_symlinks,omitempty" yaml:"resolve_symlinks,omitempty"`
	Budget           BudgetConfig     `json:"budget,omitempty" yaml:"budget,omitempty"`
	WorkingDirectory string           `json:"working_directory,omitempty" yaml:"working_directory,omitempty" validate:"omitempty,startswith=/"`
	Audit            AuditConfig      `json:"audit,omitempty" yaml:"audit,omitempty"`
	Filesystem       FilesystemConfig `json:"filesystem,omitempty" yaml:"filesystem,omitempty"`
	Network          NetworkConfig    `json:"network,omitempty" yaml:"network,omitempty"`
	Exec             ExecConfig       `json:"exec,omitempty" yaml:"exec,omitempty"`
	Credentials      PatternRules     `json:"credentials,omitempty" yaml:"credentials,omitempty"`
	Financial        PatternRules     `json:"financial,omitempty" yaml:"financial,omitempty"`
	UI               UIConfig         `json:"ui,omitempty" yaml:"ui,omitempty"`
	Tokens           TokenConfig      `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	HITL             HITLConfig       `json:"hitl,omitempty" yaml:"hitl,omitempty"`
}

// FilesystemConfig holds path rules and the read-size ceiling.
type FilesystemConfig struct {
	Read         PatternRules `json:"read,omitempty" yaml:"read,omitempty"`
	Write        PatternRules `json:"write,omitempty" yaml:"write,omitempty"`
	MaxReadBytes int64        `json:"max_read_bytes,omitempty" yaml:"max_read_bytes,omitempty" validate:"gte=0"`
}

// NetworkConfig holds endpoint rules. A trailing "/*" in a URL pattern
// matches everything below that path.
type NetworkConfig struct {
	URLs           PatternRules `json:"urls,omitempty" yaml:"urls,omitempty"`
	Methods        []string     `json:"methods,omitempty" yaml:"methods,omitempty" validate:"omitempty,dive,oneof=GET HEAD POST PUT PATCH DELETE OPTIONS"`
	RequestTimeout Duration     `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty" validate:"gte=0"`
	AllowPrivate   bool         `json:"allow_private,omitempty" yaml:"allow_private,omitempty"`
}

// ExecConfig holds command rules, matched against argv[0].
type ExecConfig struct {
	Commands PatternRules `json:"commands,omitempty" yaml:"commands,omitempty"`
}

// UIConfig holds rules for observing and driving the user interface.
type UIConfig struct {
	Observe  PatternRules `json:"observe,omitempty" yaml:"observe,omitempty"`
	Dispatch PatternRules `json:"dispatch,omitempty" yaml:"dispatch,omitempty"`
}

// TokenConfig controls minted tokens.
type TokenConfig struct {
	DefaultTTL Duration  `json:"default_ttl,omitempty" yaml:"default_ttl,omitempty" validate:"gte=0"`
	ScopeMode  ScopeMode `json:"scope_mode,omitempty" yaml:"scope_mode,omitempty" validate:"omitempty,oneof=exact pattern"`
}

// RiskRule assigns a level to actions of Kind whose canonical resource
// matches Pattern. An empty pattern matches every resource.
type RiskRule struct {
	Kind    ActionKind `json:"kind" yaml:"kind" validate:"required"`
	Pattern string     `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Level   RiskLevel  `json:"level" yaml:"level"`
}

// RiskConfig is the operator part of the classification table.
type RiskConfig struct {
	Defaults map[ActionKind]RiskLevel `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	Rules    []RiskRule               `json:"rules,omitempty" yaml:"rules,omitempty" validate:"omitempty,dive"`
}

// HITLConfig controls the approval gate.
type HITLConfig struct {
	Threshold       ApprovalThreshold `json:"threshold,omitempty" yaml:"threshold,omitempty" validate:"omitempty,oneof=none all low medium high critical"`
	ApprovalTimeout Duration          `json:"approval_timeout,omitempty" yaml:"approval_timeout,omitempty" validate:"gte=0"`
}

// BudgetConfig holds the session ceilings.
type BudgetConfig struct {
	CallCosts      map[ActionKind]uint64 `json:"call_costs,omitempty" yaml:"call_costs,omitempty"`
	ComputeUnits   uint64                `json:"compute_units,omitempty" yaml:"compute_units,omitempty"`
	MemoryBytes    uint64                `json:"memory_bytes,omitempty" yaml:"memory_bytes,omitempty"`
	MaxInstances   int                   `json:"max_instances,omitempty" yaml:"max_instances,omitempty" validate:"gte=0"`
	SessionTimeout Duration              `json:"session_timeout,omitempty" yaml:"session_timeout,omitempty" validate:"gte=0"`
}

// AuditConfig controls audit persistence.
type AuditConfig struct {
	JournalPath string `json:"journal_path,omitempty" yaml:"journal_path,omitempty"`
}

// DefaultPolicyConfig returns a deny-everything policy with default
// ceilings.
func DefaultPolicyConfig() *PolicyConfig {
	c := &PolicyConfig{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills every unset ceiling and knob.
func (c *PolicyConfig) ApplyDefaults() {
	if c.Filesystem.MaxReadBytes == 0 {
		c.Filesystem.MaxReadBytes = DefaultMaxReadBytes
	}
	if len(c.Network.Methods) == 0 {
		c.Network.Methods = append([]string(nil), DefaultHTTPMethods...)
	}
	if c.Network.RequestTimeout == 0 {
		c.Network.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	if c.Tokens.DefaultTTL == 0 {
		c.Tokens.DefaultTTL = Duration(DefaultTokenTTL)
	}
	if c.Tokens.ScopeMode == "" {
		c.Tokens.ScopeMode = ScopeModeExact
	}
	if c.HITL.Threshold == "" {
		c.HITL.Threshold = ThresholdHigh
	}
	if c.HITL.ApprovalTimeout == 0 {
		c.HITL.ApprovalTimeout = Duration(DefaultApprovalTimeout)
	}
	if c.Budget.ComputeUnits == 0 {
		c.Budget.ComputeUnits = DefaultComputeUnits
	}
	if c.Budget.MemoryBytes == 0 {
		c.Budget.MemoryBytes = DefaultMemoryBytes
	}
	if c.Budget.MaxInstances == 0 {
		c.Budget.MaxInstances = DefaultMaxInstances
	}
	if c.Budget.SessionTimeout == 0 {
		c.Budget.SessionTimeout = Duration(DefaultSessionTimeout)
	}
}

// Rules returns the allow/deny rules configured for kind.
func (c *PolicyConfig) Rules(kind ActionKind) PatternRules {
	switch kind {
	case KindFileRead:
		return c.Filesystem.Read
	case KindFileWrite:
		return c.Filesystem.Write
	case KindNetworkRequest:
		return c.Network.URLs
	case KindShellExec:
		return c.Exec.Commands
	case KindCredentialAccess:
		return c.Credentials
	case KindFinancialOp:
		return c.Financial
	case KindUIObserve:
		return c.UI.Observe
	case KindUIDispatch:
		return c.UI.Dispatch
	default:
		return PatternRules{}
	}
}

// SymlinkResolution reports whether symlinks are resolved before
// matching. It defaults to true.
func (c *PolicyConfig) SymlinkResolution() bool {
	return c.ResolveSymlinks == nil || *c.ResolveSymlinks
}

// Limits converts the budget section into enforcer limits.
func (c *PolicyConfig) Limits() BudgetLimits {
	return BudgetLimits{
		ComputeUnits:   c.Budget.ComputeUnits,
		MemoryBytes:    c.Budget.MemoryBytes,
		MaxInstances:   c.Budget.MaxInstances,
		SessionTimeout: c.Budget.SessionTimeout.Std(),
	}
}

// CallCost returns the compute charge for one action of kind.
func (c *PolicyConfig) CallCost(kind ActionKind) uint64 {
	if cost, ok := c.Budget.CallCosts[kind]; ok {
		return cost
	}
	return DefaultCallCost
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String implements fmt.Stringer.
func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}
