package entities

import (
	"fmt"
	"path/filepath"
	"strings"
)

// RiskLevel orders actions by how much damage they can do. The zero
// value is Low.
type RiskLevel int

const (
	RiskLevelLow RiskLevel = iota
	RiskLevelMedium
	RiskLevelHigh
	RiskLevelCritical
)

// String returns the lower-case name of the level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLevelLow:
		return "low"
	case RiskLevelMedium:
		return "medium"
	case RiskLevelHigh:
		return "high"
	case RiskLevelCritical:
		return "critical"
	default:
		return fmt.Sprintf("risk(%d)", int(r))
	}
}

// ParseRiskLevel parses a level name, case-insensitively.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLevelLow, nil
	case "medium":
		return RiskLevelMedium, nil
	case "high":
		return RiskLevelHigh, nil
	case "critical":
		return RiskLevelCritical, nil
	}
	return RiskLevelLow, fmt.Errorf("unknown risk level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (r RiskLevel) MarshalText() ([]byte, error) {
	if r < RiskLevelLow || r > RiskLevelCritical {
		return nil, fmt.Errorf("invalid risk level %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RiskLevel) UnmarshalText(text []byte) error {
	level, err := ParseRiskLevel(string(text))
	if err != nil {
		return err
	}
	*r = level
	return nil
}

// Security domain knowledge used by the built-in classifier.
var (
	// DangerousShells allow arbitrary command execution.
	DangerousShells = []string{
		"bash", "sh", "zsh", "fish", "dash", "ksh", "csh", "tcsh",
		"/bin/bash", "/bin/sh", "/bin/zsh", "/usr/bin/bash", "/usr/bin/env",
	}

	// DangerousInterpreters match base names and versioned variants
	// (python3, python3.12).
	DangerousInterpreters = []string{
		"python", "perl", "ruby", "node", "nodejs",
		"php", "lua", "awk", "gawk", "tclsh", "osascript",
	}

	// DestructiveCommands are escalated even when allowed by policy.
	DestructiveCommands = []string{
		"rm", "dd", "mkfs", "shred", "chmod", "chown", "sudo", "su", "curl", "wget",
	}

	// SensitivePathFragments mark files that hold secrets or identity.
	SensitivePathFragments = []string{
		"/.env", "/.ssh/", "/.aws/", "/.gnupg/", "/.kube/", "/.docker/config.json",
		"/etc/shadow", "/etc/sudoers", "id_rsa", "id_ed25519", ".pem", ".key", "credentials",
	}

	// BroadFilesystemPatterns grant far more than a task normally needs.
	BroadFilesystemPatterns = []string{
		"**", "/**", "/", "/*", "/etc/**", "/root/**", "/home/**", "/Users/**",
	}

	// BroadURLPatterns allow any endpoint.
	BroadURLPatterns = []string{"*", "**", "http://**", "https://**", "https://*/**", "http://*/**"}
)

// riskAssessorConfig holds configuration for the RiskAssessor.
type riskAssessorConfig struct {
	customBroadPatterns map[ActionKind][]string
	extraSensitive      []string
}

func defaultRiskAssessorConfig() riskAssessorConfig {
	return riskAssessorConfig{
		customBroadPatterns: make(map[ActionKind][]string),
	}
}

// RiskAssessorOption configures a RiskAssessor instance.
type RiskAssessorOption func(*riskAssessorConfig)

// WithCustomBroadPatterns adds additional patterns considered "broad" for a kind.
func WithCustomBroadPatterns(kind ActionKind, patterns []string) RiskAssessorOption {
	return func(c *riskAssessorConfig) {
		c.customBroadPatterns[kind] = append(c.customBroadPatterns[kind], patterns...)
	}
}

// WithSensitivePaths adds path fragments that escalate file access.
func WithSensitivePaths(fragments ...string) RiskAssessorOption {
	return func(c *riskAssessorConfig) {
		c.extraSensitive = append(c.extraSensitive, fragments...)
	}
}

// RiskAssessor holds the built-in heuristics: per-kind baselines and
// the escalations for dangerous commands and sensitive paths.
type RiskAssessor struct {
	config riskAssessorConfig
}

// NewRiskAssessor creates a new RiskAssessor with the given options.
func NewRiskAssessor(opts ...RiskAssessorOption) *RiskAssessor {
	cfg := defaultRiskAssessorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RiskAssessor{config: cfg}
}

// Baseline returns the default level for a kind. Unknown kinds are
// Critical so that an unclassifiable action always needs a human.
func (r *RiskAssessor) Baseline(kind ActionKind) RiskLevel {
	switch kind {
	case KindFileRead, KindUIObserve:
		return RiskLevelLow
	case KindFileWrite, KindNetworkRequest, KindUIDispatch:
		return RiskLevelMedium
	case KindShellExec:
		return RiskLevelHigh
	default:
		return RiskLevelCritical
	}
}

// Escalation returns the level the heuristics assign to a canonical
// resource, and false when no heuristic applies.
func (r *RiskAssessor) Escalation(kind ActionKind, canonical string) (RiskLevel, bool) {
	switch kind {
	case KindShellExec:
		program := Program(canonical)
		if matchesAny(program, DangerousShells) || matchesAny(filepath.Base(program), DangerousShells) || matchesInterpreter(program) {
			return RiskLevelCritical, true
		}
		if matchesAny(filepath.Base(program), DestructiveCommands) {
			return RiskLevelCritical, true
		}
	case KindFileRead, KindFileWrite:
		if r.isSensitivePath(canonical) {
			return RiskLevelHigh, true
		}
	case KindCredentialAccess, KindFinancialOp:
		return RiskLevelCritical, true
	}
	return RiskLevelLow, false
}

// BroadPatterns returns the patterns treated as over-broad for kind.
func (r *RiskAssessor) BroadPatterns(kind ActionKind) []string {
	var base []string
	switch kind.Class() {
	case ResourcePath:
		base = BroadFilesystemPatterns
	case ResourceURL:
		base = BroadURLPatterns
	case ResourceCommand, ResourceName:
		base = []string{"*", "**"}
	}
	out := make([]string, 0, len(base)+len(r.config.customBroadPatterns[kind]))
	out = append(out, base...)
	return append(out, r.config.customBroadPatterns[kind]...)
}

// IsBroad reports whether an allow pattern grants excessive access.
func (r *RiskAssessor) IsBroad(kind ActionKind, pattern string) bool {
	return matchesAny(pattern, r.BroadPatterns(kind))
}

func (r *RiskAssessor) isSensitivePath(p string) bool {
	lower := strings.ToLower(p)
	for _, frag := range SensitivePathFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	for _, frag := range r.config.extraSensitive {
		if strings.Contains(lower, strings.ToLower(frag)) {
			return true
		}
	}
	return false
}

func matchesAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if s == p {
			return true
		}
	}
	return false
}

// matchesInterpreter checks base names and versioned variants.
func matchesInterpreter(cmd string) bool {
	base := filepath.Base(cmd)
	for _, interp := range DangerousInterpreters {
		if base == interp {
			return true
		}
		if rest, ok := strings.CutPrefix(base, interp); ok && rest != "" && strings.Trim(rest, "0123456789.") == "" {
			return true
		}
	}
	return false
}
