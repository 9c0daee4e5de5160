package hostfuncs

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sentinel-dev/sentinel/domain/entities"
)

// Environment variable security tiers.
// Tier 1: always blocked, nothing can grant these (linker injection vectors).
// Tier 2: gated, each one needs its own credential_access grant "env:<NAME>".
var (
	alwaysBlockedEnvPrefixes = []string{
		"LD_",   // Linux dynamic linker (LD_PRELOAD, LD_LIBRARY_PATH, LD_AUDIT, etc.)
		"DYLD_", // macOS dynamic linker (DYLD_INSERT_LIBRARIES, etc.)
	}

	alwaysBlockedEnvExact = []string{
		"IFS",      // Shell internal field separator - can alter parsing
		"LOCPATH",  // Custom locale path - can execute code via locale files
		"BASH_ENV", // Executed by non-interactive bash shells
		"ENV",      // Executed by POSIX sh
	}

	gatedEnv = []string{
		"PATH", "HOME",
		"PYTHONPATH", "PYTHONSTARTUP", "PYTHONHOME",
		"NODE_OPTIONS", "NODE_PATH",
		"RUBYLIB", "PERL5LIB", "LUA_PATH", "LUA_CPATH",
		"CDPATH",
		"PS4", // Shell debug prompt (can execute code in some shells)
	}
)

// EnvGate decides whether a gated variable may be passed to a command.
type EnvGate func(ctx context.Context, name string) bool

// SanitizeEnv drops malformed, always-blocked and ungranted gated
// variables from env.
func SanitizeEnv(ctx context.Context, env []string, gate EnvGate, logger *slog.Logger) []string {
	if len(env) == 0 {
		return env
	}
	if logger == nil {
		logger = slog.Default()
	}

	sanitized := make([]string, 0, len(env))
	for _, e := range env {
		key, _, found := strings.Cut(e, "=")
		if !found || key == "" {
			logger.WarnContext(ctx, "malformed environment variable skipped", "target", "sentinel::exec", "env", e)
			continue
		}
		upperKey := strings.ToUpper(key)

		if IsAlwaysBlockedEnv(upperKey) {
			logger.WarnContext(ctx, "blocked dangerous environment variable",
				"target", "sentinel::exec", "env_var", key, "reason", "always_blocked")
			continue
		}
		if IsGatedEnv(upperKey) && (gate == nil || !gate(ctx, upperKey)) {
			logger.WarnContext(ctx, "blocked environment variable (not granted)",
				"target", "sentinel::exec", "env_var", key, "required", "credential_access env:"+upperKey)
			continue
		}
		sanitized = append(sanitized, e)
	}
	return sanitized
}

// IsAlwaysBlockedEnv checks if an environment variable key is always blocked.
func IsAlwaysBlockedEnv(upperKey string) bool {
	for _, prefix := range alwaysBlockedEnvPrefixes {
		if strings.HasPrefix(upperKey, prefix) {
			return true
		}
	}
	return slices.Contains(alwaysBlockedEnvExact, upperKey)
}

// IsGatedEnv reports whether a variable needs an explicit grant.
func IsGatedEnv(upperKey string) bool {
	return slices.Contains(gatedEnv, upperKey)
}

// ExecutionType describes how dangerous a command invocation looks.
type ExecutionType string

const (
	ExecSafe        ExecutionType = "safe"
	ExecShell       ExecutionType = "shell"
	ExecInterpreter ExecutionType = "interpreter code execution"
	ExecSuspicious  ExecutionType = "suspicious execution"
)

// codeFlags are the inline-code flags per interpreter family.
var codeFlags = map[string][]string{
	"python": {"-c", "--command"},
	"perl":   {"-e", "-E"},
	"ruby":   {"-e"},
	"irb":    {"-e"},
	"node":   {"-e", "--eval", "-p", "--print"},
	"nodejs": {"-e", "--eval", "-p", "--print"},
	"php":    {"-r"},
	"lua":    {"-e"},
	"tclsh":  {"-c"},
	"wish":   {"-c"},
}

var shells = []string{"sh", "bash", "dash", "zsh", "ksh", "csh", "tcsh", "fish"}

// DetectExecutionType classifies a command invocation.
func DetectExecutionType(command string, args []string) ExecutionType {
	base := filepath.Base(command)
	switch {
	case slices.Contains(shells, base) && len(args) > 0:
		return ExecShell
	case isAwkProgram(base, args), hasCodeFlag(base, args):
		return ExecInterpreter
	case hasSuspiciousFlags(args):
		return ExecSuspicious
	}
	return ExecSafe
}

// IsDangerousExecution reports whether the invocation runs arbitrary code.
func IsDangerousExecution(command string, args []string) bool {
	return DetectExecutionType(command, args) != ExecSafe
}

// family strips a version suffix: python3.12 -> python.
func family(base string) string {
	for _, interp := range entities.DangerousInterpreters {
		if rest, ok := strings.CutPrefix(base, interp); ok && strings.Trim(rest, "0123456789.") == "" {
			return interp
		}
	}
	return strings.TrimRight(base, "0123456789.")
}

func hasCodeFlag(base string, args []string) bool {
	flags, ok := codeFlags[family(base)]
	if !ok {
		return false
	}
	for _, arg := range args {
		for _, flag := range flags {
			if arg == flag || strings.HasPrefix(arg, flag+"=") {
				return true
			}
		}
	}
	return false
}

// isAwkProgram detects BEGIN/END blocks, which run without input.
func isAwkProgram(base string, args []string) bool {
	switch base {
	case "awk", "gawk", "mawk", "nawk":
	default:
		return false
	}
	for _, arg := range args {
		trimmed := strings.TrimSpace(arg)
		if strings.HasPrefix(trimmed, "BEGIN") || strings.HasPrefix(trimmed, "END") {
			return true
		}
	}
	return false
}

func hasSuspiciousFlags(args []string) bool {
	suspicious := []string{"-c", "-e", "-E", "-r", "--eval", "--command"}
	for _, arg := range args {
		if slices.Contains(suspicious, arg) {
			return true
		}
	}
	return false
}
