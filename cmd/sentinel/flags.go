package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/domain/policy"
	"github.com/sentinel-dev/sentinel/infrastructure/policyfile"
)

// policyFlags selects and adjusts the policy every subcommand loads.
type policyFlags struct {
	path       string
	workingDir string
	scopeMode  string
}

// AddFlags registers the policy flags.
func (f *policyFlags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&f.path, "policy", "p", "", "Policy file (default: ~/.sentinel/policy.yaml)")
	flagSet.StringVar(&f.workingDir, "working-dir", "", "Directory relative paths resolve against (overrides the policy)")
	flagSet.StringVar(&f.scopeMode, "scope-mode", "", "Token scope mode (exact, pattern; overrides the policy)")
}

func (f *policyFlags) store() *policyfile.FileStore {
	if f.path == "" {
		return policyfile.NewFileStore()
	}
	return policyfile.NewFileStore(policyfile.WithPath(f.path))
}

// load reads the policy document and compiles it. A missing file is the
// default deny-everything policy.
func (f *policyFlags) load(a *app) (*policy.Policy, error) {
	doc, err := f.store().Load()
	if err != nil {
		return nil, err
	}

	opts := []policy.PolicyOption{
		policy.WithDenialHandler(&policy.LogDenialHandler{Logger: a.logger}),
	}
	if f.workingDir != "" {
		opts = append(opts, policy.WithWorkingDirectory(f.workingDir))
	}
	switch mode := entities.ScopeMode(f.scopeMode); mode {
	case "":
	case entities.ScopeModeExact, entities.ScopeModePattern:
		opts = append(opts, policy.WithScopeMode(mode))
	default:
		return nil, fmt.Errorf("invalid --scope-mode %q", f.scopeMode)
	}
	return policy.NewPolicy(doc, opts...)
}
