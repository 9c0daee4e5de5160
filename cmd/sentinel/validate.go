package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/domain/policy"
	"github.com/sentinel-dev/sentinel/infrastructure/policyfile"
)

type validationReport struct {
	Path   string                     `json:"path" yaml:"path"`
	Result *entities.ValidationResult `json:"result" yaml:"result"`
}

func (r validationReport) renderText(w io.Writer) {
	if r.Result.Valid {
		_, _ = fmt.Fprintf(w, "%s: valid\n", r.Path)
	} else {
		_, _ = fmt.Fprintf(w, "%s: invalid\n", r.Path)
	}
	for _, e := range r.Result.Errors {
		_, _ = fmt.Fprintf(w, "  error   %s: %s\n", e.Field, e.Message)
	}
	for _, e := range r.Result.Warnings {
		_, _ = fmt.Fprintf(w, "  warning %s: %s\n", e.Field, e.Message)
	}
}

func newValidateCmd(a *app) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate [policy-file]",
		Short: "Check a policy document against the schema and lint its rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.policy.store().ConfigPath()
			if len(args) == 1 {
				path = args[0]
			}
			report, err := validatePolicy(path)
			if err != nil {
				return err
			}
			if err := render(cmd.OutOrStdout(), a.output, report); err != nil {
				return err
			}
			switch {
			case !report.Result.Valid:
				return fmt.Errorf("policy %s is invalid", path)
			case strict && len(report.Result.Warnings) > 0:
				return fmt.Errorf("policy %s has %d warnings", path, len(report.Result.Warnings))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Treat lint warnings as failures")
	return cmd
}

// validatePolicy runs the loading pipeline and, when it succeeds, the
// rule compiler and linter.
func validatePolicy(path string) (validationReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return validationReport{}, fmt.Errorf("failed to read policy: %w", err)
	}

	report := validationReport{Path: path, Result: &entities.ValidationResult{Valid: true}}
	doc, result, err := policyfile.Decode(path, data, policyfile.DefaultValidator())
	if result != nil {
		report.Result = result
	}
	if err != nil {
		if report.Result.Valid {
			report.Result.AddError("document", err.Error())
		}
		return report, nil
	}

	p, err := policy.NewPolicy(doc, policy.WithDenialHandler(&policy.NopDenialHandler{}))
	if err != nil {
		report.Result.AddError("rules", err.Error())
		return report, nil
	}
	report.Result.Warnings = append(report.Result.Warnings, p.Lint().Warnings...)
	return report, nil
}
