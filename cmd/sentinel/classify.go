package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sentinel-dev/sentinel/domain/entities"
)

type classification struct {
	Kind             entities.ActionKind `json:"kind" yaml:"kind"`
	Resource         string              `json:"resource" yaml:"resource"`
	Canonical        string              `json:"canonical,omitempty" yaml:"canonical,omitempty"`
	Scope            string              `json:"scope,omitempty" yaml:"scope,omitempty"`
	Reason           string              `json:"reason,omitempty" yaml:"reason,omitempty"`
	Risk             entities.RiskLevel  `json:"risk" yaml:"risk"`
	Allowed          bool                `json:"allowed" yaml:"allowed"`
	RequiresApproval bool                `json:"requires_approval" yaml:"requires_approval"`
}

func (c classification) renderText(w io.Writer) {
	verdict := "denied"
	switch {
	case c.Allowed && c.RequiresApproval:
		verdict = "allowed after human approval"
	case c.Allowed:
		verdict = "allowed"
	}
	_, _ = fmt.Fprintf(w, "%s %s: %s (risk %s)\n", c.Kind, c.Resource, verdict, c.Risk)
	if c.Canonical != "" && c.Canonical != c.Resource {
		_, _ = fmt.Fprintf(w, "  canonical: %s\n", c.Canonical)
	}
	if c.Scope != "" {
		_, _ = fmt.Fprintf(w, "  scope:     %s\n", c.Scope)
	}
	if c.Reason != "" {
		_, _ = fmt.Fprintf(w, "  reason:    %s\n", c.Reason)
	}
}

func newClassifyCmd(a *app) *cobra.Command {
	var method string
	cmd := &cobra.Command{
		Use:   "classify KIND RESOURCE",
		Short: "Show how the policy treats one action",
		Long: `Resolve an action against the policy without side effects.

KIND is one of: file_read, file_write, network_request, shell_exec,
credential_access, financial_op, ui_observe, ui_dispatch.`,
		Example: `  sentinel classify file_read ./notes.txt
  sentinel classify network_request https://api.example.com/v1 --method POST
  sentinel classify shell_exec "git status" -o json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := entities.ParseActionKind(args[0])
			if err != nil {
				return err
			}
			p, err := a.policy.load(a)
			if err != nil {
				return err
			}

			c := classification{Kind: kind, Resource: args[1], Risk: p.Classify(kind, args[1])}
			canonical, err := p.Canonicalize(kind, args[1])
			switch {
			case err != nil:
				c.Reason = err.Error()
			case kind == entities.KindNetworkRequest && !p.AllowsMethod(method):
				c.Canonical = canonical
				c.Reason = fmt.Sprintf("method %s is not allowed", method)
			default:
				c.Canonical = canonical
				if scope, ok := p.NarrowestScope(kind, args[1]); ok {
					c.Allowed = true
					c.Scope = scope.String()
				} else {
					c.Reason = "no allow rule covers the resource"
				}
			}
			c.RequiresApproval = p.Config().HITL.Threshold.RequiresHuman(c.Risk)
			return render(cmd.OutOrStdout(), a.output, c)
		},
	}
	cmd.Flags().StringVar(&method, "method", "GET", "HTTP method for network_request")
	return cmd
}
