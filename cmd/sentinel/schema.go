package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sentinel-dev/sentinel/application/schema"
	"github.com/sentinel-dev/sentinel/hostfuncs"
)

func newSchemaCmd(a *app) *cobra.Command {
	var (
		tool      string
		listTools bool
	)
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the policy or tool request JSON schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tool == "" && !listTools {
				data, err := schema.PolicySchema()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}

			schemas, err := toolSchemas()
			if err != nil {
				return err
			}
			if listTools {
				return render(cmd.OutOrStdout(), a.output, schemas.List())
			}
			s, ok := schemas.GetSchema(tool)
			if !ok {
				return fmt.Errorf("unknown tool %q (known: %s)", tool, strings.Join(schemas.List(), ", "))
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), s)
			return err
		},
	}
	cmd.Flags().StringVar(&tool, "tool", "", "Print the request schema of one host tool")
	cmd.Flags().BoolVar(&listTools, "list-tools", false, "List the host tools that have a request schema")
	return cmd
}

// toolSchemas collects the request schemas of the host tools. The
// toolset is never invoked, so it needs no authorizer.
func toolSchemas() (*schema.Registry, error) {
	schemas := schema.NewRegistry()
	if _, err := hostfuncs.NewRegistry(
		hostfuncs.WithSchemaRegistry(schemas),
		hostfuncs.NewToolset(nil).Register(),
	); err != nil {
		return nil, err
	}
	return schemas, nil
}
