// Package main provides the sentinel CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	sentinellog "github.com/sentinel-dev/sentinel/log"
)

var version = "0.1.0"

// app holds state shared by every subcommand.
type app struct {
	logs     *sentinellog.Broadcaster
	logger   *slog.Logger
	output   string
	logLevel string
	policy   policyFlags
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{logs: sentinellog.NewBroadcaster()}

	rootCmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Capability-gated execution authority for autonomous agents",
		Long: `sentinel mediates every side effect an agent takes.

Actions are checked against a policy, bound to short-lived capability
tokens, charged against a session budget and, above the risk threshold,
held until a human approves a signed manifest.

Commands:
  schema    Print the policy or tool request JSON schema
  validate  Check a policy document
  classify  Show how the policy treats one action
  run       Run a wasm agent under a session`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setupLogging(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.output, "output", "o", "text", "Output format (text, json, yaml)")
	flags.StringVar(&a.logLevel, "log-level", "warn", "Minimum log level (debug, info, warn, error)")
	a.policy.AddFlags(flags)

	rootCmd.AddCommand(
		newSchemaCmd(a),
		newValidateCmd(a),
		newClassifyCmd(a),
		newRunCmd(a),
	)
	return rootCmd
}

// setupLogging routes every record to the log stream and to stderr.
func (a *app) setupLogging(cmd *cobra.Command) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", a.logLevel, err)
	}
	stderr := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	a.logger = slog.New(sentinellog.NewStreamHandler(a.logs,
		sentinellog.WithLevel(level),
		sentinellog.WithDefaultTarget("sentinel::cli"),
		sentinellog.WithNext(stderr),
	))
	slog.SetDefault(a.logger)
	return nil
}
