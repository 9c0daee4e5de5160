package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/tetratelabs/wazero"

	"github.com/sentinel-dev/sentinel/application/schema"
	"github.com/sentinel-dev/sentinel/application/session"
	"github.com/sentinel-dev/sentinel/application/template"
	"github.com/sentinel-dev/sentinel/application/validation"
	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/host"
	"github.com/sentinel-dev/sentinel/hostfuncs"
	"github.com/sentinel-dev/sentinel/infrastructure/audit"
	"github.com/sentinel-dev/sentinel/infrastructure/prompter"
	"github.com/sentinel-dev/sentinel/infrastructure/signer"
	hostmodule "github.com/sentinel-dev/sentinel/infrastructure/wazero"
)

type runOptions struct {
	journal        string
	logStream      string
	entrypoint     string
	promptTemplate string
	janitor        time.Duration
	noWASI         bool
	summary        bool
	interactive    bool
}

type runSummary struct {
	SessionID     string                  `json:"session_id" yaml:"session_id"`
	Guest         string                  `json:"guest" yaml:"guest"`
	Error         string                  `json:"error,omitempty" yaml:"error,omitempty"`
	Budget        entities.BudgetSnapshot `json:"budget" yaml:"budget"`
	ToolCalls     map[string]uint64       `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`
	AuditEvents   int                     `json:"audit_events" yaml:"audit_events"`
	Denials       int                     `json:"denials" yaml:"denials"`
	DroppedLogs   uint64                  `json:"dropped_logs,omitempty" yaml:"dropped_logs,omitempty"`
	DurationMilli int64                   `json:"duration_ms" yaml:"duration_ms"`
}

func (s runSummary) renderText(w io.Writer) {
	status := "ok"
	if s.Error != "" {
		status = s.Error
	}
	_, _ = fmt.Fprintf(w, "session %s: guest %s finished in %dms: %s\n", s.SessionID, s.Guest, s.DurationMilli, status)
	_, _ = fmt.Fprintf(w, "  budget:  %s, %d compute units charged\n", s.Budget.State, s.Budget.ComputeUnitsCharged)
	_, _ = fmt.Fprintf(w, "  audit:   %d events, %d denials\n", s.AuditEvents, s.Denials)
	if len(s.ToolCalls) > 0 {
		names := make([]string, 0, len(s.ToolCalls))
		for name := range s.ToolCalls {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			_, _ = fmt.Fprintf(w, "  %-18s %d calls\n", name+":", s.ToolCalls[name])
		}
	}
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run GUEST.wasm [-- ARGS...]",
		Short: "Run a wasm agent under a fresh session",
		Long: `Run a wasm agent with the sentinel host tools.

The guest imports its tools from the "sentinel" host module. Every call
is authorized against the policy and charged to the session budget;
actions at or above the approval threshold are prompted for on the
terminal. The session is closed when the guest returns.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runGuest(cmd, opts, args[0], args[1:])
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.journal, "journal", "", "Append audit events to this JSON-lines file (overrides the policy)")
	flags.StringVar(&opts.logStream, "log-stream", "", "Write the UI log stream to this JSON-lines file")
	flags.StringVar(&opts.entrypoint, "entrypoint", "_start", "Guest export to call")
	flags.DurationVar(&opts.janitor, "janitor-interval", time.Minute, "How often expired tokens and stale manifests are purged")
	flags.BoolVar(&opts.noWASI, "no-wasi", false, "Do not provide wasi_snapshot_preview1 to the guest")
	flags.BoolVar(&opts.summary, "summary", false, "Print a session summary after the guest returns")
	flags.BoolVar(&opts.interactive, "prompt", false, "Prompt for approvals even when stdin is not a terminal")
	flags.StringVar(&opts.promptTemplate, "prompt-template", "", "Render approval prompts with this text/template file")
	return cmd
}

func (a *app) runGuest(cmd *cobra.Command, opts runOptions, path string, guestArgs []string) error {
	ctx := cmd.Context()
	start := time.Now()

	p, err := a.policy.load(a)
	if err != nil {
		return err
	}
	wasm, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read guest: %w", err)
	}

	if opts.logStream != "" {
		stop, err := a.streamLogs(opts.logStream)
		if err != nil {
			return err
		}
		defer stop()
	}

	recorderOpts := []audit.RecorderOption{audit.WithLogSink(a.logs), audit.WithLogger(a.logger)}
	journalPath := opts.journal
	if journalPath == "" {
		journalPath = p.Config().Audit.JournalPath
	}
	if journalPath != "" {
		journal, err := audit.OpenJournal(journalPath)
		if err != nil {
			return err
		}
		defer func() { _ = journal.Close() }()
		recorderOpts = append(recorderOpts, audit.WithJournal(journal))
	}
	recorder := audit.NewRecorder(recorderOpts...)

	sign, err := signer.New()
	if err != nil {
		return err
	}
	sessionOpts := []session.Option{
		session.WithEventSink(recorder),
		session.WithLogger(a.logger),
		session.WithJanitorInterval(opts.janitor),
	}
	promptOpts := []prompter.Option{prompter.WithLogger(a.logger)}
	if opts.promptTemplate != "" {
		text, err := os.ReadFile(opts.promptTemplate)
		if err != nil {
			return fmt.Errorf("failed to read prompt template: %w", err)
		}
		engine, err := template.New(string(text), template.WithName(filepath.Base(opts.promptTemplate)))
		if err != nil {
			return err
		}
		promptOpts = append(promptOpts, prompter.WithTemplate(engine))
	}
	prompt := prompter.NewCliPrompter(cmd.InOrStdin(), cmd.ErrOrStderr(), promptOpts...)
	if opts.interactive || prompt.IsInteractive() {
		sessionOpts = append(sessionOpts, session.WithApprovalChannel(prompt))
	} else {
		a.logger.WarnContext(ctx, "stdin is not a terminal; actions that need approval will expire",
			"target", "sentinel::hitl")
	}
	sess := session.New(p, sign, sessionOpts...)
	defer sess.Close(context.WithoutCancel(ctx))

	registry, err := newToolRegistry(a, sess)
	if err != nil {
		return err
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	runner, err := host.NewRunner(ctx, sess.Enforcer(),
		host.WithLogger(a.logger),
		host.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr()),
		host.WithArgs(guestArgs...),
		host.WithEntrypoint(opts.entrypoint),
		host.WithWASI(!opts.noWASI),
		host.WithHostModule(func(ctx context.Context, rt wazero.Runtime) error {
			return hostmodule.RegisterWithRuntime(ctx, rt, registry,
				hostmodule.WithMemoryChecker(sess),
				hostmodule.WithLogger(a.logger),
			)
		}),
	)
	if err != nil {
		return err
	}
	defer func() { _ = runner.Close(context.WithoutCancel(ctx)) }()

	guest, err := runner.Compile(ctx, name, wasm)
	if err == nil {
		err = runner.Run(ctx, guest)
	}

	if opts.summary {
		summary := runSummary{
			SessionID:     sess.ID(),
			Guest:         name,
			Budget:        sess.Budget(),
			ToolCalls:     registry.Calls(),
			DroppedLogs:   a.logs.Dropped(),
			DurationMilli: time.Since(start).Milliseconds(),
		}
		if err != nil {
			summary.Error = err.Error()
		}
		for _, ev := range recorder.Events() {
			summary.AuditEvents++
			if ev.IsFailure() {
				summary.Denials++
			}
		}
		if renderErr := render(cmd.ErrOrStderr(), a.output, summary); renderErr != nil && err == nil {
			err = renderErr
		}
	}
	return err
}

// newToolRegistry wires the gated tools behind the standard middleware
// chain.
func newToolRegistry(a *app, sess *session.Session) (*hostfuncs.HandlerRegistry, error) {
	schemas := schema.NewRegistry()
	tools := hostfuncs.NewToolset(sess,
		hostfuncs.WithLogSink(a.logs),
		hostfuncs.WithToolLogger(a.logger),
	)
	return hostfuncs.NewRegistry(
		hostfuncs.WithSchemaRegistry(schemas),
		hostfuncs.WithMiddleware(
			hostfuncs.PanicRecoveryMiddleware(),
			hostfuncs.LoggingMiddleware(a.logger),
			hostfuncs.BudgetGuardMiddleware(sess),
			hostfuncs.RequestSizeMiddleware(hostfuncs.DefaultMaxRequestSize),
			hostfuncs.SchemaValidationMiddleware(schemas, validation.NewSchemaValidator(schemas)),
		),
		tools.Register(),
	)
}

// streamLogs copies the UI log stream into path until stop is called.
func (a *app) streamLogs(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log stream: %w", err)
	}
	entries, cancel := a.logs.Subscribe(0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		enc := json.NewEncoder(f)
		for entry := range entries {
			_ = enc.Encode(entry)
		}
	}()
	return func() {
		cancel()
		wg.Wait()
		_ = f.Close()
	}, nil
}
