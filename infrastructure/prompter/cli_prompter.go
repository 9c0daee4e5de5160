// Package prompter implements the terminal approval channel.
package prompter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sentinel-dev/sentinel/application/config"
	"github.com/sentinel-dev/sentinel/application/template"
	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/domain/ports"
)

const boxWidth = 60

type prompterConfig struct {
	logger   *slog.Logger
	template *template.Engine
	maxValue int
}

func defaultPrompterConfig() prompterConfig {
	return prompterConfig{logger: slog.Default(), maxValue: 200}
}

// Option configures a CliPrompter.
type Option func(*prompterConfig)

// WithLogger sets the logger used for decisions that could not be
// applied.
func WithLogger(l *slog.Logger) Option {
	return func(c *prompterConfig) { c.logger = l }
}

// WithMaxValueLength truncates long parameter values in the prompt.
func WithMaxValueLength(n int) Option {
	return func(c *prompterConfig) { c.maxValue = n }
}

// WithTemplate replaces the default box with a user template. The
// template sees manifest_id, risk, action, expires_at, parameters and
// parameters_json. A render failure falls back to the default box.
func WithTemplate(t *template.Engine) Option {
	return func(c *prompterConfig) { c.template = t }
}

// CliPrompter implements ports.ApprovalChannel for terminals. Prompts
// are shown one at a time; anything but an explicit yes is a rejection.
type CliPrompter struct {
	in      *bufio.Scanner
	raw     io.Reader
	out     io.Writer
	config  prompterConfig
	mu      sync.Mutex
	pending sync.WaitGroup
}

var _ ports.ApprovalChannel = (*CliPrompter)(nil)

// NewCliPrompter creates a new CliPrompter.
func NewCliPrompter(in io.Reader, out io.Writer, opts ...Option) *CliPrompter {
	cfg := defaultPrompterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CliPrompter{in: bufio.NewScanner(in), raw: in, out: out, config: cfg}
}

// IsInteractive checks if the input is a terminal.
func (p *CliPrompter) IsInteractive() bool {
	if f, ok := p.raw.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil {
			return false
		}
		return (stat.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

// Notify queues a prompt and returns immediately. The answer is
// delivered through decide.
func (p *CliPrompter) Notify(ctx context.Context, req entities.ApprovalRequest, decide ports.DecisionFunc) error {
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		approved := p.ask(req)
		if err := decide(context.WithoutCancel(ctx), req.ManifestID, approved); err != nil {
			p.config.logger.WarnContext(ctx, "approval decision not applied",
				"target", "sentinel::hitl", "manifest_id", req.ManifestID, "approved", approved, "error", err)
			p.mu.Lock()
			_, _ = fmt.Fprintf(p.out, "Decision for %s not applied: %v\n", req.ManifestID, err)
			p.mu.Unlock()
		}
	}()
	return nil
}

// Wait blocks until every queued prompt has been answered.
func (p *CliPrompter) Wait() {
	p.pending.Wait()
}

func (p *CliPrompter) ask(req entities.ApprovalRequest) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, _ = io.WriteString(p.out, p.render(req))
	_, _ = io.WriteString(p.out, "Approve? [y/N]: ")

	if !p.in.Scan() {
		_, _ = io.WriteString(p.out, "\n")
		return false
	}
	switch strings.ToLower(strings.TrimSpace(p.in.Text())) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func (p *CliPrompter) render(req entities.ApprovalRequest) string {
	if p.config.template != nil {
		out, err := p.config.template.Render(templateData(req))
		if err == nil {
			return out
		}
		p.config.logger.Warn("approval template failed; using default prompt",
			"target", "sentinel::hitl", "manifest_id", req.ManifestID, "error", err)
	}

	var b strings.Builder
	title := "─ approval required "
	b.WriteString("┌" + title + strings.Repeat("─", boxWidth-len([]rune(title))) + "\n")
	line := func(format string, args ...any) {
		b.WriteString("│ " + fmt.Sprintf(format, args...) + "\n")
	}
	line("manifest:  %s", req.ManifestID)
	line("risk:      %s", strings.ToUpper(req.RiskLevel.String()))
	line("action:    %s", req.ActionDescription)
	if !req.ExpiresAt.IsZero() {
		line("expires:   %s", req.ExpiresAt.Format(time.TimeOnly))
	}
	params, err := config.ParseParams(json.RawMessage(req.ParametersJSON))
	switch {
	case err != nil:
		line("parameters: %s", req.ParametersJSON)
	case len(params) > 0:
		line("parameters:")
		for _, l := range params.Lines(p.config.maxValue) {
			line("  %s", l)
		}
	}
	b.WriteString("└" + strings.Repeat("─", boxWidth) + "\n")
	return b.String()
}

func templateData(req entities.ApprovalRequest) map[string]any {
	params, err := config.ParseParams(json.RawMessage(req.ParametersJSON))
	if err != nil || params == nil {
		params = config.Params{}
	}
	expires := ""
	if !req.ExpiresAt.IsZero() {
		expires = req.ExpiresAt.Format(time.TimeOnly)
	}
	return map[string]any{
		"manifest_id":     req.ManifestID,
		"risk":            req.RiskLevel.String(),
		"action":          req.ActionDescription,
		"expires_at":      expires,
		"parameters":      map[string]any(params),
		"parameters_json": req.ParametersJSON,
	}
}
