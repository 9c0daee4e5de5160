package prompter_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sentinel-dev/sentinel/application/template"
	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/infrastructure/prompter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decision struct {
	id       string
	approved bool
}

type decisions struct {
	mu  sync.Mutex
	got []decision
	err error
}

func (d *decisions) decide(_ context.Context, id string, approved bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, decision{id, approved})
	return d.err
}

func request(id string) entities.ApprovalRequest {
	return entities.ApprovalRequest{
		ManifestID:        id,
		ActionDescription: "shell_exec rm -rf build",
		ParametersJSON:    `{"command": "rm", "args": ["-rf", "build"]}`,
		RiskLevel:         entities.RiskLevelCritical,
		ExpiresAt:         time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC),
	}
}

func TestCliPrompter_Answers(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		approved bool
	}{
		{"yes", "y\n", true},
		{"yes long form", "  YES \n", true},
		{"no", "n\n", false},
		{"empty is default deny", "\n", false},
		{"anything else denies", "sure\n", false},
		{"eof denies", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			p := prompter.NewCliPrompter(bytes.NewBufferString(tt.input), out)
			d := &decisions{}

			require.NoError(t, p.Notify(context.Background(), request("m-1"), d.decide))
			p.Wait()

			require.Len(t, d.got, 1)
			assert.Equal(t, decision{"m-1", tt.approved}, d.got[0])
		})
	}
}

func TestCliPrompter_RendersManifest(t *testing.T) {
	out := &bytes.Buffer{}
	p := prompter.NewCliPrompter(bytes.NewBufferString("n\n"), out)
	d := &decisions{}

	require.NoError(t, p.Notify(context.Background(), request("m-42"), d.decide))
	p.Wait()

	s := out.String()
	assert.Contains(t, s, "approval required")
	assert.Contains(t, s, "manifest:  m-42")
	assert.Contains(t, s, "risk:      CRITICAL")
	assert.Contains(t, s, "action:    shell_exec rm -rf build")
	assert.Contains(t, s, "expires:   12:30:00")
	assert.Contains(t, s, `  args: ["-rf","build"]`)
	assert.Contains(t, s, "  command: rm")
	assert.Contains(t, s, "Approve? [y/N]: ")
}

func TestCliPrompter_SerializesPrompts(t *testing.T) {
	out := &bytes.Buffer{}
	p := prompter.NewCliPrompter(bytes.NewBufferString("y\nn\n"), out)
	d := &decisions{}

	require.NoError(t, p.Notify(context.Background(), request("a"), d.decide))
	require.NoError(t, p.Notify(context.Background(), request("b"), d.decide))
	p.Wait()

	require.Len(t, d.got, 2)
	approvedCount := 0
	for _, g := range d.got {
		if g.approved {
			approvedCount++
		}
	}
	assert.Equal(t, 1, approvedCount, "each line answers exactly one prompt")
	assert.Equal(t, 2, bytes.Count(out.Bytes(), []byte("Approve? [y/N]: ")))
}

func TestCliPrompter_RejectedDecisionIsReported(t *testing.T) {
	out := &bytes.Buffer{}
	p := prompter.NewCliPrompter(bytes.NewBufferString("y\n"), out)
	d := &decisions{err: errors.New("manifest expired")}

	require.NoError(t, p.Notify(context.Background(), request("late"), d.decide))
	p.Wait()

	assert.Contains(t, out.String(), "Decision for late not applied: manifest expired")
}

func TestCliPrompter_NotInteractive(t *testing.T) {
	p := prompter.NewCliPrompter(bytes.NewBufferString(""), &bytes.Buffer{})
	assert.False(t, p.IsInteractive())
}

func TestCliPrompter_Template(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		contains []string
		fallback bool
	}{
		{
			name:     "renders fields",
			text:     "{{.manifest_id}} [{{upper .risk}}] {{.action}} cmd={{.parameters.command}} until {{.expires_at}}\n",
			contains: []string{"m-7 [CRITICAL] shell_exec rm -rf build cmd=rm until 12:30:00"},
		},
		{
			name:     "missing key falls back to the box",
			text:     "{{.nope}}",
			contains: []string{"approval required", "manifest:  m-7"},
			fallback: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := template.New(tt.text)
			require.NoError(t, err)

			out := &bytes.Buffer{}
			p := prompter.NewCliPrompter(bytes.NewBufferString("y\n"), out, prompter.WithTemplate(engine))
			d := &decisions{}

			require.NoError(t, p.Notify(context.Background(), request("m-7"), d.decide))
			p.Wait()

			for _, c := range tt.contains {
				assert.Contains(t, out.String(), c)
			}
			if !tt.fallback {
				assert.NotContains(t, out.String(), "approval required")
			}
			assert.Equal(t, []decision{{"m-7", true}}, d.got)
		})
	}
}
