package parser

import (
	"testing"
	"time"

	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlPolicy = `
filesystem:
  read:
    allow: ["/data/**"]
    deny: ["/data/secret/**"]
  max_read_bytes: 4096
network:
  urls:
    allow: ["https://api.example.com/**"]
hitl:
  threshold: medium
  approval_timeout: 90s
risk:
  defaults:
    ui_observe: medium
  rules:
    - kind: shell_exec
      pattern: "git"
      level: low
`

const jsoncPolicy = `{
  // reads only
  "filesystem": {
    "read": {"allow": ["/data/**"],},
  },
  /* short approvals */
  "hitl": {"threshold": "critical", "approval_timeout": "10s"},
}`

func TestYAMLParser_Parse(t *testing.T) {
	cfg, err := NewYAMLParser().Parse([]byte(yamlPolicy))
	require.NoError(t, err)

	assert.Equal(t, []string{"/data/**"}, cfg.Filesystem.Read.Allow)
	assert.Equal(t, []string{"/data/secret/**"}, cfg.Filesystem.Read.Deny)
	assert.Equal(t, int64(4096), cfg.Filesystem.MaxReadBytes)
	assert.Equal(t, entities.ThresholdMedium, cfg.HITL.Threshold)
	assert.Equal(t, 90*time.Second, cfg.HITL.ApprovalTimeout.Std())
	assert.Equal(t, entities.RiskLevelMedium, cfg.Risk.Defaults[entities.KindUIObserve])
	require.Len(t, cfg.Risk.Rules, 1)
	assert.Equal(t, entities.RiskLevelLow, cfg.Risk.Rules[0].Level)
}

func TestYAMLParser_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "filesytem: {}\n"},
		{"bad duration", "hitl:\n  approval_timeout: soon\n"},
		{"bad risk level", "risk:\n  rules:\n    - kind: shell_exec\n      level: extreme\n"},
		{"malformed", "filesystem: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewYAMLParser().Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestYAMLParser_Empty(t *testing.T) {
	cfg, err := NewYAMLParser().Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Filesystem.Read.Allow)

	doc, err := NewYAMLParser().Document([]byte("# nothing\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, doc)
}

func TestYAMLParser_Document(t *testing.T) {
	doc, err := NewYAMLParser().Document([]byte(yamlPolicy))
	require.NoError(t, err)

	root := doc.(map[string]any)
	fs := root["filesystem"].(map[string]any)
	assert.Equal(t, float64(4096), fs["max_read_bytes"])
}

func TestJSONCParser(t *testing.T) {
	p := NewJSONCParser()

	cfg, err := p.Parse([]byte(jsoncPolicy))
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/**"}, cfg.Filesystem.Read.Allow)
	assert.Equal(t, entities.ThresholdCritical, cfg.HITL.Threshold)
	assert.Equal(t, 10*time.Second, cfg.HITL.ApprovalTimeout.Std())

	doc, err := p.Document([]byte(jsoncPolicy))
	require.NoError(t, err)
	assert.Contains(t, doc.(map[string]any), "hitl")

	_, err = p.Parse([]byte(`{"filesytem": {}}`))
	assert.Error(t, err)
}

func TestForPath(t *testing.T) {
	assert.IsType(t, &JSONCParser{}, ForPath("/etc/sentinel/policy.json"))
	assert.IsType(t, &JSONCParser{}, ForPath("policy.JSONC"))
	assert.IsType(t, &YAMLParser{}, ForPath("policy.yaml"))
	assert.IsType(t, &YAMLParser{}, ForPath("policy"))
}
