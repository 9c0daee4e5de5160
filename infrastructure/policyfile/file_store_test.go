package policyfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileStore_LoadMissingIsDefaultDeny(t *testing.T) {
	store := NewFileStore(WithPath(filepath.Join(t.TempDir(), "absent.yaml")))

	cfg, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Filesystem.Read.Allow)
	assert.Equal(t, entities.ThresholdHigh, cfg.HITL.Threshold)
	assert.Equal(t, entities.ScopeModeExact, cfg.Tokens.ScopeMode)
}

func TestFileStore_LoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, "policy.yaml", `
filesystem:
  read:
    allow: ["/data/**"]
hitl:
  approval_timeout: 45s
`)
	cfg, err := NewFileStore(WithPath(path)).Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"/data/**"}, cfg.Filesystem.Read.Allow)
	assert.Equal(t, 45*time.Second, cfg.HITL.ApprovalTimeout.Std())
	assert.Equal(t, entities.DefaultTokenTTL, cfg.Tokens.DefaultTTL.Std())
	assert.Equal(t, int64(entities.DefaultMaxReadBytes), cfg.Filesystem.MaxReadBytes)
}

func TestFileStore_LoadJSONC(t *testing.T) {
	path := writeFile(t, "policy.jsonc", `{
  // commands the agent may run
  "exec": {"commands": {"allow": ["git", "ls"]}},
}`)
	cfg, err := NewFileStore(WithPath(path)).Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"git", "ls"}, cfg.Exec.Commands.Allow)
}

func TestDecode_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		file  string
		doc   string
		field string
	}{
		{
			name:  "unknown key",
			file:  "p.yaml",
			doc:   "filesytem: {}\n",
			field: "(root)",
		},
		{
			name:  "bad threshold",
			file:  "p.yaml",
			doc:   "hitl:\n  threshold: always\n",
			field: "hitl.threshold",
		},
		{
			name:  "bad method",
			file:  "p.json",
			doc:   `{"network": {"methods": ["TRACE"]}}`,
			field: "PolicyConfig.Network.Methods[0]",
		},
		{
			name:  "relative working directory",
			file:  "p.yaml",
			doc:   "working_directory: work\n",
			field: "PolicyConfig.WorkingDirectory",
		},
	}

	v := DefaultValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, result, err := Decode(tt.file, []byte(tt.doc), v)
			assert.Nil(t, cfg)
			require.NotNil(t, result)
			assert.False(t, result.Valid)

			var cfgErr *errors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestDecode_WithoutValidator(t *testing.T) {
	cfg, result, err := Decode("p.yaml", []byte("exec:\n  commands:\n    allow: [git]\n"), nil)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, []string{"git"}, cfg.Exec.Commands.Allow)
}

func TestFileStore_SaveRoundTrip(t *testing.T) {
	for _, name := range []string{"policy.yaml", "policy.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			store := NewFileStore(WithPath(path))

			cfg := entities.DefaultPolicyConfig()
			cfg.Network.URLs.Allow = []string{"https://api.example.com/**"}
			cfg.Risk.Rules = []entities.RiskRule{{Kind: entities.KindShellExec, Pattern: "git", Level: entities.RiskLevelLow}}
			require.NoError(t, store.Save(cfg))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

			loaded, err := store.Load()
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
			assert.Equal(t, path, store.ConfigPath())
		})
	}
}
