package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/agentco/internal/workspace"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentco.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validConfig = `
[general]
log_level = "info"
max_concurrent_sessions = 5
launch_cooldown = "3s"

[workspace]
roots = ["/tmp/agentco-test"]

[recovery]
sweep_cron = "*/5 * * * *"
startup_grace_period = "45s"

[rpc]
bind = "127.0.0.1:8900"

[providers.claude]
input = 0.003
output = 0.015
`

func TestLoad_AppliesDefaultsAndParsesFields(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "info", cfg.General.LogLevel)
	require.Equal(t, 5, cfg.General.MaxConcurrentSessions)
	require.Equal(t, "*/5 * * * *", cfg.Recovery.SweepCron)
	require.Equal(t, "127.0.0.1:8900", cfg.RPC.Bind)
	require.Equal(t, []string{"/tmp/agentco-test"}, cfg.Workspace.Roots)
	require.InDelta(t, 0.003, cfg.Providers["claude"].Input, 1e-9)
}

func TestLoad_FillsZeroFieldsWithDefaults(t *testing.T) {
	path := writeTestConfig(t, `
[workspace]
roots = ["/tmp/agentco-test"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "info", cfg.General.LogLevel)
	require.Equal(t, 10, cfg.General.MaxConcurrentSessions)
	require.Equal(t, "*/5 * * * *", cfg.Recovery.SweepCron)
	require.Equal(t, 30*time.Second, cfg.Recovery.StartupGracePeriod.Duration)
}

func TestLoad_RejectsNegativeConcurrencyLimit(t *testing.T) {
	path := writeTestConfig(t, `
[general]
max_concurrent_sessions = -1

[workspace]
roots = ["/tmp/agentco-test"]
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsEmptyWorkspaceRoot(t *testing.T) {
	path := writeTestConfig(t, `
[workspace]
roots = [""]
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsNegativeProviderPricing(t *testing.T) {
	path := writeTestConfig(t, `
[workspace]
roots = ["/tmp/agentco-test"]

[providers.claude]
input = -1
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestClone_IsIndependentOfSource(t *testing.T) {
	cfg := &Config{
		Workspace: WorkspaceSection{Roots: []string{"/a"}},
		Providers: map[string]workspace.ProviderPricing{"claude": {Input: 0.003}},
	}
	clone := cfg.Clone()
	clone.Workspace.Roots[0] = "/b"
	clone.Providers["claude"] = workspace.ProviderPricing{Input: 0.009}

	require.Equal(t, "/a", cfg.Workspace.Roots[0])
	require.InDelta(t, 0.003, cfg.Providers["claude"].Input, 1e-9)
}

func TestValidateReload_RejectsBindChange(t *testing.T) {
	old := &Config{RPC: RPC{Bind: "127.0.0.1:8900"}}
	next := &Config{RPC: RPC{Bind: "127.0.0.1:9000"}}
	require.Error(t, ValidateReload(old, next))
}

func TestValidateReload_AllowsUnrelatedChange(t *testing.T) {
	old := &Config{RPC: RPC{Bind: "127.0.0.1:8900"}, General: General{LogLevel: "info"}}
	next := &Config{RPC: RPC{Bind: "127.0.0.1:8900"}, General: General{LogLevel: "debug"}}
	require.NoError(t, ValidateReload(old, next))
}
