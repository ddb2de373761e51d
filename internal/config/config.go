// Package config loads and validates agentco's operational/process
// configuration (agentco.toml): bind address, log level, tick
// intervals, concurrency limits, and default provider pricing. This is
// distinct from workspace content config (company.yaml, machine.yaml,
// task/agent frontmatter), which internal/workspace owns and loads
// from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/antigravity-dev/agentco/internal/workspace"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the top-level shape of agentco.toml.
type Config struct {
	General   General                               `toml:"general"`
	Workspace WorkspaceSection                       `toml:"workspace"`
	Recovery  Recovery                               `toml:"recovery"`
	RPC       RPC                                    `toml:"rpc"`
	Providers map[string]workspace.ProviderPricing   `toml:"providers"`
}

// General holds process-wide operational knobs.
type General struct {
	LogLevel                      string   `toml:"log_level"`
	LockFile                      string   `toml:"lock_file"`
	MaxConcurrentSessions         int      `toml:"max_concurrent_sessions"`             // internal/launchlane workspace_limit
	MaxConcurrentSessionsPerProvider int   `toml:"max_concurrent_sessions_per_provider"` // internal/launchlane provider_limit
	LaunchCooldown                Duration `toml:"launch_cooldown"`                     // parsed, defaulted and validated only; the launch lane does not read it
	IndexSyncDebounce             Duration `toml:"index_sync_debounce"`                 // internal/index.Worker debounce window
}

// WorkspaceSection lists the workspace roots this control plane watches
// at startup, generalizing the teacher's per-project Projects map to
// agentco's single-tenant-per-workspace-dir model.
type WorkspaceSection struct {
	Roots []string `toml:"roots"`
}

// Recovery configures the crash-reconciliation sweep.
type Recovery struct {
	SweepCron          string   `toml:"sweep_cron"`          // robfig/cron schedule, e.g. "*/5 * * * *"
	StartupGracePeriod Duration `toml:"startup_grace_period"` // parsed, defaulted and validated only; recovery uses its own fixed recovery.StartupGracePeriod constant
}

// RPC configures the JSON-RPC transport. An empty Bind serves over
// stdin/stdout; a non-empty Bind is a net.Listen address ("tcp" or
// "unix" socket path starting with "/" or "@").
type RPC struct {
	Bind string `toml:"bind"`
}

// Clone returns a deep copy of cfg so callers can safely mutate the result.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	cloned := *cfg
	cloned.Workspace.Roots = cloneStringSlice(cfg.Workspace.Roots)
	cloned.Providers = cloneProviderPricing(cfg.Providers)
	return &cloned
}

func cloneStringSlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneProviderPricing(in map[string]workspace.ProviderPricing) map[string]workspace.ProviderPricing {
	if in == nil {
		return nil
	}
	out := make(map[string]workspace.ProviderPricing, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Load reads and validates an agentco.toml configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	normalizePaths(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Reload reads and validates an agentco.toml configuration file. It
// mirrors Load but is named to reflect runtime refresh call sites.
func Reload(path string) (*Config, error) {
	return Load(path)
}

// LoadManager reads config from path and returns an RWMutex-backed thread-safe manager.
func LoadManager(path string) (ConfigManager, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	cfg, err := Reload(path)
	if err != nil {
		return nil, err
	}
	return NewRWMutexManager(cfg), nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.MaxConcurrentSessions == 0 {
		cfg.General.MaxConcurrentSessions = 10
	}
	if cfg.General.MaxConcurrentSessionsPerProvider == 0 {
		cfg.General.MaxConcurrentSessionsPerProvider = 3
	}
	if cfg.General.LaunchCooldown.Duration == 0 {
		cfg.General.LaunchCooldown.Duration = 2 * time.Second
	}
	if cfg.General.IndexSyncDebounce.Duration == 0 {
		cfg.General.IndexSyncDebounce.Duration = 500 * time.Millisecond
	}
	if cfg.Recovery.SweepCron == "" {
		cfg.Recovery.SweepCron = "*/5 * * * *"
	}
	if cfg.Recovery.StartupGracePeriod.Duration == 0 {
		cfg.Recovery.StartupGracePeriod.Duration = 30 * time.Second
	}
}

// normalizePaths expands "~" and trims whitespace for configured filesystem paths.
func normalizePaths(cfg *Config) {
	cfg.General.LockFile = ExpandHome(strings.TrimSpace(cfg.General.LockFile))
	for i, root := range cfg.Workspace.Roots {
		cfg.Workspace.Roots[i] = ExpandHome(strings.TrimSpace(root))
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

func validate(cfg *Config) error {
	if cfg.General.MaxConcurrentSessions < 0 {
		return fmt.Errorf("general.max_concurrent_sessions cannot be negative")
	}
	if cfg.General.MaxConcurrentSessionsPerProvider < 0 {
		return fmt.Errorf("general.max_concurrent_sessions_per_provider cannot be negative")
	}
	if cfg.General.LaunchCooldown.Duration < 0 {
		return fmt.Errorf("general.launch_cooldown cannot be negative")
	}
	if cfg.General.IndexSyncDebounce.Duration < 0 {
		return fmt.Errorf("general.index_sync_debounce cannot be negative")
	}
	if cfg.Recovery.StartupGracePeriod.Duration < 0 {
		return fmt.Errorf("recovery.startup_grace_period cannot be negative")
	}
	for name, pricing := range cfg.Providers {
		if pricing.Input < 0 || pricing.CachedInput < 0 || pricing.Output < 0 || pricing.ReasoningOutput < 0 {
			return fmt.Errorf("providers.%s: pricing rates cannot be negative", name)
		}
	}
	for i, root := range cfg.Workspace.Roots {
		if strings.TrimSpace(root) == "" {
			return fmt.Errorf("workspace.roots[%d] is empty", i)
		}
	}
	return nil
}

// ValidateReload rejects a reload that changes a field requiring a
// process restart to take effect safely: the RPC bind address (an
// already-accepting listener can't be moved without dropping
// connections) mirrors the teacher's state_db/bind restart guard.
func ValidateReload(oldCfg, newCfg *Config) error {
	if oldCfg == nil || newCfg == nil {
		return fmt.Errorf("invalid config state during reload")
	}
	if strings.TrimSpace(oldCfg.RPC.Bind) != strings.TrimSpace(newCfg.RPC.Bind) {
		return fmt.Errorf("rpc.bind changed (%q -> %q) and requires restart", oldCfg.RPC.Bind, newCfg.RPC.Bind)
	}
	return nil
}
