// Package heartbeat implements the per-workspace periodic loop that
// scores worker agents, selects wake targets, and turns worker reports
// into idempotent actions or approval proposals.
package heartbeat

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/antigravity-dev/agentco/internal/apperr"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

// QuietHours is a local-clock window, [StartHour,EndHour). Equal bounds
// disable the window; StartHour > EndHour wraps past midnight.
type QuietHours struct {
	StartHour int `yaml:"start_hour"`
	EndHour   int `yaml:"end_hour"`
}

// Contains reports whether t's local hour falls inside the window.
func (q QuietHours) Contains(t time.Time) bool {
	if q.StartHour == q.EndHour {
		return false
	}
	h := t.Local().Hour()
	if q.StartHour < q.EndHour {
		return h >= q.StartHour && h < q.EndHour
	}
	return h >= q.StartHour || h < q.EndHour
}

// Config is .local/heartbeat/config.yaml.
type Config struct {
	TickInterval           int        `yaml:"tick_interval_seconds"`
	DueHorizonMinutes      int        `yaml:"due_horizon_minutes"`
	StuckJobRunningMinutes int        `yaml:"stuck_job_running_minutes"`
	OKSuppressionMinutes   int        `yaml:"ok_suppression_minutes"`
	QuietHours             QuietHours `yaml:"quiet_hours"`
	MinWakeScore           int        `yaml:"min_wake_score"`
	TopKWorkers            int        `yaml:"top_k_workers"`
	JitterMaxSeconds       int        `yaml:"jitter_max_seconds"`
	MaxAutoActionsPerTick  int        `yaml:"max_auto_actions_per_tick"`
	MaxAutoActionsPerHour  int        `yaml:"max_auto_actions_per_hour"`
	IdempotencyTTLMinutes  int        `yaml:"idempotency_ttl_minutes"`
}

// DefaultConfig applies zero-value-safe defaults at read time rather
// than baking them into the type's zero value.
func DefaultConfig() Config {
	return Config{
		TickInterval:           60,
		DueHorizonMinutes:      120,
		StuckJobRunningMinutes: 45,
		OKSuppressionMinutes:   30,
		QuietHours:             QuietHours{StartHour: 0, EndHour: 0},
		MinWakeScore:           3,
		TopKWorkers:            3,
		JitterMaxSeconds:       20,
		MaxAutoActionsPerTick:  5,
		MaxAutoActionsPerHour:  20,
		IdempotencyTTLMinutes:  1440,
	}
}

// LoadConfig reads config.yaml, falling back to defaults for a missing
// file and filling any zero fields a partially-written file omitted.
func LoadConfig(ws *workspace.Workspace) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(ws.HeartbeatConfigYAML())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, apperr.Wrap(apperr.KindFatal, "read heartbeat config", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, apperr.Wrap(apperr.KindValidation, "parse heartbeat config", err)
	}
	return cfg, nil
}

func SaveConfig(ws *workspace.Workspace, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return workspace.AtomicWriteFile(ws.HeartbeatConfigYAML(), data, 0o644)
}
