package heartbeat

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/antigravity-dev/agentco/internal/apperr"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

// WorkerState is the per-agent slice of state.yaml's worker_state map.
type WorkerState struct {
	LastOKAt         *time.Time `yaml:"last_ok_at,omitempty"`
	LastContextHash  string     `yaml:"last_context_hash,omitempty"`
	SuppressedUntil  *time.Time `yaml:"suppressed_until,omitempty"`
	LastWakeAt       *time.Time `yaml:"last_wake_at,omitempty"`
	LastReportStatus string     `yaml:"last_report_status,omitempty"`
}

// IdempotencyStatus discriminates an action's lifecycle within the
// idempotency ledger.
type IdempotencyStatus string

const (
	IdempotencyQueued   IdempotencyStatus = "queued"
	IdempotencyExecuted IdempotencyStatus = "executed"
)

// IdempotencyEntry is one value in state.yaml's idempotency map.
type IdempotencyEntry struct {
	FirstSeenAt    time.Time         `yaml:"first_seen_at"`
	LastSeenAt     time.Time         `yaml:"last_seen_at"`
	ExpiresAt      time.Time         `yaml:"expires_at"`
	Status         IdempotencyStatus `yaml:"status"`
	ExecutionCount int               `yaml:"execution_count"`
}

// Stats is a running tally surfaced by getStatus.
type Stats struct {
	TotalTicks       int `yaml:"total_ticks"`
	TotalWakes       int `yaml:"total_wakes"`
	TotalExecuted    int `yaml:"total_executed"`
	TotalDeduped     int `yaml:"total_deduped"`
	TotalProposed    int `yaml:"total_proposed"`
	TotalRateLimited int `yaml:"total_rate_limited"`
}

// State is .local/heartbeat/state.yaml.
type State struct {
	RunEventCursors      map[string]int              `yaml:"run_event_cursors"`
	WorkerState          map[string]WorkerState      `yaml:"worker_state"`
	Idempotency          map[string]IdempotencyEntry `yaml:"idempotency"`
	HourlyActionCounters map[string]int              `yaml:"hourly_action_counters"`
	Stats                Stats                       `yaml:"stats"`
}

func newState() *State {
	return &State{
		RunEventCursors:      map[string]int{},
		WorkerState:          map[string]WorkerState{},
		Idempotency:          map[string]IdempotencyEntry{},
		HourlyActionCounters: map[string]int{},
	}
}

func LoadState(ws *workspace.Workspace) (*State, error) {
	raw, err := os.ReadFile(ws.HeartbeatStateYAML())
	if err != nil {
		if os.IsNotExist(err) {
			return newState(), nil
		}
		return nil, apperr.Wrap(apperr.KindFatal, "read heartbeat state", err)
	}
	s := newState()
	if err := yaml.Unmarshal(raw, s); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "parse heartbeat state", err)
	}
	if s.RunEventCursors == nil {
		s.RunEventCursors = map[string]int{}
	}
	if s.WorkerState == nil {
		s.WorkerState = map[string]WorkerState{}
	}
	if s.Idempotency == nil {
		s.Idempotency = map[string]IdempotencyEntry{}
	}
	if s.HourlyActionCounters == nil {
		s.HourlyActionCounters = map[string]int{}
	}
	return s, nil
}

func SaveState(ws *workspace.Workspace, s *State) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return workspace.AtomicWriteFile(ws.HeartbeatStateYAML(), data, 0o644)
}

// hourBucket formats t as the YYYYMMDDHH key hourly_action_counters uses.
func hourBucket(t time.Time) string {
	return t.UTC().Format("2006010215")
}

// pruneExpiredIdempotency removes entries whose TTL has elapsed, keeping
// state.yaml from growing without bound across a long-lived workspace.
func (s *State) pruneExpiredIdempotency(now time.Time) {
	for k, e := range s.Idempotency {
		if now.After(e.ExpiresAt) {
			delete(s.Idempotency, k)
		}
	}
}
