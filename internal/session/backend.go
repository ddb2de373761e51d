// Package session runs provider child processes (exec, tmux, docker) under a
// uniform Backend contract and drives the launch/poll/collect/stop
// lifecycle that turns stdout/stderr into event-log entries and
// run.yaml updates.
package session

import (
	"context"
	"time"
)

// Handle identifies a dispatched child across the backend that launched
// it. Fields are backend-specific: ExecBackend only populates PID,
// DockerBackend populates ContainerID.
type Handle struct {
	Backend     string
	PID         int
	ContainerID string
}

// State is the dispatch-level state of a child process, distinct from
// workspace.RunStatus: the backend only knows whether the process is
// alive and how it died, not what that means for the run.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateUnknown   State = "unknown"
)

// Status is a point-in-time read of a dispatched child.
type Status struct {
	State    State
	ExitCode int
}

// ChunkFunc receives a raw stdout/stderr chunk as it is produced. stream
// is "stdout" or "stderr".
type ChunkFunc func(stream string, chunk []byte)

// LaunchOpts describes a single child-process launch.
type LaunchOpts struct {
	Argv       []string
	Env        map[string]string
	StdinText  string
	WorkDir    string
	StdoutPath string
	StderrPath string
	OnChunk    ChunkFunc
	Image      string // docker backend only
}

// Backend dispatches, observes, and tears down a single child process.
// ExecBackend runs the argv directly; DockerBackend runs it inside a
// container.
type Backend interface {
	Name() string
	Launch(ctx context.Context, opts LaunchOpts) (Handle, error)
	Status(h Handle) (Status, error)
	Kill(h Handle) error
	Cleanup(h Handle) error
}

// maxChunkBytes bounds the size of a single provider.raw event payload;
// larger reads are split across multiple events.
const maxChunkBytes = 32 * 1024

// pollInterval is how often callers waiting on Status should re-check a
// running handle.
const pollInterval = 250 * time.Millisecond
