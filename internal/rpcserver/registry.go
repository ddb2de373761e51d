package rpcserver

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/antigravity-dev/agentco/internal/eventlog"
	"github.com/antigravity-dev/agentco/internal/heartbeat"
	"github.com/antigravity-dev/agentco/internal/index"
	"github.com/antigravity-dev/agentco/internal/providers"
	"github.com/antigravity-dev/agentco/internal/session"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

// workspaceHandle bundles the per-workspace singletons every handler
// needs: the workspace itself, its projection index, and the event bus
// its runs publish to.
type workspaceHandle struct {
	ws  *workspace.Workspace
	ix  *index.Index
	bus *eventlog.Bus
}

// Registry lazily opens and caches one workspaceHandle per workspace_dir
// seen in method calls on any connection, and owns the long-lived
// services (heartbeat, session, index sync worker) that operate across
// every observed workspace. One Registry is shared by every Conn a
// Server serves.
type Registry struct {
	heartbeat   *heartbeat.Service
	sessions    *session.Manager
	indexWorker *index.Worker

	// loginProbeFactory builds the LoginProbe handleSessionLaunch passes
	// to providers.CheckSubscriptionPolicy for a given provider name.
	// Defaults to providers.NewFileLoginProbe; overridable (e.g. in
	// tests) via SetLoginProbeFactory.
	loginProbeFactory func(provider string) providers.LoginProbe

	mu      sync.Mutex
	handles map[string]*workspaceHandle
}

func NewRegistry(hb *heartbeat.Service, sessions *session.Manager, indexWorker *index.Worker) *Registry {
	return &Registry{
		heartbeat:         hb,
		sessions:          sessions,
		indexWorker:       indexWorker,
		loginProbeFactory: providers.NewFileLoginProbe,
		handles:           make(map[string]*workspaceHandle),
	}
}

// SetLoginProbeFactory overrides the default file-based login probe,
// e.g. in tests that need to force a subscription check to pass or
// fail deterministically.
func (r *Registry) SetLoginProbeFactory(f func(provider string) providers.LoginProbe) {
	r.loginProbeFactory = f
}

func (r *Registry) loginProbe(provider string) providers.LoginProbe {
	if r.loginProbeFactory == nil {
		return nil
	}
	return r.loginProbeFactory(provider)
}

// resolve opens (or returns the cached) workspaceHandle for root,
// registers it with the index sync worker and heartbeat service on
// first sight, and enqueues an index-sync notify for this call.
func (r *Registry) resolve(ctx context.Context, root string) (*workspaceHandle, error) {
	root = filepath.Clean(root)

	r.mu.Lock()
	h, ok := r.handles[root]
	r.mu.Unlock()
	if ok {
		r.indexWorker.Notify(root)
		return h, nil
	}

	ws := workspace.New(root)
	ix, err := index.Open(ws.IndexDB())
	if err != nil {
		return nil, err
	}
	bus := eventlog.NewBus()
	h = &workspaceHandle{ws: ws, ix: ix, bus: bus}

	r.mu.Lock()
	if existing, ok := r.handles[root]; ok {
		r.mu.Unlock()
		ix.Close()
		r.indexWorker.Notify(root)
		return existing, nil
	}
	r.handles[root] = h
	r.mu.Unlock()

	r.indexWorker.Register(ws, ix)
	r.heartbeat.ObserveWorkspace(ctx, ws, ix, bus)
	r.indexWorker.Notify(root)
	return h, nil
}

// Bus returns the event bus for an already-observed workspace root, or
// nil if nothing has resolved that root yet. Used to wire a
// heartbeat.LaunchJobFunc so launch_job actions publish to the same bus
// RPC subscribers for that workspace already listen on, instead of a
// disconnected one of their own.
func (r *Registry) Bus(root string) *eventlog.Bus {
	root = filepath.Clean(root)
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[root]
	if !ok {
		return nil
	}
	return h.bus
}
