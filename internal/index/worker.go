package index

import (
	"sync"
	"time"

	"github.com/antigravity-dev/agentco/internal/workspace"
)

// WorkerConfig tunes the debounced sync worker.
type WorkerConfig struct {
	DebounceInterval time.Duration
	MinSyncInterval  time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		DebounceInterval: 500 * time.Millisecond,
		MinSyncInterval:  2 * time.Second,
	}
}

type workspaceState struct {
	ws         *workspace.Workspace
	ix         *Index
	pending    bool
	timer      *time.Timer
	lastSyncAt time.Time
	syncing    bool
}

// WorkerStatus is the observability snapshot returned by Status.
type WorkerStatus struct {
	Enabled                bool
	Running                bool
	PendingWorkspaces      int
	TotalNotifyCalls       int64
	TotalWorkspaceSyncErrors int64
	LastErrorWorkspace     string
	LastErrorMessage       string
	LastErrorAt            time.Time
}

// Worker is an always-on debouncer that coalesces bursty file-change
// notifications into throttled SyncSqliteIndex calls, one per workspace.
type Worker struct {
	cfg WorkerConfig

	mu     sync.Mutex
	states map[string]*workspaceState
	closed bool

	totalNotify int64
	totalErrors int64
	lastErrWS   string
	lastErrMsg  string
	lastErrAt   time.Time
}

func NewWorker(cfg WorkerConfig) *Worker {
	return &Worker{cfg: cfg, states: make(map[string]*workspaceState)}
}

// Register associates a workspace root with its open index so Notify
// can be called with just the root path.
func (w *Worker) Register(ws *workspace.Workspace, ix *Index) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.states[ws.Root] = &workspaceState{ws: ws, ix: ix}
}

// Notify schedules a sync for workspaceDir, coalescing bursts within
// DebounceInterval into a single SyncSqliteIndex call and throttling
// successive syncs to at most one per MinSyncInterval.
func (w *Worker) Notify(workspaceDir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.totalNotify++
	if w.closed {
		return
	}
	st, ok := w.states[workspaceDir]
	if !ok {
		return
	}
	if st.pending {
		return
	}
	st.pending = true
	delay := w.cfg.DebounceInterval
	if wait := w.cfg.MinSyncInterval - time.Since(st.lastSyncAt); wait > delay {
		delay = wait
	}
	st.timer = time.AfterFunc(delay, func() { w.runSync(workspaceDir) })
}

func (w *Worker) runSync(workspaceDir string) {
	w.mu.Lock()
	st, ok := w.states[workspaceDir]
	if !ok || w.closed {
		w.mu.Unlock()
		return
	}
	st.pending = false
	st.syncing = true
	w.mu.Unlock()

	err := SyncSqliteIndex(st.ix, st.ws)

	w.mu.Lock()
	st.syncing = false
	st.lastSyncAt = time.Now()
	if err != nil {
		w.totalErrors++
		w.lastErrWS = workspaceDir
		w.lastErrMsg = err.Error()
		w.lastErrAt = time.Now()
	}
	w.mu.Unlock()
}

// Flush runs any pending sync for every registered workspace immediately,
// bypassing the debounce timer.
func (w *Worker) Flush() {
	w.mu.Lock()
	var dirs []string
	for dir, st := range w.states {
		if st.pending {
			if st.timer != nil {
				st.timer.Stop()
			}
			dirs = append(dirs, dir)
		}
	}
	w.mu.Unlock()
	for _, dir := range dirs {
		w.runSync(dir)
	}
}

// Close flushes pending work once and refuses further notifications.
func (w *Worker) Close() {
	w.Flush()
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

func (w *Worker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	pending := 0
	for _, st := range w.states {
		if st.pending || st.syncing {
			pending++
		}
	}
	return WorkerStatus{
		Enabled:                  !w.closed,
		Running:                  pending > 0,
		PendingWorkspaces:        pending,
		TotalNotifyCalls:         w.totalNotify,
		TotalWorkspaceSyncErrors: w.totalErrors,
		LastErrorWorkspace:       w.lastErrWS,
		LastErrorMessage:         w.lastErrMsg,
		LastErrorAt:              w.lastErrAt,
	}
}
