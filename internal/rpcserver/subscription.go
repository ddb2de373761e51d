package rpcserver

import (
	"path/filepath"
	"sync"

	"github.com/antigravity-dev/agentco/internal/eventlog"
)

// subscriptionFilter narrows which notifications a subscription receives.
// Zero-valued ProjectID/RunID match any; a nil EventTypes matches any type.
type subscriptionFilter struct {
	ProjectID  string
	RunID      string
	EventTypes map[string]struct{}
}

func (f subscriptionFilter) matches(projectID, runID string, e eventlog.Envelope) bool {
	if f.ProjectID != "" && f.ProjectID != projectID {
		return false
	}
	if f.RunID != "" && f.RunID != runID {
		return false
	}
	if f.EventTypes != nil {
		if _, ok := f.EventTypes[e.Type]; !ok {
			return false
		}
	}
	return true
}

// subscription is one active events.subscribe registration on a Conn.
type subscription struct {
	id          string
	filter      subscriptionFilter
	unsubscribe func()
}

// subscriptionSet tracks every subscription owned by one Conn, so they
// can all be torn down when the connection closes.
type subscriptionSet struct {
	mu   sync.Mutex
	subs map[string]*subscription
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{subs: make(map[string]*subscription)}
}

func (s *subscriptionSet) add(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.id] = sub
}

func (s *subscriptionSet) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[id]
	return ok
}

func (s *subscriptionSet) remove(id string) (*subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if ok {
		delete(s.subs, id)
	}
	return sub, ok
}

func (s *subscriptionSet) closeAll() {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[string]*subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.unsubscribe()
	}
}

// parseEventsFilePath recovers {project_id, run_id} from a canonical
// .../work/projects/<project_id>/runs/<run_id>/events.jsonl path, since
// eventlog.Envelope itself carries no project_id field.
func parseEventsFilePath(path string) (projectID, runID string) {
	segments := splitPathSegments(path)
	for i, seg := range segments {
		switch seg {
		case "projects":
			if i+1 < len(segments) {
				projectID = segments[i+1]
			}
		case "runs":
			if i+1 < len(segments) {
				runID = segments[i+1]
			}
		}
	}
	return projectID, runID
}

// splitPathSegments walks a cleaned path's components directly; it does
// not use filepath.SplitList, which splits on the OS path-list separator
// (":" or ";"), not path separators.
func splitPathSegments(path string) []string {
	var segments []string
	clean := filepath.ToSlash(filepath.Clean(path))
	start := 0
	for i := 0; i <= len(clean); i++ {
		if i == len(clean) || clean[i] == '/' {
			if i > start {
				segments = append(segments, clean[start:i])
			}
			start = i + 1
		}
	}
	return segments
}
