package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// pathLocks serializes appends per absolute events-file path so two
// goroutines appending to the same file never interleave their
// read-modify-append sequence.
var (
	pathLocksMu sync.Mutex
	pathLocks   = map[string]*sync.Mutex{}
)

func lockFor(path string) *sync.Mutex {
	pathLocksMu.Lock()
	defer pathLocksMu.Unlock()
	m, ok := pathLocks[path]
	if !ok {
		m = &sync.Mutex{}
		pathLocks[path] = m
	}
	return m
}

// monotonicBase anchors MonotonicNowMs: its wall-clock reading gives the
// starting value and its monotonic reading measures elapsed time.
var monotonicBase = time.Now()

// MonotonicNowMs is overridable in tests; production code uses a
// monotonic clock source: the wall-clock milliseconds at process start
// plus the monotonic time elapsed since, so wall-clock jumps do not move it.
var MonotonicNowMs = func() int64 {
	return monotonicBase.UnixMilli() + time.Since(monotonicBase).Milliseconds()
}

// Append writes one envelope to path, filling in event_id (if empty),
// ts_monotonic_ms, prev_event_hash, and event_hash, then notifies the
// bus. It acquires the path's mutex for the duration of the
// read-modify-append sequence.
func Append(path string, e Envelope, bus *Bus) (Envelope, error) {
	mu := lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	last, err := readLastLine(path)
	if err != nil {
		return Envelope{}, fmt.Errorf("eventlog: read tail of %s: %w", path, err)
	}

	var prevHash *string
	var lastMonotonic int64
	if last != nil {
		h := last.EventHash
		prevHash = &h
		lastMonotonic = last.TsMonotonicMs
	}

	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.SchemaVersion == 0 {
		e.SchemaVersion = 1
	}
	if e.TsWallclock.IsZero() {
		e.TsWallclock = time.Now().UTC()
	}
	now := MonotonicNowMs()
	if now <= lastMonotonic {
		now = lastMonotonic + 1
	}
	e.TsMonotonicMs = now
	e.PrevEventHash = prevHash

	hash, err := ComputeHash(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("eventlog: compute hash: %w", err)
	}
	e.EventHash = hash

	line, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("eventlog: marshal envelope: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Envelope{}, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return Envelope{}, fmt.Errorf("eventlog: append %s: %w", path, err)
	}

	if bus != nil {
		bus.Publish(path, e)
	}
	return e, nil
}

// readLastLine returns the last well-formed envelope in path, tolerating
// a trailing partial line left by a crashed writer.
func readLastLine(path string) (*Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var last *Envelope
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Envelope
		if err := json.Unmarshal(line, &e); err != nil {
			// Tolerate a malformed/partial trailing line; it will be
			// overwritten logically by the next well-formed append.
			continue
		}
		cp := e
		last = &cp
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return last, nil
}
