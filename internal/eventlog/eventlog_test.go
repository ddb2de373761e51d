package eventlog

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/agentco/internal/workspace"
)

func TestAppend_BuildsHashChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	e1, err := Append(path, Envelope{RunID: "r1", Actor: "a1", Visibility: VisibilityOrg, Type: "run.started"}, nil)
	require.NoError(t, err)
	require.Nil(t, e1.PrevEventHash)
	require.NotEmpty(t, e1.EventHash)

	e2, err := Append(path, Envelope{RunID: "r1", Actor: "a1", Visibility: VisibilityOrg, Type: "run.executing"}, nil)
	require.NoError(t, err)
	require.NotNil(t, e2.PrevEventHash)
	require.Equal(t, e1.EventHash, *e2.PrevEventHash)
	require.Greater(t, e2.TsMonotonicMs, e1.TsMonotonicMs)
}

func TestAppend_MonotonicEvenWithStaticClock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	old := MonotonicNowMs
	defer func() { MonotonicNowMs = old }()
	MonotonicNowMs = func() int64 { return 1000 }

	e1, err := Append(path, Envelope{RunID: "r1", Type: "a"}, nil)
	require.NoError(t, err)
	e2, err := Append(path, Envelope{RunID: "r1", Type: "b"}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1000), e1.TsMonotonicMs)
	require.Equal(t, int64(1001), e2.TsMonotonicMs)
}

func TestReadEventsJSONL_TreatsMalformedLineAsErr(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	_, err := Append(path, Envelope{RunID: "r1", Type: "a"}, nil)
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not valid json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Append(path, Envelope{RunID: "r1", Type: "c"}, nil)
	require.NoError(t, err)

	lines, err := ReadEventsJSONL(path)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	require.True(t, lines[0].OK)
	require.False(t, lines[1].OK)
	require.True(t, lines[2].OK)
}

func TestVerifyReplayEvents_Deterministic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	for i := 0; i < 3; i++ {
		_, err := Append(path, Envelope{RunID: "r1", Type: "tick"}, nil)
		require.NoError(t, err)
	}
	lines, err := ReadEventsJSONL(path)
	require.NoError(t, err)

	result := VerifyReplayEvents(lines, ReplayDeterministic)
	require.True(t, result.DeterministicOK)
	require.Empty(t, result.Issues)
}

func TestVerifyReplayEvents_DetectsMissingKey(t *testing.T) {
	lines := []ParsedLine{
		{OK: true, Event: Envelope{Type: "legacy", TsMonotonicMs: 1}},
	}
	result := VerifyReplayEvents(lines, ReplayVerified)
	require.False(t, result.DeterministicOK)
	found := false
	for _, iss := range result.Issues {
		if iss.Code == IssueMissingKey {
			found = true
		}
	}
	require.True(t, found)
}

func TestVerifyReplayEvents_DetectsBrokenChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	_, err := Append(path, Envelope{RunID: "r1", Type: "a"}, nil)
	require.NoError(t, err)
	_, err = Append(path, Envelope{RunID: "r1", Type: "b"}, nil)
	require.NoError(t, err)

	lines, err := ReadEventsJSONL(path)
	require.NoError(t, err)
	// Corrupt the second line's prev hash.
	bad := "x"
	lines[1].Event.PrevEventHash = &bad

	result := VerifyReplayEvents(lines, ReplayVerified)
	require.False(t, result.DeterministicOK)
	foundChain, foundHash := false, false
	for _, iss := range result.Issues {
		if iss.Code == IssuePrevHashChainMismatch {
			foundChain = true
		}
		if iss.Code == IssueInvalidEventHash {
			foundHash = true
		}
	}
	require.True(t, foundChain || foundHash)
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	var received []Envelope
	done := make(chan struct{}, 10)

	unsubscribe := bus.Subscribe(func(n Notification) {
		mu.Lock()
		received = append(received, n.Event)
		mu.Unlock()
		done <- struct{}{}
	})
	defer unsubscribe()

	bus.Publish("path", Envelope{Type: "run.started"})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	require.Equal(t, "run.started", received[0].Type)
}

func TestBackfillHashChain_IdempotentUnlessForced(t *testing.T) {
	dir := t.TempDir()
	ws := workspace.New(dir)
	path := filepath.Join(dir, "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"legacy.event","run_id":"r1"}`+"\n"), 0o644))

	res, err := BackfillHashChain(ws, path, false)
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Equal(t, 1, res.Rewritten)

	lines, err := ReadEventsJSONL(path)
	require.NoError(t, err)
	require.True(t, lines[0].OK)
	require.NotEmpty(t, lines[0].Event.EventHash)

	res2, err := BackfillHashChain(ws, path, false)
	require.NoError(t, err)
	require.True(t, res2.Skipped)
}
