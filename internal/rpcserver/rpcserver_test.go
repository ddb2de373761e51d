package rpcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/agentco/internal/apperr"
	"github.com/antigravity-dev/agentco/internal/eventlog"
	"github.com/antigravity-dev/agentco/internal/governance"
)

// testClient wraps one half of a net.Pipe so tests can send a request
// line and read back the next response/notification line.
type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newTestServer(t *testing.T, router *Router) (*testClient, func()) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	srv := NewServer(router, eventlog.NewBus(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.ServeConn(ctx, serverConn)
		close(done)
	}()

	cleanup := func() {
		cancel()
		clientConn.Close()
		<-done
	}
	return &testClient{conn: clientConn, reader: bufio.NewReader(clientConn)}, cleanup
}

func (c *testClient) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	data = append(data, '\n')
	_, err = c.conn.Write(data)
	require.NoError(t, err)
}

func (c *testClient) readLine(t *testing.T) map[string]any {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.reader.ReadString('\n')
	require.NoError(t, err)
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &v))
	return v
}

func TestDispatch_UnknownMethodReturnsMethodNotFound(t *testing.T) {
	router := NewRouter()
	client, cleanup := newTestServer(t, router)
	defer cleanup()

	client.send(t, Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "nope.nope"})
	resp := client.readLine(t)

	errObj := resp["error"].(map[string]any)
	require.Equal(t, float64(CodeMethodNotFound), errObj["code"])
}

func TestDispatch_InvalidParamsReturnsInvalidParams(t *testing.T) {
	router := NewRouter()
	router.Register("echo.needs_name", func(ctx context.Context, conn *Conn, params []byte) (any, error) {
		var p struct {
			Name string `json:"name"`
		}
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.Name == "" {
			return nil, apperr.Validation("name is required")
		}
		return map[string]any{"name": p.Name}, nil
	})
	client, cleanup := newTestServer(t, router)
	defer cleanup()

	client.send(t, Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "echo.needs_name", Params: json.RawMessage(`{"name":42}`)})
	resp := client.readLine(t)

	errObj := resp["error"].(map[string]any)
	require.Equal(t, float64(CodeInvalidParams), errObj["code"])
}

func TestDispatch_SecretDetectedErrorSurfacesReasonCode(t *testing.T) {
	router := NewRouter()
	router.Register("write.governed_text", func(ctx context.Context, conn *Conn, params []byte) (any, error) {
		return nil, &governance.SecretDetectedError{Label: "body", TotalMatches: 2, MatchesByKind: map[string]int{"aws_key": 2}}
	})
	client, cleanup := newTestServer(t, router)
	defer cleanup()

	client.send(t, Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "write.governed_text"})
	resp := client.readLine(t)

	errObj := resp["error"].(map[string]any)
	require.Equal(t, float64(CodeApplication), errObj["code"])
	data := errObj["data"].(map[string]any)
	require.Equal(t, "SECRET_DETECTED", data["reason_code"])
	require.Equal(t, float64(2), data["total_matches"])
}

func TestDispatch_SuccessfulCallReturnsResult(t *testing.T) {
	router := NewRouter()
	router.Register("echo.ping", func(ctx context.Context, conn *Conn, params []byte) (any, error) {
		return map[string]any{"pong": true}, nil
	})
	client, cleanup := newTestServer(t, router)
	defer cleanup()

	client.send(t, Request{JSONRPC: "2.0", ID: json.RawMessage(`7`), Method: "echo.ping"})
	resp := client.readLine(t)

	require.Nil(t, resp["error"])
	result := resp["result"].(map[string]any)
	require.Equal(t, true, result["pong"])
}

func TestDispatch_NotificationGetsNoResponse(t *testing.T) {
	router := NewRouter()
	fired := make(chan struct{}, 1)
	router.Register("fire.and_forget", func(ctx context.Context, conn *Conn, params []byte) (any, error) {
		fired <- struct{}{}
		return nil, nil
	})
	client, cleanup := newTestServer(t, router)
	defer cleanup()

	client.send(t, Request{JSONRPC: "2.0", Method: "fire.and_forget"})
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("notification handler never ran")
	}

	// A notification produces no response line. Sending a real request
	// next and reading the first line back confirms it, since it must be
	// that request's response, not a stray one for the notification.
	client.send(t, Request{JSONRPC: "2.0", ID: json.RawMessage(`9`), Method: "fire.and_forget"})
	resp := client.readLine(t)
	require.Equal(t, float64(9), resp["id"])
}

func TestSubscriptionFilter_Matches(t *testing.T) {
	f := subscriptionFilter{ProjectID: "p1", RunID: "r1"}
	require.True(t, f.matches("p1", "r1", eventlog.Envelope{Type: "task.updated"}))
	require.False(t, f.matches("p2", "r1", eventlog.Envelope{Type: "task.updated"}))

	f.EventTypes = map[string]struct{}{"task.updated": {}}
	require.True(t, f.matches("p1", "r1", eventlog.Envelope{Type: "task.updated"}))
	require.False(t, f.matches("p1", "r1", eventlog.Envelope{Type: "task.created"}))
}

func TestParseEventsFilePath_RecoversProjectAndRunID(t *testing.T) {
	projectID, runID := parseEventsFilePath("/ws/work/projects/proj-1/runs/run-7/events.jsonl")
	require.Equal(t, "proj-1", projectID)
	require.Equal(t, "run-7", runID)
}

func TestEventsSubscribe_LiveFanoutDeliversMatchingEvent(t *testing.T) {
	router := NewRouter()
	router.Register("events.subscribe", handleEventsSubscribe(nil))
	router.Register("events.unsubscribe", handleEventsUnsubscribe())
	clientConn, serverConn := net.Pipe()
	bus := eventlog.NewBus()
	srv := NewServer(router, bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.ServeConn(ctx, serverConn)
		close(done)
	}()
	defer func() {
		cancel()
		clientConn.Close()
		<-done
	}()
	client := &testClient{conn: clientConn, reader: bufio.NewReader(clientConn)}

	// No workspace_dir, so this subscribes directly on the connection's
	// own bus rather than a per-workspace one.
	client.send(t, Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "events.subscribe",
		Params: json.RawMessage(`{"project_id":"p1"}`)})
	resp := client.readLine(t)
	result := resp["result"].(map[string]any)
	subID, _ := result["subscription_id"].(string)
	require.NotEmpty(t, subID)

	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	bus.Publish("/ws/work/projects/p1/runs/r1/events.jsonl", eventlog.Envelope{Type: "task.updated", RunID: "r1"})

	notif := client.readLine(t)
	require.Equal(t, "events.notification", notif["method"])
	params := notif["params"].(map[string]any)
	require.Equal(t, subID, params["subscription_id"])
	require.Equal(t, "p1", params["project_id"])
}

func TestSubscriptionSet_CloseAllUnsubscribesEverything(t *testing.T) {
	bus := eventlog.NewBus()
	set := newSubscriptionSet()
	unsub := bus.Subscribe(func(eventlog.Notification) {})
	set.add(&subscription{id: "s1", unsubscribe: unsub})
	require.Equal(t, 1, bus.SubscriberCount())

	set.closeAll()
	require.Equal(t, 0, bus.SubscriberCount())
	require.False(t, set.has("s1"))
}
