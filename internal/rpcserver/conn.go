package rpcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/antigravity-dev/agentco/internal/eventlog"
)

// Conn is one duplex line-delimited JSON-RPC connection: a reader
// goroutine dispatches each incoming line to the router (one goroutine
// per request, so a long-lived call like events.subscribe never blocks
// the next line from being read), and every outbound write is
// serialized through writeMu so concurrent handlers and subscription
// fanout never interleave partial lines on the wire.
type Conn struct {
	router *Router
	bus    *eventlog.Bus
	logger *slog.Logger

	writeMu sync.Mutex
	w       io.Writer

	subs *subscriptionSet
	wg   sync.WaitGroup
}

func newConn(router *Router, bus *eventlog.Bus, logger *slog.Logger, w io.Writer) *Conn {
	return &Conn{
		router: router,
		bus:    bus,
		logger: logger,
		w:      w,
		subs:   newSubscriptionSet(),
	}
}

// Bus returns the event bus this connection's handlers may subscribe to.
func (c *Conn) Bus() *eventlog.Bus { return c.bus }

// Subscriptions returns the set tracking this connection's live
// subscriptions, so an events.subscribe handler can register one and an
// events.unsubscribe handler can tear it down.
func (c *Conn) Subscriptions() *subscriptionSet { return c.subs }

// Notify pushes a server-initiated notification (e.g. events.notification).
func (c *Conn) Notify(method string, params any) error {
	return c.writeLine(newNotification(method, params))
}

func (c *Conn) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.w.Write(data)
	return err
}

// Serve reads newline-delimited requests from r until ctx is canceled or
// r is exhausted, dispatching each to the router. It blocks until every
// in-flight handler has returned and every subscription has been torn
// down.
func (c *Conn) Serve(ctx context.Context, r io.Reader) error {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		c.subs.closeAll()
	}()
	defer close(done)
	defer c.subs.closeAll()
	defer c.wg.Wait()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		lineCopy := append([]byte(nil), line...)

		var req Request
		if err := json.Unmarshal(lineCopy, &req); err != nil {
			c.writeLine(newErrorResponse(nil, &WireError{Code: CodeParseError, Message: err.Error()}))
			continue
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.dispatch(ctx, req)
		}()
	}
	return scanner.Err()
}

func (c *Conn) dispatch(ctx context.Context, req Request) {
	handler, ok := c.router.lookup(req.Method)
	if !ok {
		if !req.isNotification() {
			c.writeLine(newErrorResponse(req.ID, &WireError{
				Code:    CodeMethodNotFound,
				Message: "unknown method " + req.Method,
			}))
		}
		return
	}

	result, err := handler(ctx, c, req.Params)
	if req.isNotification() {
		if err != nil {
			c.logger.Error("notification handler failed", "method", req.Method, "err", err)
		}
		return
	}
	if err != nil {
		c.writeLine(newErrorResponse(req.ID, toWireError(err)))
		return
	}
	c.writeLine(newResponse(req.ID, result))
}
