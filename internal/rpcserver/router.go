package rpcserver

import "context"

// Handler implements one "module.verb" method. params is the raw JSON
// params value (nil if the request carried none); the returned value is
// marshaled into Response.Result.
type Handler func(ctx context.Context, conn *Conn, params []byte) (any, error)

// Router maps "module.verb" method names to handlers.
type Router struct {
	handlers map[string]Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register adds a handler for method, overwriting any prior registration.
func (r *Router) Register(method string, h Handler) {
	r.handlers[method] = h
}

func (r *Router) lookup(method string) (Handler, bool) {
	h, ok := r.handlers[method]
	return h, ok
}
