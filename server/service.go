package server

import (
	"context"
	"fmt"
	"sort"

	"mini-xpc/middleware"
	"mini-xpc/object"
)

// Mux dispatches messages on the string stored under one key, the way a
// service switches on its message type.
type Mux struct {
	key    string
	routes map[string]middleware.HandlerFunc
}

// NewMux returns a mux that routes on the value of key.
func NewMux(key string) *Mux {
	return &Mux{key: key, routes: make(map[string]middleware.HandlerFunc)}
}

// Handle registers h for messages whose key holds op, replacing any
// earlier handler.
func (m *Mux) Handle(op string, h middleware.HandlerFunc) {
	m.routes[op] = h
}

// Ops returns the registered message types in order.
func (m *Mux) Ops() []string {
	ops := make([]string, 0, len(m.routes))
	for op := range m.routes {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// ServeMessage is a middleware.HandlerFunc. Unknown message types get an
// error reply when the sender waits for one.
func (m *Mux) ServeMessage(ctx context.Context, req *object.Dictionary) *object.Dictionary {
	op := req.GetString(m.key)
	h, ok := m.routes[op]
	if !ok {
		return middleware.ErrorReply(req, fmt.Sprintf("unknown %s %q", m.key, op))
	}
	return h(ctx, req)
}
