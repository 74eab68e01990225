// Package middleware wraps pipe request handlers in an onion chain.
package middleware

import (
	"context"

	"mini-xpc/object"
)

// ErrorKey holds the message of an error reply.
const ErrorKey = "error"

// HandlerFunc handles one received message. It returns the reply, which
// the caller sends and releases, or nil when there is nothing to send.
// req belongs to the caller and is only valid until the handler returns.
type HandlerFunc func(ctx context.Context, req *object.Dictionary) *object.Dictionary

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one. The first runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// ErrorReply returns a reply to req carrying msg under ErrorKey, or nil
// when req expects no reply.
func ErrorReply(req *object.Dictionary, msg string) *object.Dictionary {
	reply := object.CreateReply(req)
	if reply != nil {
		reply.SetString(ErrorKey, msg)
	}
	return reply
}

// ReplyError returns the error message carried by reply, or "".
func ReplyError(reply *object.Dictionary) string {
	if reply == nil {
		return ""
	}
	return reply.GetString(ErrorKey)
}
