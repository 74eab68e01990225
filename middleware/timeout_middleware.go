package middleware

import (
	"context"
	"time"

	"mini-xpc/object"
)

// Timeout answers with an error reply when next runs longer than timeout.
// next keeps running with a cancelled context; its late reply is dropped.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *object.Dictionary) *object.Dictionary {
			ctx, cancel := context.WithTimeout(ctx, timeout)

			done := make(chan *object.Dictionary, 1)
			object.Retain(req) // outlives this call if next is late
			go func() {
				defer object.Release(req)
				done <- next(ctx, req)
			}()

			select {
			case reply := <-done:
				cancel()
				return reply
			case <-ctx.Done():
				cancel()
				go func() {
					if late := <-done; late != nil {
						object.Release(late)
					}
				}()
				return ErrorReply(req, "request timed out")
			}
		}
	}
}
