package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"mini-xpc/object"
)

// RateLimit rejects requests beyond a token bucket of r per second and burst.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *object.Dictionary) *object.Dictionary {
			if !limiter.Allow() {
				return ErrorReply(req, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
