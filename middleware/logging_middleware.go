package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mini-xpc/object"
)

// Logging logs every handled message with its peer, size and duration.
func Logging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *object.Dictionary) *object.Dictionary {
			start := time.Now()
			reply := next(ctx, req)

			fields := []zap.Field{
				zap.Int("entries", req.Count()),
				zap.Duration("duration", time.Since(start)),
				zap.Bool("replied", reply != nil),
			}
			if conn := req.RemoteConnection(); conn != nil {
				fields = append(fields, zap.String("peer", conn.Name()))
			}
			if id, ok := req.ReplyID(); ok {
				fields = append(fields, zap.Uint64("reply_id", id))
			}
			if msg := ReplyError(reply); msg != "" {
				logger.Warn("request failed", append(fields, zap.String("error", msg))...)
				return reply
			}
			logger.Debug("request handled", fields...)
			return reply
		}
	}
}
