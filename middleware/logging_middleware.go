package middleware

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"node-rpc/message"
)

// LoggingMiddleware logs every handled request at debug level and every non-Ok answer
// as a warning.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, peer net.Addr, data []byte) message.Response {
			start := time.Now()
			resp := next(ctx, peer, data)
			duration := time.Since(start)

			fields := []zap.Field{
				zap.String("request", RequestName(ctx)),
				zap.Stringer("peer", peer),
				zap.Stringer("status", resp.Status),
				zap.Duration("duration", duration),
			}
			if resp.Status != message.Ok {
				logger.Warn("request not ok", append(fields, zap.ByteString("body", resp.Body))...)
				return resp
			}
			logger.Debug("request handled", fields...)
			return resp
		}
	}
}
