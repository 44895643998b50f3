package middleware

import (
	"context"
	"net"

	"golang.org/x/time/rate"

	"node-rpc/message"
)

// RateLimitMiddleware 创建一个基于令牌桶算法的限流中间件
//
// Requests over the limit are answered Busy so well-behaved peers ask again later.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, peer net.Addr, data []byte) message.Response {
			if !limiter.Allow() {
				return message.TextResponse(message.Busy, "rate limit exceeded")
			}
			return next(ctx, peer, data)
		}
	}
}
