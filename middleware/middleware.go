// Package middleware wraps request handlers in an onion of cross-cutting behaviour.
package middleware

import (
	"context"
	"net"

	"node-rpc/message"
)

// HandlerFunc answers one request. peer is the remote address of the connection the
// request arrived on, data the request payload.
type HandlerFunc func(ctx context.Context, peer net.Addr, data []byte) message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

type requestNameKey struct{}

// WithRequestName stores the name of the request being handled in ctx.
func WithRequestName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, requestNameKey{}, name)
}

// RequestName returns the request name stored by WithRequestName, or "".
func RequestName(ctx context.Context) string {
	name, _ := ctx.Value(requestNameKey{}).(string)
	return name
}
