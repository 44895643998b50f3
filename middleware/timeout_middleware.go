package middleware

import (
	"context"
	"net"
	"time"

	"node-rpc/message"
)

type timeoutResult struct {
	resp     message.Response
	panicked any
}

// TimeOutMiddleware answers ServerFail "request timed out" when next does not return
// within timeout. The handler keeps running in the background and its answer is dropped,
// so handlers should watch ctx.Done().
//
// A panic in next is re-raised on the calling goroutine, where the server recovers it.
// A panic after the timeout has fired is swallowed.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, peer net.Addr, data []byte) message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan timeoutResult, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- timeoutResult{panicked: r}
					}
				}()
				done <- timeoutResult{resp: next(ctx, peer, data)}
			}()

			select {
			case res := <-done:
				if res.panicked != nil {
					panic(res.panicked)
				}
				return res.resp
			case <-ctx.Done():
				return message.TextResponse(message.ServerFail, "request timed out")
			}
		}
	}
}
