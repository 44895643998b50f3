package server

import (
	"net"
	"sync"

	"node-rpc/middleware"
)

// Reserved request names. They are matched before the handler table and can't be
// shadowed by OnRequest.
const (
	QuitRequest = "quit" // fires the quit handler, replies Ok, then disconnects
	NoopRequest = "noop" // replies Ok with no side effects
)

// HandlerFunc answers one named request.
type HandlerFunc = middleware.HandlerFunc

// QuitFunc is called with the peer address and payload of a quit request, before the
// connection is closed.
type QuitFunc func(peer net.Addr, data []byte)

// handlerTable is the only server state shared with registering goroutines.
type handlerTable struct {
	mu          sync.RWMutex
	handlers    map[string]HandlerFunc
	quit        QuitFunc
	middlewares []middleware.Middleware
}

func newHandlerTable() *handlerTable {
	return &handlerTable{handlers: make(map[string]HandlerFunc)}
}

func (t *handlerTable) set(name string, h HandlerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[name] = h
}

func (t *handlerTable) setQuit(q QuitFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.quit = q
}

func (t *handlerTable) use(mw middleware.Middleware) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.middlewares = append(t.middlewares, mw)
}

// lookup returns the handler for name wrapped in the current middleware chain,
// or nil when nothing is registered.
func (t *handlerTable) lookup(name string) HandlerFunc {
	t.mu.RLock()
	h, ok := t.handlers[name]
	mws := t.middlewares
	t.mu.RUnlock()

	if !ok || h == nil {
		return nil
	}
	return middleware.Chain(mws...)(h)
}

func (t *handlerTable) quitHandler() QuitFunc {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.quit
}
