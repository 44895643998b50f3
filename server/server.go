// Package server implements the multiplexed request server.
//
// One goroutine, the dispatch loop, owns every accepted connection and runs every
// handler. Readiness comes from the Go netpoller: an accept goroutine and one frame
// reader per connection park until their socket is ready and a whole frame is buffered,
// then hand the result to the dispatch loop over a channel.
//
//	Accept ──conn──┐
//	reader(c1) ────┼──frame──→ dispatch loop ──→ decode → reserved names → handler → write reply
//	reader(c2) ────┘
//
// Only the dispatch loop decodes, dispatches, writes and closes, and it starts one handler
// at a time. Handlers must return quickly. The one exception to running one at a time is a
// handler abandoned by middleware.TimeOutMiddleware, which may still be finishing in the
// background while the next one starts.
//
// A frame whose first byte has arrived must be complete within Options.FrameTimeout.
// A frame cut short is answered ClientFail "request corrupt" and the connection dropped.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"node-rpc/codec"
	"node-rpc/message"
	"node-rpc/middleware"
	"node-rpc/protocol"
)

// DefaultFrameTimeout bounds how long a started request frame may take to arrive in full.
const DefaultFrameTimeout = time.Second

// Options tunes a Server. The zero value is usable.
type Options struct {
	MaxFrameSize int           // Largest request frame accepted, protocol.DefaultMaxFrameSize when 0
	WriteTimeout time.Duration // Deadline for writing one reply, none when 0
	FrameTimeout time.Duration // Time allowed between a frame's first and last byte, DefaultFrameTimeout when 0
}

// Server accepts connections on one listener and answers their requests.
type Server struct {
	logger   *zap.Logger
	listener net.Listener
	opts     Options
	table    *handlerTable

	accepted chan net.Conn
	frames   chan frameEvent

	ctx      context.Context // Cancelled by Close; handlers receive it
	cancel   context.CancelFunc
	shutdown atomic.Bool // Set before the listener is closed so Accept errors are expected
	wg       sync.WaitGroup
	once     sync.Once
}

// conn is a connection tracked by the dispatch loop. addr is captured at accept time
// because RemoteAddr is not reliable once the socket is closed.
type conn struct {
	net.Conn
	addr net.Addr
}

type frameEvent struct {
	c     *conn
	frame []byte
	err   error
}

// Listen binds a TCP listener on port (0 picks an ephemeral port) and starts serving.
// A bind failure is logged as critical and returned; no Server exists in that case.
func Listen(port int, opts Options, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		logger.Error("Failed to bind service on port", zap.Int("port", port), zap.Error(err))
		return nil, err
	}

	if opts.FrameTimeout <= 0 {
		opts.FrameTimeout = DefaultFrameTimeout
	}

	svr := &Server{
		logger:   logger,
		listener: listener,
		opts:     opts,
		table:    newHandlerTable(),
		accepted: make(chan net.Conn),
		frames:   make(chan frameEvent),
	}
	svr.ctx, svr.cancel = context.WithCancel(context.Background())

	svr.wg.Add(2)
	go svr.acceptLoop()
	go svr.run()

	logger.Info(fmt.Sprintf("Server started on %d", svr.Port()))
	return svr, nil
}

// Addr returns the listener's address.
func (svr *Server) Addr() net.Addr {
	return svr.listener.Addr()
}

// Port returns the bound TCP port, useful after Listen(0).
func (svr *Server) Port() int {
	if addr, ok := svr.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// OnRequest registers h for requests named name, replacing any earlier registration.
// It is safe to call while requests are being served. The reserved names quit and noop
// are never looked up here.
func (svr *Server) OnRequest(name string, h HandlerFunc) {
	svr.table.set(name, h)
}

// OnQuit sets the callback for the reserved quit request, replacing any earlier one.
func (svr *Server) OnQuit(q QuitFunc) {
	svr.table.setQuit(q)
}

// Use appends mw to the chain wrapped around application handlers.
// Reserved names bypass the chain.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.table.use(mw)
}

// Close stops accepting, closes the listener and every tracked connection, and waits for
// the dispatch loop to exit. A handler still running delays Close until it returns.
func (svr *Server) Close() error {
	var err error
	svr.once.Do(func() {
		// Flag first so acceptLoop treats the Accept error as intentional.
		svr.shutdown.Store(true)
		svr.cancel()
		err = svr.listener.Close()
		svr.wg.Wait()
	})
	return err
}

func (svr *Server) acceptLoop() {
	defer svr.wg.Done()
	for {
		nc, err := svr.listener.Accept()
		if err != nil {
			if svr.shutdown.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			svr.logger.Warn("Failed to accept client", zap.Error(err))
			time.Sleep(10 * time.Millisecond)
			continue
		}

		select {
		case svr.accepted <- nc:
		case <-svr.ctx.Done():
			nc.Close()
			return
		}
	}
}

// readLoop parks on one connection and forwards each complete frame. It stops after the
// first error; the dispatch loop decides what the error means.
func (svr *Server) readLoop(c *conn) {
	defer svr.wg.Done()
	for {
		frame, err := protocol.ReadRequestWithin(c, svr.opts.MaxFrameSize, svr.opts.FrameTimeout)
		select {
		case svr.frames <- frameEvent{c: c, frame: frame, err: err}:
		case <-svr.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// run is the dispatch loop.
func (svr *Server) run() {
	defer svr.wg.Done()

	conns := make(map[*conn]struct{})
	for {
		select {
		case <-svr.ctx.Done():
			for c := range conns {
				c.Close()
			}
			svr.logger.Info("Closed")
			return

		case nc := <-svr.accepted:
			c := &conn{Conn: nc, addr: nc.RemoteAddr()}
			conns[c] = struct{}{}
			svr.logger.Info(fmt.Sprintf("%s connected", c.addr))

			svr.wg.Add(1)
			go svr.readLoop(c)

		case ev := <-svr.frames:
			// Events from a connection closed earlier (e.g. after quit) are stale.
			if _, ok := conns[ev.c]; !ok {
				continue
			}
			if !svr.serve(ev) {
				delete(conns, ev.c)
			}
		}
	}
}

// serve handles one reader event and reports whether the connection stays open.
func (svr *Server) serve(ev frameEvent) bool {
	c := ev.c

	if ev.err != nil {
		switch {
		case errors.Is(ev.err, protocol.ErrFrameTooLarge):
			// The oversized body is still in the stream; answer, then drop the connection.
			svr.logger.Warn("Request frame too large", zap.Stringer("peer", c.addr), zap.Error(ev.err))
			svr.reply(c, message.TextResponse(message.ClientFail, "request corrupt"))
		case errors.Is(ev.err, protocol.ErrIncompleteFrame):
			// Frame boundaries are lost; answer, then drop the connection.
			svr.logger.Warn("Request frame incomplete", zap.Stringer("peer", c.addr), zap.Error(ev.err))
			svr.reply(c, message.TextResponse(message.ClientFail, "request corrupt"))
		case errors.Is(ev.err, io.EOF):
			svr.logger.Info(fmt.Sprintf("%s disconnected", c.addr))
		default:
			svr.logger.Warn("Failed to reach client", zap.Stringer("peer", c.addr), zap.Error(ev.err))
		}
		svr.closeConn(c)
		return false
	}

	req, err := codec.DecodeRequest(ev.frame)
	if err != nil {
		return svr.reply(c, message.TextResponse(message.ClientFail, "request corrupt"))
	}

	resp, quit := svr.dispatch(c, req)
	if !svr.reply(c, resp) {
		return false
	}
	if quit {
		svr.closeConn(c)
		svr.logger.Info(fmt.Sprintf("%s disconnected", c.addr))
		return false
	}
	return true
}

// dispatch answers a decoded request. Reserved names are matched first, in fixed order.
func (svr *Server) dispatch(c *conn, req message.Request) (message.Response, bool) {
	switch req.Name {
	case "":
		return message.TextResponse(message.ClientFail, "request empty"), false

	case QuitRequest:
		if q := svr.table.quitHandler(); q != nil {
			svr.guard(req.Name, c.addr, func() { q(c.addr, req.Data) })
		}
		return message.EmptyOk, true

	case NoopRequest:
		return message.EmptyOk, false
	}

	svr.logger.Info(fmt.Sprintf("%s requested %q", c.addr, req.Name))

	h := svr.table.lookup(req.Name)
	if h == nil {
		return message.TextResponse(message.ClientFail, "request name unsupported"), false
	}

	resp := message.TextResponse(message.ServerFail, "request handler failed")
	svr.guard(req.Name, c.addr, func() {
		resp = h(middleware.WithRequestName(svr.ctx, req.Name), c.addr, req.Data)
	})
	return resp, false
}

// guard runs fn and turns a panic into a warning so the dispatch loop survives it.
func (svr *Server) guard(name string, peer net.Addr, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			svr.logger.Warn("Request handler panicked",
				zap.String("request", name),
				zap.Stringer("peer", peer),
				zap.Any("panic", r))
		}
	}()
	fn()
}

// reply writes resp to c. On failure the connection is closed and false returned.
func (svr *Server) reply(c *conn, resp message.Response) bool {
	if svr.opts.WriteTimeout > 0 {
		c.SetWriteDeadline(time.Now().Add(svr.opts.WriteTimeout))
	}
	if err := protocol.Write(c, codec.EncodeResponse(resp)); err != nil {
		svr.logger.Warn("Failed to reach client", zap.Stringer("peer", c.addr), zap.Error(err))
		svr.closeConn(c)
		return false
	}
	return true
}

func (svr *Server) closeConn(c *conn) {
	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		svr.logger.Warn("Failed to close client connection", zap.Stringer("peer", c.addr), zap.Error(err))
	}
}
