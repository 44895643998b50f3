// Package transport implements the single-connection request client.
//
// A Client owns one TCP connection and one worker goroutine. Callers on any goroutine
// hand requests to the worker through a bounded FIFO queue and get back a channel that
// will carry the response. The worker runs strictly one exchange at a time:
//
//	goroutine-1 ──Request(A)──┐
//	goroutine-2 ──Request(B)──┼──→ queue ──→ worker: write A, read A's reply, complete A,
//	goroutine-3 ──Request(C)──┘                      write B, read B's reply, complete B, ...
//
// There is no pipelining and no reordering. A nil response means the peer could not be
// reached: the connection failed, the exchange failed, or the Client was closed.
//
// Every reply must arrive within Options.ReadTimeout. A reply that times out or stops
// mid-frame leaves the stream unaligned, so the Client drops the connection and answers
// every later request with nil.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"node-rpc/codec"
	"node-rpc/message"
	"node-rpc/protocol"
)

// Defaults applied to zero Options fields.
const (
	DefaultQueueSize    = 64
	DefaultDialTimeout  = 3 * time.Second
	DefaultMaxFrameSize = 64 * 1024
	DefaultReadTimeout  = 10 * time.Second
)

// Options tunes a Client.
type Options struct {
	QueueSize    int           // Request queue capacity; Request blocks while it is full
	DialTimeout  time.Duration // Bound on the initial connect
	MaxFrameSize int           // Largest response frame accepted
	ReadTimeout  time.Duration // Time allowed for a reply once its request is written
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	return o
}

// Client serializes requests from many goroutines onto one connection.
type Client struct {
	addr   string
	opts   Options
	logger *zap.Logger

	queue chan event

	mu     sync.RWMutex // Held shared while enqueuing, exclusively to flip closed
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{} // Closed when the worker exits
	once   sync.Once
}

type event struct {
	req    message.Request
	result chan *message.Response // Buffered(1) so the worker never blocks completing
}

// Dial returns a Client for addr straight away; the worker connects in the background.
// If the connection can't be established the failure is logged as critical and every
// request resolves to nil until the Client is closed.
func Dial(addr string, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	c := &Client{
		addr:   addr,
		opts:   opts,
		logger: logger,
		queue:  make(chan event, opts.QueueSize),
		done:   make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	go c.run()
	return c
}

// Addr returns the address the Client was dialled with.
func (c *Client) Addr() string {
	return c.addr
}

// Request submits req and returns a channel that receives exactly one value: the decoded
// response, or nil when the peer could not be reached. Request only blocks while the
// queue is full. It is safe for concurrent use; requests are sent in submission order.
func (c *Client) Request(req message.Request) <-chan *message.Response {
	result := make(chan *message.Response, 1)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		result <- nil
		return result
	}

	select {
	case c.queue <- event{req: req, result: result}:
	case <-c.ctx.Done():
		result <- nil
	}
	return result
}

// Close stops the worker and releases the connection. An exchange in flight is cut
// short; it and every queued or later request resolve to nil. Close is idempotent.
func (c *Client) Close() error {
	c.once.Do(func() {
		// Cancel first so enqueuers blocked on a full queue let go of the read lock.
		c.cancel()

		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		<-c.done
		for {
			select {
			case ev := <-c.queue:
				ev.result <- nil
			default:
				return
			}
		}
	})
	return nil
}

// run is the worker. It alone touches the connection.
func (c *Client) run() {
	defer close(c.done)

	dialer := &net.Dialer{Timeout: c.opts.DialTimeout}
	conn, err := dialer.DialContext(c.ctx, "tcp", c.addr)
	if err != nil {
		if c.ctx.Err() == nil {
			c.logger.Error("Failed to connect", zap.String("addr", c.addr), zap.Error(err))
		}
		c.quarantine()
		return
	}

	// Closing the socket is the only way to unblock an in-flight read on Close.
	stop := context.AfterFunc(c.ctx, func() { conn.Close() })
	defer func() {
		stop()
		conn.Close()
	}()

	c.logger.Info("Client started connection to " + c.addr)

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.queue:
			resp, broken := c.exchange(conn, ev.req)
			ev.result <- resp
			if broken {
				// The reply stream stopped mid-frame and can't be realigned.
				conn.Close()
				c.quarantine()
				return
			}
		}
	}
}

// quarantine answers every request with nil until the Client is closed.
func (c *Client) quarantine() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.queue:
			ev.result <- nil
		}
	}
}

// exchange writes one request and reads its reply. Failures are logged and reported as
// nil. broken reports that the reply was cut short, leaving the connection unusable.
func (c *Client) exchange(conn net.Conn, req message.Request) (resp *message.Response, broken bool) {
	if err := protocol.Write(conn, codec.EncodeRequest(req)); err != nil {
		c.warn(req, err)
		return nil, false
	}

	conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	defer conn.SetReadDeadline(time.Time{})

	frame, err := protocol.ReadResponse(conn, c.opts.MaxFrameSize)
	if errors.Is(err, protocol.ErrFrameTooLarge) {
		// Skip the body so the next reply starts on a frame boundary.
		if !c.skip(conn, frame) {
			c.warn(req, err)
			return nil, true
		}
	}
	if err != nil {
		c.warn(req, err)
		return nil, !errors.Is(err, protocol.ErrFrameTooLarge)
	}

	decoded, err := codec.DecodeResponse(frame)
	if err != nil {
		c.warn(req, err)
		return nil, false
	}
	return &decoded, false
}

// skip discards the body of an oversized reply and reports whether it was fully read.
func (c *Client) skip(conn net.Conn, hdr []byte) bool {
	size, err := codec.ResponseFrameSize(hdr)
	if err != nil {
		return false
	}
	if _, err := io.CopyN(io.Discard, conn, int64(size)-codec.HeaderSize); err != nil {
		c.logger.Warn("Failed to skip oversized response", zap.Error(err))
		return false
	}
	return true
}

func (c *Client) warn(req message.Request, err error) {
	if c.ctx.Err() != nil {
		return
	}
	c.logger.Warn("Failed to communicate with remote service",
		zap.String("addr", c.addr),
		zap.String("request", req.Name),
		zap.Error(err))
}
