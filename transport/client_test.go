package transport

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"node-rpc/codec"
	"node-rpc/message"
	"node-rpc/protocol"
	"node-rpc/server"
)

func echo(ctx context.Context, peer net.Addr, data []byte) message.Response {
	return message.NewResponse(message.Ok, data)
}

func startServer(t *testing.T) *server.Server {
	t.Helper()
	svr, err := server.Listen(0, server.Options{}, nil)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { svr.Close() })
	return svr
}

func addrOf(svr *server.Server) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(svr.Port()))
}

func await(t *testing.T, ch <-chan *message.Response) *message.Response {
	t.Helper()
	select {
	case resp := <-ch:
		return resp
	case <-time.After(5 * time.Second):
		t.Fatal("request never completed")
		return nil
	}
}

// freePort returns a loopback port with nothing listening on it.
func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestClientEcho(t *testing.T) {
	svr := startServer(t)
	svr.OnRequest("echo", echo)

	c := Dial(addrOf(svr), Options{}, nil)
	defer c.Close()

	resp := await(t, c.Request(message.NewRequest("echo", []byte("hi"))))
	if resp == nil {
		t.Fatal("expect a response, got nil")
	}
	if resp.Status != message.Ok || string(resp.Body) != "hi" {
		t.Fatalf("expect Ok 'hi', got %s '%s'", resp.Status, resp.Body)
	}
}

// 测试单连接上串行发送多个请求
func TestClientSerial(t *testing.T) {
	svr := startServer(t)
	svr.OnRequest("echo", echo)

	c := Dial(addrOf(svr), Options{}, nil)
	defer c.Close()

	for _, body := range []string{"a", "bb", "ccc", ""} {
		resp := await(t, c.Request(message.NewRequest("echo", []byte(body))))
		if resp == nil || string(resp.Body) != body {
			t.Fatalf("expect echo %q, got %+v", body, resp)
		}
	}

	resp := await(t, c.Request(message.NewRequest("missing", nil)))
	if resp == nil || resp.Status != message.ClientFail || string(resp.Body) != "request name unsupported" {
		t.Fatalf("expect unsupported ClientFail, got %+v", resp)
	}
}

// 测试单连接上并发发送多个请求
func TestClientConcurrent(t *testing.T) {
	svr := startServer(t)
	svr.OnRequest("echo", echo)

	c := Dial(addrOf(svr), Options{}, nil)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			payload := []byte(strconv.Itoa(n))
			resp := <-c.Request(message.NewRequest("echo", payload))
			if resp == nil {
				t.Errorf("request %d: got nil", n)
				return
			}
			if !bytes.Equal(resp.Body, payload) {
				t.Errorf("request %d: got body %q", n, resp.Body)
			}
		}(i)
	}
	wg.Wait()
}

func TestClientOrdering(t *testing.T) {
	svr := startServer(t)

	var (
		mu      sync.Mutex
		seen    []string
		resultA <-chan *message.Response
	)
	aEntered := make(chan struct{})
	svr.OnRequest("a", func(ctx context.Context, peer net.Addr, data []byte) message.Response {
		close(aEntered)
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		seen = append(seen, "a")
		mu.Unlock()
		return message.TextResponse(message.Ok, "a")
	})
	svr.OnRequest("b", func(ctx context.Context, peer net.Addr, data []byte) message.Response {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, "b")
		// A must already be completed on the client before B reaches the wire.
		if len(resultA) != 1 {
			return message.TextResponse(message.ServerFail, "a not completed")
		}
		return message.TextResponse(message.Ok, "b")
	})

	c := Dial(addrOf(svr), Options{}, nil)
	defer c.Close()

	submitted := make(chan struct{})
	go func() {
		ch := c.Request(message.NewRequest("a", nil))
		mu.Lock()
		resultA = ch
		mu.Unlock()
		close(submitted)
	}()
	<-submitted
	<-aEntered

	var resultB <-chan *message.Response
	done := make(chan struct{})
	go func() {
		resultB = c.Request(message.NewRequest("b", nil))
		close(done)
	}()
	<-done

	// Collect B first so A's result stays buffered while B's handler inspects it.
	b := await(t, resultB)
	a := await(t, resultA)
	if a == nil || string(a.Body) != "a" {
		t.Fatalf("unexpected A response %+v", a)
	}
	if b == nil || b.Status != message.Ok {
		t.Fatalf("unexpected B response %+v", b)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Fatalf("expect server to see [a b], got %v", seen)
	}
}

func TestClientUnreachable(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	c := Dial(freePort(t), Options{DialTimeout: time.Second}, zap.New(core))
	defer c.Close()

	for i := 0; i < 3; i++ {
		if resp := await(t, c.Request(message.NewRequest("helo", []byte("distribution")))); resp != nil {
			t.Fatalf("expect nil from unreachable service, got %+v", resp)
		}
	}
	if logs.FilterLevelExact(zapcore.ErrorLevel).Len() != 1 {
		t.Fatalf("expect one critical log, got %v", logs.All())
	}
}

func TestClientCloseResolvesAbsent(t *testing.T) {
	svr := startServer(t)
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	svr.OnRequest("block", func(ctx context.Context, peer net.Addr, data []byte) message.Response {
		entered <- struct{}{}
		<-release
		return message.EmptyOk
	})
	defer close(release)

	c := Dial(addrOf(svr), Options{}, nil)

	inFlight := c.Request(message.NewRequest("block", nil))
	<-entered
	queued := c.Request(message.NewRequest("block", nil))

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if resp := await(t, inFlight); resp != nil {
		t.Fatalf("expect in-flight request to resolve nil, got %+v", resp)
	}
	if resp := await(t, queued); resp != nil {
		t.Fatalf("expect queued request to resolve nil, got %+v", resp)
	}
	if resp := await(t, c.Request(message.NewRequest("noop", nil))); resp != nil {
		t.Fatalf("expect request after Close to resolve nil, got %+v", resp)
	}
	c.Close()
}

func TestClientBackpressure(t *testing.T) {
	svr := startServer(t)
	release := make(chan struct{})
	entered := make(chan struct{}, 4)
	svr.OnRequest("block", func(ctx context.Context, peer net.Addr, data []byte) message.Response {
		entered <- struct{}{}
		<-release
		return message.EmptyOk
	})

	c := Dial(addrOf(svr), Options{QueueSize: 1}, nil)
	defer c.Close()

	first := c.Request(message.NewRequest("block", nil))
	<-entered // worker holds the first request
	second := c.Request(message.NewRequest("block", nil))

	third := make(chan (<-chan *message.Response), 1)
	go func() { third <- c.Request(message.NewRequest("noop", nil)) }()

	select {
	case <-third:
		t.Fatal("Request must block while the queue is full")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	if resp := await(t, first); resp == nil || !resp.OK() {
		t.Fatalf("first: %+v", resp)
	}
	if resp := await(t, second); resp == nil || !resp.OK() {
		t.Fatalf("second: %+v", resp)
	}
	select {
	case ch := <-third:
		if resp := await(t, ch); resp == nil || !resp.OK() {
			t.Fatalf("third: %+v", resp)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("blocked Request never returned")
	}
}

func TestClientMidSessionFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	// Read one request, then hang up without answering.
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		protocol.ReadRequest(conn, 1024)
		conn.Close()
	}()

	core, logs := observer.New(zapcore.InfoLevel)
	c := Dial(l.Addr().String(), Options{}, zap.New(core))
	defer c.Close()

	if resp := await(t, c.Request(message.NewRequest("redy", nil))); resp != nil {
		t.Fatalf("expect nil after the peer hung up, got %+v", resp)
	}
	if resp := await(t, c.Request(message.NewRequest("redy", nil))); resp != nil {
		t.Fatalf("expect nil on a dead connection, got %+v", resp)
	}
	if logs.FilterLevelExact(zapcore.WarnLevel).Len() == 0 {
		t.Fatal("expect the failed exchange to be logged as a warning")
	}
}

func TestClientOversizedResponse(t *testing.T) {
	svr := startServer(t)
	svr.OnRequest("echo", echo)

	c := Dial(addrOf(svr), Options{MaxFrameSize: 16}, nil)
	defer c.Close()

	if resp := await(t, c.Request(message.NewRequest("echo", bytes.Repeat([]byte("z"), 100)))); resp != nil {
		t.Fatalf("expect nil for an oversized reply, got %+v", resp)
	}
	// The stream is still aligned on frame boundaries.
	resp := await(t, c.Request(message.NewRequest("echo", []byte("ok"))))
	if resp == nil || string(resp.Body) != "ok" {
		t.Fatalf("expect echo 'ok' after skipping, got %+v", resp)
	}
}

// fakePeer accepts one connection and calls reply after every request it reads.
func fakePeer(t *testing.T, reply func(conn net.Conn)) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, err := protocol.ReadRequest(conn, 1024); err != nil {
				return
			}
			reply(conn)
		}
	}()
	return l.Addr().String()
}

func TestClientTruncatedResponse(t *testing.T) {
	// Declares a 10-byte body and sends 3 of them, then keeps the connection open.
	addr := fakePeer(t, func(conn net.Conn) {
		frame := codec.EncodeResponse(message.TextResponse(message.Ok, "distributi"))
		conn.Write(frame[:codec.HeaderSize+3])
	})

	core, logs := observer.New(zapcore.InfoLevel)
	c := Dial(addr, Options{ReadTimeout: 100 * time.Millisecond}, zap.New(core))
	defer c.Close()

	if resp := await(t, c.Request(message.NewRequest("redy", nil))); resp != nil {
		t.Fatalf("expect nil for a truncated reply, got %+v", resp)
	}

	// The stream is unaligned now; later requests resolve without waiting on it.
	start := time.Now()
	if resp := await(t, c.Request(message.NewRequest("redy", nil))); resp != nil {
		t.Fatalf("expect nil after the connection was dropped, got %+v", resp)
	}
	if elapsed := time.Since(start); elapsed >= 100*time.Millisecond {
		t.Fatalf("expect nil without another read timeout, took %s", elapsed)
	}
	if logs.FilterMessage("Failed to communicate with remote service").Len() == 0 {
		t.Fatal("expect the failed exchange to be logged as a warning")
	}
}

func TestClientSilentPeer(t *testing.T) {
	addr := fakePeer(t, func(conn net.Conn) {})

	c := Dial(addr, Options{ReadTimeout: 100 * time.Millisecond}, nil)
	defer c.Close()

	first := c.Request(message.NewRequest("redy", nil))
	second := c.Request(message.NewRequest("redy", nil))
	if resp := await(t, first); resp != nil {
		t.Fatalf("expect nil when no reply arrives, got %+v", resp)
	}
	if resp := await(t, second); resp != nil {
		t.Fatalf("expect queued request to resolve nil, got %+v", resp)
	}
}
