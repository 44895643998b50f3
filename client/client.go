// Package client is the node-level view of a coordinator connection.
//
// It wraps a transport.Client with blocking, context-aware calls and the worker side of
// the coordination protocol: announce a role, wait until the coordinator is ready, quit.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"node-rpc/coordinator"
	"node-rpc/message"
	"node-rpc/registry"
	"node-rpc/server"
	"node-rpc/transport"
)

var (
	// ErrUnreachable is returned when the transport completes a request without a response.
	ErrUnreachable = errors.New("client: remote service unreachable")
	// ErrRejected is returned when the coordinator answers a protocol request with a non-Ok status.
	ErrRejected = errors.New("client: request rejected")
)

// Backoff bounds the delay between "redy" polls. The delay doubles after every Busy reply.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// StatusError reports the non-Ok reply that rejected a protocol request.
// It matches ErrRejected with errors.Is.
type StatusError struct {
	Request  string
	Response message.Response
}

func (e *StatusError) Error() string {
	if len(e.Response.Body) == 0 {
		return fmt.Sprintf("%s: %s answered %s", ErrRejected, e.Request, e.Response.Status)
	}
	return fmt.Sprintf("%s: %s answered %s %q", ErrRejected, e.Request, e.Response.Status, e.Response.Body)
}

func (e *StatusError) Unwrap() error { return ErrRejected }

type Client struct {
	transport *transport.Client
}

func New(t *transport.Client) *Client {
	return &Client{transport: t}
}

// Call sends one request and waits for its response or for ctx to end.
// A cancelled call leaves the request queued; its response is discarded.
func (c *Client) Call(ctx context.Context, name string, data []byte) (message.Response, error) {
	ch := c.transport.Request(message.NewRequest(name, data))
	select {
	case resp := <-ch:
		if resp == nil {
			return message.Response{}, fmt.Errorf("%w: %s %q", ErrUnreachable, c.transport.Addr(), name)
		}
		return *resp, nil
	case <-ctx.Done():
		return message.Response{}, ctx.Err()
	}
}

// Hello announces this node to the coordinator under role.
func (c *Client) Hello(ctx context.Context, role string) error {
	resp, err := c.Call(ctx, coordinator.HelloRequest, []byte(role))
	if err != nil {
		return err
	}
	if !resp.OK() {
		return rejected(coordinator.HelloRequest, resp)
	}
	return nil
}

// AwaitReady polls the coordinator until it reports every expected worker registered,
// then returns the worker listing.
func (c *Client) AwaitReady(ctx context.Context, b Backoff) ([]registry.ServiceInstance, error) {
	delay := b.Initial
	for {
		resp, err := c.Call(ctx, coordinator.ReadyRequest, nil)
		if err != nil {
			return nil, err
		}
		switch resp.Status {
		case message.Ok:
			return registry.ParseListing(resp.Body)
		case message.Busy:
		default:
			return nil, rejected(coordinator.ReadyRequest, resp)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
		if delay *= 2; b.Max > 0 && delay > b.Max {
			delay = b.Max
		}
	}
}

// Quit ends the session. The coordinator forgets this node and closes the connection.
func (c *Client) Quit(ctx context.Context) error {
	resp, err := c.Call(ctx, server.QuitRequest, nil)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return rejected(server.QuitRequest, resp)
	}
	return nil
}

// Noop checks the peer is alive.
func (c *Client) Noop(ctx context.Context) error {
	resp, err := c.Call(ctx, server.NoopRequest, nil)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return rejected(server.NoopRequest, resp)
	}
	return nil
}

func (c *Client) Close() error {
	return c.transport.Close()
}

func rejected(name string, resp message.Response) error {
	return &StatusError{Request: name, Response: resp}
}
