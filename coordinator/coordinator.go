// Package coordinator implements the coordination protocol on top of a server.Server.
//
// Workers connect and announce their role with "helo". Any peer may ask "redy"; the
// answer is Busy until enough workers have announced themselves, then Ok with one
// "name\thost\tport\n" line per worker. A worker leaves with the reserved "quit" request.
package coordinator

import (
	"context"
	"net"

	"go.uber.org/zap"

	"node-rpc/message"
	"node-rpc/registry"
	"node-rpc/server"
)

// Request names handled by the coordinator.
const (
	HelloRequest = "helo"
	ReadyRequest = "redy"
)

// Options sets the coordinator's readiness rule and accepted roles.
type Options struct {
	ServicesExpected int      // Workers required before redy answers Ok
	Roles            []string // Roles accepted by helo
}

// Coordinator tracks registered workers in a registry.Registry.
type Coordinator struct {
	registry registry.Registry
	expected int
	roles    map[string]struct{}
	logger   *zap.Logger
}

func New(reg registry.Registry, opts Options, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	roles := make(map[string]struct{}, len(opts.Roles))
	for _, role := range opts.Roles {
		roles[role] = struct{}{}
	}
	return &Coordinator{
		registry: reg,
		expected: opts.ServicesExpected,
		roles:    roles,
		logger:   logger,
	}
}

// Attach installs the coordinator's handlers and quit callback on svr.
func (co *Coordinator) Attach(svr *server.Server) {
	svr.OnRequest(HelloRequest, co.Hello)
	svr.OnRequest(ReadyRequest, co.Ready)
	svr.OnQuit(co.Quit)
}

// Hello registers peer under the role carried in data.
func (co *Coordinator) Hello(ctx context.Context, peer net.Addr, data []byte) message.Response {
	role := string(data)
	if _, ok := co.roles[role]; !ok {
		return message.TextResponse(message.ClientFail, "service unknown")
	}

	instance, err := registry.InstanceFromAddr(role, peer)
	if err != nil {
		co.logger.Warn("Failed to parse peer address", zap.Stringer("peer", peer), zap.Error(err))
		return message.TextResponse(message.ServerFail, "registration failed")
	}
	if err := co.registry.Register(ctx, instance); err != nil {
		co.logger.Warn("Failed to register service", zap.Stringer("peer", peer), zap.Error(err))
		return message.TextResponse(message.ServerFail, "registration failed")
	}

	co.logger.Info(instance.Addr() + " registered as " + role)
	return message.EmptyOk
}

// Ready answers Busy until ServicesExpected workers are registered, then lists them.
func (co *Coordinator) Ready(ctx context.Context, peer net.Addr, data []byte) message.Response {
	instances, err := co.registry.Discover(ctx)
	if err != nil {
		co.logger.Warn("Failed to list services", zap.Error(err))
		return message.TextResponse(message.ServerFail, "registry unavailable")
	}
	if len(instances) < co.expected {
		return message.EmptyBusy
	}
	return message.NewResponse(message.Ok, registry.FormatListing(instances))
}

// Quit deregisters peer. Peers that never registered are ignored.
func (co *Coordinator) Quit(peer net.Addr, data []byte) {
	instance, err := registry.InstanceFromAddr("", peer)
	if err != nil {
		return
	}
	if err := co.registry.Deregister(context.Background(), instance.Addr()); err != nil {
		co.logger.Warn("Failed to deregister service", zap.Stringer("peer", peer), zap.Error(err))
	}
}
