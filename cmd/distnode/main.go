// Command distnode is a distribution worker. It announces itself to the coordinator,
// waits until every expected worker has done the same, prints the worker listing and
// leaves.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"node-rpc/client"
	"node-rpc/config"
	"node-rpc/message"
	"node-rpc/registry"
	"node-rpc/service"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a noderpc YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[Distribution] Failed to load config: %v\n", err)
		return 1
	}

	svc := service.New("Distribution", service.WithConfig(cfg))
	defer svc.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(svc.Connect(cfg.Coordinator.Addr()))
	defer c.Close()

	if err := c.Hello(ctx, cfg.Worker.Role); err != nil {
		var se *client.StatusError
		switch {
		case errors.Is(err, client.ErrUnreachable):
			svc.Log(service.Critical, "Failed to reach remote service")
			return 0
		case errors.As(err, &se) && se.Response.Status == message.ClientFail:
			svc.Log(service.Critical, "Service unrecognized by control node")
		case se != nil:
			svc.Log(service.Critical, "Unknown server error")
		default:
			svc.Log(service.Critical, err.Error())
		}
	} else {
		instances, err := c.AwaitReady(ctx, client.Backoff{
			Initial: cfg.Worker.PollInterval,
			Max:     cfg.Worker.PollMaxInterval,
		})
		switch {
		case err == nil:
			fmt.Println(string(registry.FormatListing(instances)))
		case errors.Is(err, client.ErrUnreachable):
			svc.Log(service.Critical, "Server failed to respond")
		default:
			svc.Log(service.Critical, "Failed to reach remote service")
		}
	}

	// Leave even after a signal so the coordinator forgets this worker.
	_ = c.Quit(context.WithoutCancel(ctx))
	return 0
}
