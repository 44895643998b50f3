// Command controlnode runs the coordinator on the well-known port.
//
// Workers announce themselves with "helo distribution" and poll "redy" until enough
// of them have arrived. Type "quit" on stdin (or send SIGINT/SIGTERM) to stop.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"node-rpc/config"
	"node-rpc/coordinator"
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
		fmt.Fprintf(os.Stderr, "[Control] Failed to load config: %v\n", err)
		return 1
	}

	svc := service.New("Control", service.WithConfig(cfg))
	defer svc.Sync()
	logger := svc.Logger()

	reg, closeRegistry, err := openRegistry(cfg, logger)
	if err != nil {
		logger.Error("Failed to connect to etcd", zap.Strings("endpoints", cfg.Etcd.Endpoints), zap.Error(err))
		return 1
	}
	defer closeRegistry()

	svr, err := svc.Listen(cfg.Coordinator.Port)
	if err != nil {
		return 1
	}
	defer svr.Close()

	coordinator.New(reg, coordinator.Options{
		ServicesExpected: cfg.Coordinator.ServicesExpected,
		Roles:            cfg.Coordinator.Roles,
	}, logger).Attach(svr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	commands := make(chan struct{})
	go func() {
		defer close(commands)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if scanner.Text() == "quit" {
				return
			}
			fmt.Println("Unknown command")
		}
	}()

	select {
	case sig := <-quit:
		logger.Info(fmt.Sprintf("Received signal %s, shutting down", sig))
	case <-commands:
	}
	return 0
}

// openRegistry returns the etcd registry when endpoints are configured and an
// in-process one otherwise.
func openRegistry(cfg *config.Config, logger *zap.Logger) (registry.Registry, func(), error) {
	if len(cfg.Etcd.Endpoints) == 0 {
		return registry.NewMemoryRegistry(), func() {}, nil
	}
	reg, err := registry.NewEtcdRegistry(cfg.Etcd.Endpoints, cfg.Etcd.Prefix, cfg.Etcd.TTL, logger)
	if err != nil {
		return nil, nil, err
	}
	return reg, func() { reg.Close() }, nil
}
