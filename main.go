package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"foreman/pkg/agent"
	"foreman/pkg/channels"
	_ "foreman/pkg/channels/autoload" // register channels
	"foreman/pkg/config"
	"foreman/pkg/gateway"
	"foreman/pkg/llm"
	_ "foreman/pkg/llm/autoload" // register model providers
	"foreman/pkg/monitor"
)

// stack bundles everything that must be rebuilt on a configuration reload.
type stack struct {
	registry *agent.Registry
	gw       *gateway.Manager
	mon      monitor.Monitor
}

func buildStack() (*stack, error) {
	cfg, sys, err := config.Load()
	if err != nil {
		return nil, err
	}

	monitor.SetupSlog(sys.LogLevel)

	client, err := llm.NewFromConfig(cfg.LLM, sys)
	if err != nil {
		return nil, err
	}

	registry := agent.NewRegistry(cfg, sys, client)

	mon := monitor.NewCLIMonitor()
	mon.Start()

	gw := gateway.NewManager()
	gw.SetMonitor(mon)
	gw.SetHandler(gateway.NewChatHandler(registry))
	channels.LoadFromConfig(gw, cfg.Channels, sys)

	if err := gw.StartAll(); err != nil {
		registry.Close()
		return nil, err
	}

	return &stack{registry: registry, gw: gw, mon: mon}, nil
}

func (s *stack) shutdown() {
	s.gw.StopAll()
	s.registry.Close()
	s.mon.Stop()
}

func main() {
	monitor.SetupSlog("info")

	s, err := buildStack()
	if err != nil {
		slog.Error("Startup failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloadCh := config.WatchConfig(ctx, "config.json", "system.json")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-reloadCh:
			slog.Info("Reloading configuration, restarting services")
			s.shutdown()
			next, err := buildStack()
			if err != nil {
				slog.Error("Reload failed, shutting down", "error", err)
				os.Exit(1)
			}
			s = next
		case sig := <-sigChan:
			slog.Info("Received shutdown signal, stopping services", "signal", sig.String())
			s.shutdown()
			slog.Info("Bye!")
			return
		}
	}
}
