package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/airscribe/airscribe/agent/internal/config"
	"github.com/airscribe/airscribe/agent/internal/imu"
	"github.com/airscribe/airscribe/agent/internal/shipper"
)

func main() {
	configPath := flag.String("config", "", "path to config file; built-in defaults when empty")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("airscribe-agent starting", "config", *configPath)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
	}
	level.Set(cfg.Agent.Level())
	slog.Info("config loaded",
		"server_url", cfg.Agent.ServerURL,
		"server_endpoint", cfg.Agent.ServerEndpoint,
		"device_id", cfg.Agent.DeviceID,
		"source", cfg.Agent.Source.Type,
		"rate_hz", cfg.Agent.Source.RateHz,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reader, err := imu.New(cfg.Agent.Source)
	if err != nil {
		slog.Error("failed to build IMU reader", "err", err)
		os.Exit(1)
	}

	// Hot reload adjusts the log level; source and batching changes need a restart.
	if *configPath != "" {
		go func() {
			if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
				level.Set(updated.Agent.Level())
				slog.Info("config hot-reloaded", "log_level", updated.Agent.LogLevel)
			}); err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	ship, err := shipper.New(cfg.Agent)
	if err != nil {
		slog.Error("failed to build shipper", "err", err)
		os.Exit(1)
	}
	go ship.Run(ctx)

	// Read loop: one sample per tick at rate_hz, handed to the shipper.
	go func() {
		for {
			s, err := reader.Read(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Error("imu read failed", "err", err)
				}
				return
			}
			ship.Ship(s)
		}
	}()

	<-ctx.Done()
	shipped, evicted := ship.Stats()
	slog.Info("airscribe-agent shutting down", "shipped", shipped, "evicted", evicted)
}
