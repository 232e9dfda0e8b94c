package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"

	"github.com/jj2net/j2lsd/internal/config"
	"github.com/jj2net/j2lsd/internal/supervisor"
	"github.com/jj2net/j2lsd/internal/webhook"
)

const DefaultConfigPath = "config/j2lsd.yaml"

const usage = `j2lsd - jj2-style multi-port list-server daemon.

Usage:
  j2lsd [--config=<path>]
  j2lsd -h | --help

Options:
  -h --help        Show this help.
  --config=<path>  Path to the daemon's YAML config file [default: config/j2lsd.yaml].
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfgPath := DefaultConfigPath
	if p, _ := opts.String("--config"); p != "" {
		cfgPath = p
	}
	if p := os.Getenv("J2LSD_CONFIG"); p != "" {
		cfgPath = p
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfgPath); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := newLogger(cfg)
	slog.SetDefault(log)

	log.Info("j2lsd starting", "version", cfg.Version, "config", cfgPath)

	for {
		sup, err := supervisor.Boot(ctx, cfg, cfgPath, log)
		if err != nil {
			return fmt.Errorf("booting supervisor: %w", err)
		}
		log.Info("daemon ready", "self", sup.SelfIP)

		runErr := sup.Run(ctx)
		sup.Store.Close()

		if runErr != nil {
			return fmt.Errorf("running daemon: %w", runErr)
		}
		if !sup.RestartRequested {
			return nil
		}

		log.Info("restarting daemon after reload-level-2 request")
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("reloading config for restart: %w", err)
		}
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(cfg.LogLevel))

	base := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})

	var sinks []webhook.Sink
	if cfg.WebhookSlack != "" {
		sinks = append(sinks, webhook.NewHTTPSink(cfg.WebhookSlack))
	}
	if cfg.WebhookDiscord != "" {
		sinks = append(sinks, webhook.NewHTTPSink(cfg.WebhookDiscord))
	}
	if len(sinks) == 0 {
		return slog.New(base)
	}
	return slog.New(webhook.NewHandler(base, cfg.BindAddress, sinks...))
}
