package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gammadia/blockpool/config"
	"github.com/gammadia/blockpool/server/control"
	"github.com/gammadia/blockpool/server/flags"
	"github.com/gammadia/blockpool/server/log"

	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

// Global context for shutdown cascading, cancelled by the signal handler.
var ctx, cancel = context.WithCancel(context.Background())

func main() {
	// Setup logger first as this will be used to report progress of the rest of the setup
	if err := log.Init(viper.GetString(flags.LogFormat), viper.GetString(flags.LogLevel), viper.GetBool(flags.LogSource)); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, err))
		os.Exit(1)
	}
	log.Info("Blockpool daemon starting up...", "version", version, "commit", commit)

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		log.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	setupInterrupts()

	if err := createProvider(cfg); err != nil {
		log.Error("Failed to create provider", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := provider.Close(); err != nil {
			log.Warn("Failed to close provider", "error", err)
		}
	}()

	log.Info("Provider ready", "site", cfg.Site, "provisioner", cfg.Provisioner, "max-blocks", cfg.MaxBlocks, "poll-interval", cfg.PollInterval)
	control.Run(ctx, provider, control.Config{
		Logger:   log.Base.With("component", "control"),
		Interval: cfg.PollInterval,
		Once:     viper.GetBool(flags.Once),
	})

	// Blocks are left running: they are persisted and picked up on the next start.
	log.Info("Shutdown completed. Bye!")
}

// setupInterrupts handles SIGINT and SIGTERM with a double-tap pattern:
// the first signal cancels ctx, the second forces an immediate exit.
func setupInterrupts() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sig
		log.Info("Shutdown signal received, attempting graceful shutdown")
		cancel()
		<-sig
		log.Warn("Second shutdown signal received, forcing exit")
		os.Exit(1)
	}()
}
