package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/gammadia/blockpool/config"
	"github.com/gammadia/blockpool/provider"
	"github.com/gammadia/blockpool/provisioner"
	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
)

func main() {
	flags := flag.NewFlagSet("playground", flag.ContinueOnError)
	config.AddFlags(flags)

	// Every other option comes from BLOCKPOOL_* variables
	v := config.Bind(flags)
	v.SetDefault(config.Site, "playground")
	v.SetDefault(config.Provisioner, lo.Must(lo.Coalesce(os.Getenv("PROVISIONER"), "fake")))
	v.SetDefault(config.MaxBlocks, 2)
	v.SetDefault(config.StateFile, filepath.Join(os.TempDir(), "blockpool-playground.json"))

	cfg, err := config.Load(v)
	if err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	backend, err := provisioner.New(cfg, logger)
	if err != nil {
		fmt.Printf("unable to create provisioner '%s': %v\n", cfg.Provisioner, err)
		os.Exit(1)
	}
	store, err := provider.OpenStore(cfg)
	if err != nil {
		fmt.Printf("unable to open state store: %v\n", err)
		os.Exit(1)
	}
	p, err := provider.New(cfg, backend, store, logger)
	if err != nil {
		fmt.Printf("unable to create provider: %v\n", err)
		os.Exit(1)
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	handle, err := p.Submit(ctx, cfg.MaxBlocks)
	if err != nil {
		fmt.Printf("unable to submit blocks: %v\n", err)
		return
	}

	for {
		s, err := p.Status(ctx, handle)
		fmt.Printf("%s: %s (error: %v)\n", handle, s, err)
		if s.Terminal() {
			break
		}

		select {
		case <-ctx.Done():
			fmt.Println("interrupted, cancelling blocks")
			if err := p.Cancel(context.Background(), handle); err != nil {
				fmt.Printf("unable to cancel blocks: %v\n", err)
			}
			return
		case <-time.After(cfg.StatusMaxAge):
		}
	}

	reaped, err := p.Reap(ctx)
	fmt.Printf("reaped %v (error: %v)\n", reaped, err)
}
