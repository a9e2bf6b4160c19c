// Package control drives a provider from the daemon: it provisions the initial
// blocks, then polls and reaps them at a fixed interval until stopped.
package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gammadia/blockpool/lifecycle"
	"github.com/gammadia/blockpool/provider"
	"github.com/gammadia/blockpool/status"
	"github.com/samber/lo"
)

type Pool interface {
	Init(ctx context.Context) (provider.Handle, error)
	Poll(ctx context.Context) (map[string]status.Status, error)
	Reap(ctx context.Context) ([]string, error)
}

type Config struct {
	Logger   *slog.Logger
	Interval time.Duration
	// Once stops the loop after the first poll.
	Once bool
}

// Run blocks until ctx is cancelled, or until the first poll is done when
// config.Once is set. Backend failures are logged, never fatal.
func Run(ctx context.Context, pool Pool, config Config) {
	log := config.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	handle, err := pool.Init(ctx)
	switch {
	case errors.Is(err, lifecycle.ErrCapacityExceeded):
		log.Warn("Initial blocks partially provisioned", "handle", handle, "error", err)
	case err != nil:
		log.Error("Failed to initialize blocks", "error", err)
	case handle != "":
		log.Info("Initial blocks provisioned", "handle", handle)
	}

	ticker := time.NewTicker(config.Interval)
	defer ticker.Stop()

	for {
		tick(ctx, pool, log)
		if config.Once {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func tick(ctx context.Context, pool Pool, log *slog.Logger) {
	statuses, err := pool.Poll(ctx)
	if errors.Is(err, lifecycle.ErrBackendUnavailable) {
		log.Warn("Backend unavailable, some statuses are stale", "error", err)
	} else if err != nil {
		log.Error("Failed to poll blocks", "error", err)
	}
	if len(statuses) > 0 {
		log.Info("Polled blocks", summary(statuses)...)
	}

	reaped, err := pool.Reap(ctx)
	if err != nil {
		log.Warn("Failed to reap terminal blocks", "error", err)
	}
	if len(reaped) > 0 {
		log.Info("Reaped terminal blocks", "blocks", reaped)
	}
}

// summary counts the blocks per status, as log attributes.
func summary(statuses map[string]status.Status) []any {
	values := lo.Values(statuses)
	return lo.FlatMap(status.All, func(s status.Status, _ int) []any {
		count := lo.Count(values, s)
		if count == 0 {
			return nil
		}
		return []any{strings.ToLower(s.String()), count}
	})
}
