package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/gammadia/blockpool/config"
	providerpkg "github.com/gammadia/blockpool/provider"
	"github.com/gammadia/blockpool/provisioner/fake"
	"github.com/gammadia/blockpool/state"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withProvider(t *testing.T) *providerpkg.Provider {
	t.Helper()
	cfg := config.Config{
		Site:             "test",
		Provisioner:      "fake",
		Nodes:            1,
		TaskBlocks:       "1",
		Walltime:         time.Hour,
		MaxBlocks:        3,
		StateBackend:     "file",
		StateFile:        filepath.Join(t.TempDir(), "state.json"),
		OperationTimeout: time.Minute,
		RetryAttempts:    1,
		RetryDelay:       time.Millisecond,
	}
	p, err := providerpkg.New(cfg, fake.New(nil), state.NewFileStore(cfg.StateFile), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	previous := provider
	provider = p
	t.Cleanup(func() {
		provider = previous
		_ = p.Close()
	})
	return p
}

func TestCompleteHandles(t *testing.T) {
	p := withProvider(t)
	first, err := p.Submit(context.Background(), 1)
	require.NoError(t, err)
	second, err := p.Submit(context.Background(), 2)
	require.NoError(t, err)

	handles, directive := completeHandles(statusCmd, nil, "")
	assert.ElementsMatch(t, []string{first.String(), second.String()}, handles)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)

	// Handles already given are not suggested again
	handles, _ = completeHandles(cancelCmd, []string{first.String()}, "")
	assert.Equal(t, []string{second.String()}, handles)
}

func TestCompleteHandlesWithoutProvider(t *testing.T) {
	previous := provider
	provider = nil
	t.Cleanup(func() { provider = previous })

	handles, directive := completeHandles(statusCmd, nil, "")
	assert.Empty(t, handles)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
}
