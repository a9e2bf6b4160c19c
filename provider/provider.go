package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gammadia/blockpool/bootstrap"
	"github.com/gammadia/blockpool/config"
	"github.com/gammadia/blockpool/lifecycle"
	"github.com/gammadia/blockpool/state"
	"github.com/gammadia/blockpool/status"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Handle identifies the blocks of one Submit call.
type Handle string

func (h Handle) String() string {
	return string(h)
}

var (
	ErrUninitialized = errors.New("provider is not initialized")
	ErrUnknownHandle = errors.New("unknown handle")
)

// Provider is the execution provider used by workflow runtimes: it submits,
// watches and cancels blocks on behalf of its caller.
//
// The zero value is not usable; every method returns ErrUninitialized until
// the provider is built with New.
type Provider struct {
	ready   atomic.Bool
	config  config.Config
	manager *lifecycle.Manager
	store   state.Store
	log     *slog.Logger
	now     func() time.Time
}

// New locks store for the lifetime of the provider, loads the state of the
// site from it, or creates and saves an empty one, and returns a ready
// provider. It fails with state.ErrLocked while another provider holds the
// store.
func New(cfg config.Config, backend lifecycle.Backend, store state.Store, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if backend == nil {
		return nil, &config.Error{Option: config.Provisioner, Reason: "did not provide a backend"}
	}
	if store == nil {
		return nil, &config.Error{Option: config.StateBackend, Reason: "did not provide a store"}
	}

	template, err := bootstrap.Load(cfg.ScriptTemplate)
	if err != nil {
		return nil, &config.Error{Option: config.ScriptTemplate, Reason: err.Error()}
	}

	log := logger.With("component", "provider", "site", cfg.Site)

	if err := store.Lock(); err != nil {
		return nil, fmt.Errorf("failed to lock state at '%s' (is a daemon or another command using it?): %w", store.Location(), err)
	}

	initial, err := load(cfg, store, log)
	if err != nil {
		if unlockErr := store.Unlock(); unlockErr != nil {
			log.Warn("Failed to unlock state", "error", unlockErr)
		}
		return nil, err
	}

	manager := lifecycle.New(lifecycle.Config{
		Logger:           logger.With("component", "lifecycle", "site", cfg.Site),
		Site:             cfg.Site,
		MaxBlocks:        cfg.MaxBlocks,
		Nodes:            cfg.Nodes,
		TaskBlocks:       cfg.TaskBlocks,
		Walltime:         cfg.Walltime,
		InstanceType:     cfg.InstanceType,
		Region:           cfg.Region,
		OperationTimeout: cfg.OperationTimeout,
		RetryAttempts:    cfg.RetryAttempts,
		RetryDelay:       cfg.RetryDelay,
		Bootstrap:        template,
		Script:           cfg.Script,
	}, backend, store, initial)

	p := &Provider{
		config:  cfg,
		manager: manager,
		store:   store,
		log:     log,
		now:     time.Now,
	}
	p.ready.Store(true)
	return p, nil
}

// load reads the state of the site, or creates and saves an empty one.
func load(cfg config.Config, store state.Store, log *slog.Logger) (*state.ProviderState, error) {
	initial, err := store.Load()
	switch {
	case errors.Is(err, state.ErrNotFound):
		log.Info("No state found, starting fresh", "location", store.Location())
		initial = state.New(cfg.Site)
		if err := store.Save(initial); err != nil {
			return nil, fmt.Errorf("failed to create state at '%s': %w", store.Location(), err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load state: %w", err)
	case initial.Site != "" && initial.Site != cfg.Site:
		return nil, &config.Error{Option: config.Site, Reason: fmt.Sprintf("'%s' does not match the site '%s' of %s", cfg.Site, initial.Site, store.Location())}
	default:
		log.Info("State loaded", "location", store.Location(), "blocks", len(initial.Blocks))
	}
	return initial, nil
}

func (p *Provider) check() error {
	if p == nil || !p.ready.Load() {
		return ErrUninitialized
	}
	return nil
}

// ChannelsRequired reports whether callers must set up a channel to the
// nodes. Blocks reach back on their own, so it never is.
func (p *Provider) ChannelsRequired() bool {
	return false
}

// Init adopts the blocks left behind by a previous run, then provisions
// blocks until init-blocks are live. Returns the handle of the new blocks, if
// any.
func (p *Provider) Init(ctx context.Context) (Handle, error) {
	if err := p.check(); err != nil {
		return "", err
	}

	adopted, err := p.manager.Reconcile(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to reconcile state with backend: %w", err)
	}
	if len(adopted) > 0 {
		p.log.Warn("Adopted blocks unknown to the state", "count", len(adopted))
	}

	missing := p.manager.MissingBlocks(p.config.InitBlocks)
	if missing == 0 {
		return "", nil
	}

	p.log.Info("Provisioning initial blocks", "count", missing)
	return p.Submit(ctx, missing)
}

// Submit requests blocks and returns the handle they are tracked under. When
// only part of the request fits under max-blocks, the handle of the granted
// blocks is returned together with the capacity error.
func (p *Provider) Submit(ctx context.Context, blocks int) (Handle, error) {
	if err := p.check(); err != nil {
		return "", err
	}
	if blocks < 1 {
		return "", fmt.Errorf("cannot submit %d blocks", blocks)
	}

	handle := Handle(uuid.NewString())
	granted, err := p.manager.RequestBlocksFor(ctx, handle.String(), blocks)
	if len(granted) == 0 {
		return "", err
	}

	p.log.Info("Blocks submitted", "handle", handle, "requested", blocks, "granted", len(granted))
	return handle, err
}

// Status returns the aggregated status of the blocks behind handle. The
// backend is polled first when a live block has not been polled within
// status-max-age; if that poll fails, the last known status is returned along
// with the error.
func (p *Provider) Status(ctx context.Context, handle Handle) (status.Status, error) {
	if err := p.check(); err != nil {
		return "", err
	}

	blocks := p.blocksOf(handle)
	if len(blocks) == 0 {
		return "", fmt.Errorf("%w '%s'", ErrUnknownHandle, handle)
	}

	var pollErr error
	if p.stale(blocks) {
		ids := lo.Map(blocks, func(block state.Block, _ int) string { return block.ID })
		if _, pollErr = p.manager.PollBlocks(ctx, ids); pollErr != nil {
			p.log.Warn("Poll failed, reporting cached status", "handle", handle, "error", pollErr)
		}
		if refreshed := p.blocksOf(handle); len(refreshed) > 0 {
			blocks = refreshed
		}
	}

	return Aggregate(lo.Map(blocks, func(block state.Block, _ int) status.Status {
		return block.Status
	})), pollErr
}

func (p *Provider) stale(blocks []state.Block) bool {
	now := p.now()
	return lo.SomeBy(blocks, func(block state.Block) bool {
		return !block.Status.Terminal() && now.Sub(block.LastPolledAt) >= p.config.StatusMaxAge
	})
}

// Cancel tears down every block behind handle. Unknown handles are ignored.
func (p *Provider) Cancel(ctx context.Context, handle Handle) error {
	if err := p.check(); err != nil {
		return err
	}

	var errs []error
	for _, block := range p.blocksOf(handle) {
		if err := p.manager.Teardown(ctx, block.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		p.log.Info("Blocks cancelled", "handle", handle)
	}
	return errors.Join(errs...)
}

// Poll refreshes the status of every live block.
func (p *Provider) Poll(ctx context.Context) (map[string]status.Status, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	return p.manager.PollStatus(ctx)
}

// Reap forgets the blocks that reached a terminal status once the backend
// confirmed they are gone.
func (p *Provider) Reap(ctx context.Context) ([]string, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	return p.manager.ReapTerminal(ctx)
}

func (p *Provider) Blocks() ([]state.Block, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	return p.manager.Blocks(), nil
}

// Submissions groups the tracked blocks by handle, in submission order.
func (p *Provider) Submissions() ([]Submission, error) {
	blocks, err := p.Blocks()
	if err != nil {
		return nil, err
	}
	return Group(blocks), nil
}

// Close unlocks and releases the store. The provider is unusable afterwards.
func (p *Provider) Close() error {
	if err := p.check(); err != nil {
		return err
	}
	p.ready.Store(false)

	err := p.store.Unlock()
	if closer, ok := p.store.(io.Closer); ok {
		err = errors.Join(err, closer.Close())
	}
	return err
}

func (p *Provider) blocksOf(handle Handle) []state.Block {
	return lo.Filter(p.manager.Blocks(), func(block state.Block, _ int) bool {
		return block.Handle == handle.String()
	})
}
