package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gammadia/blockpool/bootstrap"
	"github.com/gammadia/blockpool/lifecycle/internal"
	"github.com/gammadia/blockpool/namegen"
	"github.com/gammadia/blockpool/state"
	"github.com/gammadia/blockpool/status"
	"github.com/samber/lo"
)

// Manager provisions, polls and tears down blocks, and is the only writer of
// the provider state. Every mutation is saved before the call returns.
// Backend describes run outside the lock; creates and destroys hold it.
type Manager struct {
	config     Config
	backend    Backend
	store      state.Store
	translator *status.Translator
	log        *slog.Logger

	// mutex serializes mutations; read accessors share it.
	mutex sync.RWMutex
	state *state.ProviderState
}

func New(config Config, backend Backend, store state.Store, initial *state.ProviderState) *Manager {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.Nodes < 1 {
		config.Nodes = 1
	}
	if initial == nil {
		initial = state.New(config.Site)
	}

	var tables []status.Table
	if tabler, ok := backend.(StatusTabler); ok {
		tables = append(tables, tabler.StatusTable())
	}

	return &Manager{
		config:     config,
		backend:    backend,
		store:      store,
		translator: status.NewTranslator(config.Logger, tables...),
		log:        config.Logger,
		state:      initial.Clone(),
	}
}

func (m *Manager) now() time.Time {
	return m.config.Clock().UTC()
}

// operation bounds a backend call, retries included.
func (m *Manager) operation(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.config.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.config.OperationTimeout)
}

// commit replaces the in-memory state and persists it. The in-memory state is
// replaced even when saving fails, so the next successful save includes it.
func (m *Manager) commit(next *state.ProviderState) error {
	m.state = next
	if err := m.store.Save(next); err != nil {
		return fmt.Errorf("failed to persist state to '%s': %w", m.store.Location(), err)
	}
	return nil
}

// RequestBlocks provisions up to n blocks; see RequestBlocksFor.
func (m *Manager) RequestBlocks(ctx context.Context, n int) ([]state.Block, error) {
	return m.RequestBlocksFor(ctx, "", n)
}

// RequestBlocksFor provisions up to n blocks tagged with handle. Only the
// blocks that fit under max-blocks are provisioned; the rest is reported with a
// CapacityError alongside the blocks that were created. Each block is saved
// before this returns.
func (m *Manager) RequestBlocksFor(ctx context.Context, handle string, n int) ([]state.Block, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var errs []error
	granted := internal.BlocksToProvision(m.config.MaxBlocks, len(m.state.Blocks), n)
	if granted < n {
		capacityErr := &CapacityError{Requested: n, Granted: granted, MaxBlocks: m.config.MaxBlocks}
		m.log.Warn("Refusing blocks over capacity", "requested", n, "granted", granted, "tracked", len(m.state.Blocks), "max", m.config.MaxBlocks)
		errs = append(errs, capacityErr)
	}

	var blocks []state.Block
	for i := 0; i < granted; i++ {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		block, err := m.provision(ctx, handle)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		blocks = append(blocks, block)
	}

	return blocks, errors.Join(errs...)
}

func (m *Manager) provision(ctx context.Context, handle string) (state.Block, error) {
	spec := BlockSpec{
		Name:         namegen.Block(m.config.Site),
		Site:         m.config.Site,
		Nodes:        m.config.Nodes,
		InstanceType: m.config.InstanceType,
		Region:       m.config.Region,
		Walltime:     m.config.Walltime,
	}
	log := m.log.With("block", spec.Name)

	if m.config.Bootstrap != nil {
		userData, err := m.config.Bootstrap.Render(bootstrap.Data{
			Site:       spec.Site,
			Block:      spec.Name,
			Nodes:      spec.Nodes,
			TaskBlocks: m.config.TaskBlocks,
			Walltime:   spec.Walltime,
			Script:     m.config.Script,
		})
		if err != nil {
			return state.Block{}, &ProvisionError{Block: spec.Name, Err: err}
		}
		spec.UserData = userData
	}

	opCtx, cancel := m.operation(ctx)
	defer cancel()

	log.Info("Provisioning block", "nodes", spec.Nodes, "instance-type", spec.InstanceType)
	attempt := 0
	id, err := internal.RetryResultWithContext(opCtx, m.config.retryPolicy(), func(ctx context.Context) (string, error) {
		attempt += 1
		id, err := m.backend.Create(ctx, spec)
		if err != nil {
			log.Warn("Backend refused block", "attempt", attempt, "error", err)
		}
		return id, err
	})
	if err != nil {
		log.Error("Provisioning of block failed", "attempts", attempt, "error", err)
		return state.Block{}, &ProvisionError{Block: spec.Name, Err: err}
	}

	block := state.Block{
		ID:        id,
		Name:      spec.Name,
		Handle:    handle,
		Status:    status.Pending,
		Nodes:     spec.Nodes,
		CreatedAt: m.now(),
	}
	if err := m.commit(state.Upsert(m.state, block)); err != nil {
		return state.Block{}, &ProvisionError{Block: spec.Name, Err: err}
	}

	log.Info("Block accepted by backend", "id", id)
	return block, nil
}

// PollStatus refreshes the status of every non-terminal block and returns the
// status of all tracked blocks. Blocks whose backend keeps failing keep their
// previous status and are reported with ErrBackendUnavailable.
func (m *Manager) PollStatus(ctx context.Context) (map[string]status.Status, error) {
	return m.poll(ctx, func(state.Block) bool { return true })
}

// PollBlocks is PollStatus restricted to the blocks ids. Other blocks are
// neither described nor reported.
func (m *Manager) PollBlocks(ctx context.Context, ids []string) (map[string]status.Status, error) {
	return m.poll(ctx, func(block state.Block) bool { return lo.Contains(ids, block.ID) })
}

// poll describes the selected blocks without holding the lock, then commits
// the results under it. Blocks torn down in the meantime stay removed.
func (m *Manager) poll(ctx context.Context, selected func(state.Block) bool) (map[string]status.Status, error) {
	m.mutex.RLock()
	blocks := lo.Filter(m.state.Sorted(), func(block state.Block, _ int) bool {
		return selected(block) && !block.Status.Terminal()
	})
	m.mutex.RUnlock()

	var polled []state.Block
	var errs []error
	for _, block := range blocks {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		block, err := m.describe(ctx, block)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		polled = append(polled, block)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	next := m.state
	for _, block := range polled {
		current, ok := next.Blocks[block.ID]
		if !ok {
			continue
		}
		if block.Status != current.Status {
			m.log.Info("Block status changed", "block", block.Name, "from", current.Status, "to", block.Status, "native", block.NativeStatus)
		}
		next = state.Upsert(next, block)
	}

	if next != m.state {
		if err := m.commit(next); err != nil {
			errs = append(errs, err)
		}
	}

	statuses := map[string]status.Status{}
	for id, block := range m.state.Blocks {
		if selected(block) {
			statuses[id] = block.Status
		}
	}
	return statuses, errors.Join(errs...)
}

func (m *Manager) describe(ctx context.Context, block state.Block) (state.Block, error) {
	opCtx, cancel := m.operation(ctx)
	defer cancel()

	native, err := internal.RetryResultWithContext(opCtx, m.config.retryPolicy(), func(ctx context.Context) (string, error) {
		native, err := m.backend.Describe(ctx, block.ID)
		if errors.Is(err, ErrBlockNotFound) {
			return native, internal.Permanent(err)
		}
		return native, err
	})

	now := m.now()
	switch {
	case errors.Is(err, ErrBlockNotFound):
		m.log.Warn("Block vanished from backend", "block", block.Name, "id", block.ID)
		block.Status = status.Cancelled

	case err != nil:
		m.log.Warn("Failed to poll block, keeping last known status", "block", block.Name, "status", block.Status, "error", err)
		return block, fmt.Errorf("%w: failed to describe block '%s': %w", ErrBackendUnavailable, block.Name, err)

	default:
		block.NativeStatus = native
		block.Status = m.translator.Translate(native)
	}
	block.LastPolledAt = now

	if !block.Status.Terminal() && m.config.Walltime > 0 && now.Sub(block.CreatedAt) > m.config.Walltime {
		m.log.Warn("Block exceeded its walltime", "block", block.Name, "walltime", m.config.Walltime)
		block.Status = status.Timeout
	}

	return block, nil
}

// Teardown destroys the block id and forgets it once the backend confirmed.
// Unknown and terminal blocks are left alone: terminal ones are removed by
// ReapTerminal.
func (m *Manager) Teardown(ctx context.Context, id string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	block, ok := m.state.Blocks[id]
	if !ok {
		m.log.Debug("Teardown of unknown block ignored", "id", id)
		return nil
	}
	if block.Status.Terminal() {
		m.log.Debug("Teardown of terminal block ignored", "block", block.Name, "status", block.Status)
		return nil
	}

	if err := m.destroy(ctx, block); err != nil {
		return err
	}

	return m.commit(state.Remove(m.state, id))
}

func (m *Manager) destroy(ctx context.Context, block state.Block) error {
	opCtx, cancel := m.operation(ctx)
	defer cancel()

	log := m.log.With("block", block.Name)
	log.Info("Tearing down block", "id", block.ID)

	err := internal.RetryWithContext(opCtx, m.config.retryPolicy(), func(ctx context.Context) error {
		err := m.backend.Destroy(ctx, block.ID)
		if errors.Is(err, ErrBlockNotFound) {
			return internal.Permanent(err)
		}
		return err
	})
	if errors.Is(err, ErrBlockNotFound) {
		log.Info("Block already gone from backend")
		return nil
	} else if err != nil {
		log.Error("Teardown of block failed", "error", err)
		return fmt.Errorf("%w: failed to destroy block '%s': %w", ErrBackendUnavailable, block.Name, err)
	}

	log.Info("Block destroyed")
	return nil
}

// ReapTerminal confirms the teardown of every terminal block and removes it
// from the state. Returns the ids of the reaped blocks.
func (m *Manager) ReapTerminal(ctx context.Context) ([]string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	next := m.state
	var reaped []string
	var errs []error

	for _, block := range m.state.Sorted() {
		if !block.Status.Terminal() {
			continue
		}
		if err := m.destroy(ctx, block); err != nil {
			errs = append(errs, err)
			continue
		}
		next = state.Remove(next, block.ID)
		reaped = append(reaped, block.ID)
	}

	if len(reaped) > 0 {
		if err := m.commit(next); err != nil {
			errs = append(errs, err)
		}
	}

	return reaped, errors.Join(errs...)
}

// Reconcile adopts the blocks the backend holds for this site but the state
// does not know about, which happens when a run crashed between a successful
// create and the following save. Backends that cannot list are skipped.
func (m *Manager) Reconcile(ctx context.Context) ([]state.Block, error) {
	lister, ok := m.backend.(Lister)
	if !ok {
		return nil, nil
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	opCtx, cancel := m.operation(ctx)
	defer cancel()

	instances, err := internal.RetryResultWithContext(opCtx, m.config.retryPolicy(), func(ctx context.Context) ([]Instance, error) {
		return lister.List(ctx, m.config.Site)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list blocks: %w", ErrBackendUnavailable, err)
	}

	now := m.now()
	next := m.state
	var adopted []state.Block
	for _, instance := range instances {
		if _, known := next.Blocks[instance.ID]; known {
			continue
		}

		block := state.Block{
			ID:           instance.ID,
			Name:         lo.Ternary(instance.Name != "", instance.Name, instance.ID),
			Status:       status.Pending,
			NativeStatus: instance.NativeStatus,
			Nodes:        max(1, instance.Nodes),
			CreatedAt:    lo.Ternary(instance.CreatedAt.IsZero(), now, instance.CreatedAt.UTC()),
		}
		if instance.NativeStatus != "" {
			block.Status = m.translator.Translate(instance.NativeStatus)
			block.LastPolledAt = now
		}

		m.log.Warn("Adopting untracked block", "block", block.Name, "id", block.ID, "status", block.Status)
		next = state.Upsert(next, block)
		adopted = append(adopted, block)
	}

	if len(adopted) == 0 {
		return nil, nil
	}
	if len(next.Blocks) > m.config.MaxBlocks {
		m.log.Warn("Tracking more blocks than allowed, new requests will be refused", "tracked", len(next.Blocks), "max", m.config.MaxBlocks)
	}

	return adopted, m.commit(next)
}

// Blocks returns a snapshot of the tracked blocks ordered by creation.
func (m *Manager) Blocks() []state.Block {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.state.Sorted()
}

func (m *Manager) Get(id string) (state.Block, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	block, ok := m.state.Blocks[id]
	return block, ok
}

// LiveBlocks counts the non-terminal blocks.
func (m *Manager) LiveBlocks() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return lo.CountBy(lo.Values(m.state.Blocks), func(block state.Block) bool {
		return !block.Status.Terminal()
	})
}

// MissingBlocks returns how many blocks must be requested for at least target
// blocks to be live.
func (m *Manager) MissingBlocks(target int) int {
	return internal.BlocksToInit(target, m.LiveBlocks())
}

// NodeCount is the number of nodes held by non-terminal blocks.
func (m *Manager) NodeCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return lo.SumBy(lo.Values(m.state.Blocks), func(block state.Block) int {
		return lo.Ternary(block.Status.Terminal(), 0, block.Nodes)
	})
}

func (m *Manager) MaxBlocks() int {
	return m.config.MaxBlocks
}

func (m *Manager) Site() string {
	return m.config.Site
}
