package fake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gammadia/blockpool/lifecycle"
	"github.com/samber/lo"
)

// ErrInjected is returned by the operations failing on purpose.
var ErrInjected = errors.New("injected failure")

type Op string

const (
	Create   Op = "create"
	Describe Op = "describe"
	Destroy  Op = "destroy"
)

type block struct {
	site      string
	name      string
	nodes     int
	createdAt time.Time
	polls     int
	native    string
	broken    bool
}

// Backend keeps blocks in memory. Each describe of a block reports the next
// status of the script, then keeps reporting the last one.
type Backend struct {
	mutex    sync.Mutex
	script   []string
	failures map[Op]int
	blocks   map[string]*block
	nextID   int
	now      func() time.Time
}

// Backend implements lifecycle.Backend
var _ lifecycle.Backend = (*Backend)(nil)
var _ lifecycle.Lister = (*Backend)(nil)

func New(script []string) *Backend {
	if len(script) == 0 {
		script = []string{"R"}
	}
	return &Backend{
		script:   script,
		failures: map[Op]int{},
		blocks:   map[string]*block{},
		now:      time.Now,
	}
}

// Fail makes the next n calls of op fail with ErrInjected.
func (b *Backend) Fail(op Op, n int) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.failures[op] += n
}

// Set overrides the status reported for id from now on.
func (b *Backend) Set(id, native string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if blk, ok := b.blocks[id]; ok {
		blk.native = native
	}
}

// Break makes every describe of id fail with ErrInjected.
func (b *Backend) Break(id string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if blk, ok := b.blocks[id]; ok {
		blk.broken = true
	}
}

// Len is the number of blocks the backend holds.
func (b *Backend) Len() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.blocks)
}

func (b *Backend) injected(op Op) error {
	if b.failures[op] > 0 {
		b.failures[op] -= 1
		return fmt.Errorf("%s: %w", op, ErrInjected)
	}
	return nil
}

func (b *Backend) Create(ctx context.Context, spec lifecycle.BlockSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if err := b.injected(Create); err != nil {
		return "", err
	}

	b.nextID += 1
	id := fmt.Sprintf("fake-%d", b.nextID)
	b.blocks[id] = &block{
		site:      spec.Site,
		name:      spec.Name,
		nodes:     spec.Nodes,
		createdAt: b.now().UTC(),
	}
	return id, nil
}

func (b *Backend) Describe(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if err := b.injected(Describe); err != nil {
		return "", err
	}

	blk, ok := b.blocks[id]
	if !ok {
		return "", fmt.Errorf("fake block '%s': %w", id, lifecycle.ErrBlockNotFound)
	}
	if blk.broken {
		return "", fmt.Errorf("%s '%s': %w", Describe, id, ErrInjected)
	}
	if blk.native != "" {
		return blk.native, nil
	}

	native := b.script[min(blk.polls, len(b.script)-1)]
	blk.polls += 1
	return native, nil
}

func (b *Backend) Destroy(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if err := b.injected(Destroy); err != nil {
		return err
	}

	if _, ok := b.blocks[id]; !ok {
		return fmt.Errorf("fake block '%s': %w", id, lifecycle.ErrBlockNotFound)
	}
	delete(b.blocks, id)
	return nil
}

func (b *Backend) List(ctx context.Context, site string) ([]lifecycle.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	instances := lo.FilterMap(lo.Keys(b.blocks), func(id string, _ int) (lifecycle.Instance, bool) {
		blk := b.blocks[id]
		return lifecycle.Instance{
			ID:           id,
			Name:         blk.name,
			NativeStatus: blk.native,
			Nodes:        blk.nodes,
			CreatedAt:    blk.createdAt,
		}, blk.site == site
	})
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].ID < instances[j].ID
	})
	return instances, nil
}
