package lifecycle

import (
	"context"
	"time"

	"github.com/gammadia/blockpool/lifecycle/internal"
	"github.com/gammadia/blockpool/status"
)

// BlockSpec describes one block to create.
type BlockSpec struct {
	// Name is unique per site; backends tag their resources with it.
	Name         string
	Site         string
	Nodes        int
	InstanceType string
	Region       string
	Walltime     time.Duration
	// UserData is the rendered bootstrap script, empty when none is configured.
	UserData string
}

// Backend is the cloud collaborator creating, destroying and describing blocks.
//
// Destroy and Describe must return an error matching ErrBlockNotFound when the
// backend no longer knows the block. Errors wrapped with Permanent are not retried.
type Backend interface {
	Create(ctx context.Context, spec BlockSpec) (id string, err error)
	Destroy(ctx context.Context, id string) error
	Describe(ctx context.Context, id string) (native string, err error)
}

// Instance is a block as seen by the backend.
type Instance struct {
	ID           string
	Name         string
	NativeStatus string
	Nodes        int
	CreatedAt    time.Time
}

// Lister is implemented by backends able to enumerate the blocks they hold for
// a site. It lets the manager adopt blocks created by a run that crashed before
// saving them.
type Lister interface {
	List(ctx context.Context, site string) ([]Instance, error)
}

// StatusTabler is implemented by backends whose native vocabulary is not
// covered by status.Default.
type StatusTabler interface {
	StatusTable() status.Table
}

// Permanent marks a backend error as not worth retrying,
// e.g. a rejected request as opposed to a network failure.
func Permanent(err error) error {
	return internal.Permanent(err)
}

func IsPermanent(err error) bool {
	return internal.IsPermanent(err)
}
