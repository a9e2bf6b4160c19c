package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded signals that part of a request was refused to stay
	// within max-blocks. It is not fatal: the caller may retry later.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrBackendUnavailable is returned when the backend kept failing during a
	// poll or a teardown. The affected blocks keep their last known status.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrBlockNotFound is returned by backends when a block no longer exists.
	ErrBlockNotFound = errors.New("block not found")
)

type CapacityError struct {
	Requested int
	Granted   int
	MaxBlocks int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity exceeded: %d of %d requested blocks refused (max-blocks is %d)", e.Unmet(), e.Requested, e.MaxBlocks)
}

func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacityExceeded
}

// Unmet is the number of blocks that were not provisioned.
func (e *CapacityError) Unmet() int {
	return e.Requested - e.Granted
}

// ProvisionError is returned when the backend did not accept a block after all retries.
type ProvisionError struct {
	Block string
	Err   error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("failed to provision block '%s': %v", e.Block, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}
