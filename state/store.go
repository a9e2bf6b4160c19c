package state

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Load when nothing has been persisted yet.
	// Callers start from a fresh state.
	ErrNotFound = errors.New("state not found")

	// ErrCorrupt is returned by Load when the persisted state cannot be parsed.
	// It must halt the provider: starting fresh could double-provision.
	ErrCorrupt = errors.New("state is corrupt")

	// ErrLocked is returned by Lock when another provider holds the state, and
	// by Save once the lock was lost.
	ErrLocked = errors.New("state is locked by another provider")
)

type Store interface {
	Load() (*ProviderState, error)
	Save(*ProviderState) error
	// Location describes where the state lives, for logs and error messages.
	Location() string

	// Lock claims the state for the caller until Unlock, so that no other
	// provider overwrites it with a stale copy.
	Lock() error
	Unlock() error
}

func decode(location string, data []byte) (*ProviderState, error) {
	var s ProviderState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: failed to parse '%s' (repair it or remove it once its blocks are accounted for): %w", ErrCorrupt, location, err)
	}
	if s.Version == 0 {
		s.Version = Version
	}
	return &s, nil
}

func encode(s *ProviderState) ([]byte, error) {
	if s == nil {
		return nil, errors.New("cannot save a nil state")
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return append(data, '\n'), nil
}
