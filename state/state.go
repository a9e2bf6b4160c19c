package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"maps"
	"sort"

	"github.com/samber/lo"
)

// Version is the format version written by this release.
const Version = 1

// ProviderState is everything a provider instance knows it owns.
// It is the unit persisted by a Store.
type ProviderState struct {
	Version int              `json:"version"`
	Site    string           `json:"site"`
	Blocks  map[string]Block `json:"blocks"`

	extra map[string]json.RawMessage
}

var stateFields = []string{"version", "site", "blocks"}

func New(site string) *ProviderState {
	return &ProviderState{
		Version: Version,
		Site:    site,
		Blocks:  map[string]Block{},
	}
}

// Clone returns a copy that shares nothing mutable with s.
func (s *ProviderState) Clone() *ProviderState {
	clone := *s
	clone.Blocks = maps.Clone(s.Blocks)
	if clone.Blocks == nil {
		clone.Blocks = map[string]Block{}
	}
	clone.extra = maps.Clone(s.extra)
	return &clone
}

// Upsert returns a new state where block replaces any block with the same ID.
func Upsert(s *ProviderState, block Block) *ProviderState {
	next := s.Clone()
	next.Blocks[block.ID] = block
	return next
}

// Remove returns a new state without the block id. Removing an unknown id is not an error.
func Remove(s *ProviderState, id string) *ProviderState {
	next := s.Clone()
	delete(next.Blocks, id)
	return next
}

// Sorted returns the blocks ordered by creation time, then name.
func (s *ProviderState) Sorted() []Block {
	blocks := lo.Values(s.Blocks)
	sort.Slice(blocks, func(i, j int) bool {
		if !blocks[i].CreatedAt.Equal(blocks[j].CreatedAt) {
			return blocks[i].CreatedAt.Before(blocks[j].CreatedAt)
		}
		return blocks[i].Name < blocks[j].Name
	})
	return blocks
}

func (s ProviderState) MarshalJSON() ([]byte, error) {
	type plain ProviderState
	p := plain(s)
	if p.Blocks == nil {
		p.Blocks = map[string]Block{}
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return mergeExtra(data, s.extra)
}

func (s *ProviderState) UnmarshalJSON(data []byte) error {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}
	if members == nil {
		return errors.New("state is null")
	}
	if blocks, ok := members["blocks"]; !ok || bytes.Equal(bytes.TrimSpace(blocks), []byte("null")) {
		return errors.New("state has no 'blocks' member")
	}

	type plain ProviderState
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	extra, err := splitExtra(data, stateFields)
	if err != nil {
		return err
	}

	*s = ProviderState(p)
	s.extra = extra
	return nil
}
