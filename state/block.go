package state

import (
	"encoding/json"
	"time"

	"github.com/gammadia/blockpool/status"
)

// Block is one unit of provisioned capacity, made of one or more nodes.
type Block struct {
	ID           string        `json:"id" yaml:"id"`
	Name         string        `json:"name" yaml:"name"`
	Handle       string        `json:"handle,omitempty" yaml:"handle"`
	Status       status.Status `json:"status" yaml:"status"`
	NativeStatus string        `json:"native_status,omitempty" yaml:"native_status"`
	Nodes        int           `json:"nodes" yaml:"nodes"`
	CreatedAt    time.Time     `json:"created_at" yaml:"created_at"`
	LastPolledAt time.Time     `json:"last_polled_at" yaml:"last_polled_at"`

	// Fields written by a newer version, kept so that we write them back.
	extra map[string]json.RawMessage
}

var blockFields = []string{"id", "name", "handle", "status", "native_status", "nodes", "created_at", "last_polled_at"}

func (b Block) MarshalJSON() ([]byte, error) {
	type plain Block
	data, err := json.Marshal(plain(b))
	if err != nil {
		return nil, err
	}
	return mergeExtra(data, b.extra)
}

func (b *Block) UnmarshalJSON(data []byte) error {
	type plain Block
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	extra, err := splitExtra(data, blockFields)
	if err != nil {
		return err
	}

	*b = Block(p)
	b.extra = extra
	return nil
}
