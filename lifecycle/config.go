package lifecycle

import (
	"log/slog"
	"time"

	"github.com/gammadia/blockpool/bootstrap"
	"github.com/gammadia/blockpool/lifecycle/internal"
)

type Config struct {
	Logger *slog.Logger `json:"-"`
	Site   string       `json:"site"`

	MaxBlocks    int           `json:"max-blocks"`
	Nodes        int           `json:"nodes"`
	TaskBlocks   string        `json:"task-blocks"`
	Walltime     time.Duration `json:"walltime"`
	InstanceType string        `json:"instance-type"`
	Region       string        `json:"region"`

	// OperationTimeout bounds every backend operation, retries included.
	OperationTimeout time.Duration `json:"operation-timeout"`
	RetryAttempts    int           `json:"retry-attempts"`
	RetryDelay       time.Duration `json:"retry-delay"`

	Bootstrap *bootstrap.Template `json:"-"`
	Script    string              `json:"script"`

	Clock func() time.Time `json:"-"`
}

func (c Config) retryPolicy() internal.Policy {
	policy := internal.DefaultPolicy
	if c.RetryAttempts > 0 {
		policy.MaxAttempts = c.RetryAttempts
	}
	if c.RetryDelay > 0 {
		policy.Delay = c.RetryDelay
	}
	return policy
}
