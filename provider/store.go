package provider

import (
	"fmt"

	"github.com/gammadia/blockpool/config"
	"github.com/gammadia/blockpool/state"
)

// OpenStore returns the store selected by the configuration.
func OpenStore(cfg config.Config) (state.Store, error) {
	switch cfg.StateBackend {
	case "file":
		return state.NewFileStore(cfg.StateFile), nil
	case "redis":
		store, err := state.NewRedisStore(cfg.RedisURL, cfg.RedisPrefix, cfg.Site)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store, nil
	default:
		return nil, &config.Error{Option: config.StateBackend, Reason: "must be one of file, redis"}
	}
}
