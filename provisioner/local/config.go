package local

import (
	"log/slog"
)

type Config struct {
	// Logger to use
	Logger *slog.Logger
	// Image every node container runs
	Image string
	// Network the containers are attached to, the default bridge when empty
	Network string
}
