package main

import (
	"fmt"

	"github.com/gammadia/blockpool/config"
	providerpkg "github.com/gammadia/blockpool/provider"
	"github.com/gammadia/blockpool/provisioner"
	"github.com/gammadia/blockpool/server/log"
)

var provider *providerpkg.Provider

func createProvider(cfg config.Config) error {
	backend, err := provisioner.New(cfg, log.Base)
	if err != nil {
		return fmt.Errorf("unable to create provisioner '%s': %w", cfg.Provisioner, err)
	}

	store, err := providerpkg.OpenStore(cfg)
	if err != nil {
		return fmt.Errorf("unable to open state store: %w", err)
	}

	provider, err = providerpkg.New(cfg, backend, store, log.Base)
	if err != nil {
		return fmt.Errorf("unable to load state: %w", err)
	}
	return nil
}
