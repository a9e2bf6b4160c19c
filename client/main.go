package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/gammadia/blockpool/config"
	providerpkg "github.com/gammadia/blockpool/provider"
	"github.com/gammadia/blockpool/provisioner"
	"github.com/gammadia/blockpool/server/log"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

var cfg config.Config
var provider *providerpkg.Provider

var verbose bool

var blocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "Blocks provisions and tracks blocks of compute nodes.",

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if err != nil {
				err = fmt.Errorf("failed to create provider: %w", err)
			}
		}()

		v := config.Bind(cmd.Flags())
		if file := lo.Must(cmd.Flags().GetString("config")); file != "" {
			v.SetConfigFile(file)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}

		if cfg, err = config.Load(v); err != nil {
			return err
		}

		logger, err := log.New(cmd.ErrOrStderr(), "text", lo.Ternary(verbose, "DEBUG", "WARN"), false)
		if err != nil {
			return err
		}

		backend, err := provisioner.New(cfg, logger)
		if err != nil {
			return fmt.Errorf("unable to create provisioner '%s': %w", cfg.Provisioner, err)
		}

		store, err := providerpkg.OpenStore(cfg)
		if err != nil {
			return fmt.Errorf("unable to open state store: %w", err)
		}

		provider, err = providerpkg.New(cfg, backend, store, logger)
		return err
	},
}

func init() {
	blocksCmd.AddCommand(cancelCmd)
	blocksCmd.AddCommand(completionCmd)
	blocksCmd.AddCommand(initCmd)
	blocksCmd.AddCommand(pollCmd)
	blocksCmd.AddCommand(psCmd)
	blocksCmd.AddCommand(reapCmd)
	blocksCmd.AddCommand(statusCmd)
	blocksCmd.AddCommand(submitCmd)
	blocksCmd.AddCommand(topCmd)
	blocksCmd.AddCommand(versionCmd)

	blocksCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	blocksCmd.PersistentFlags().String("config", "", "yaml file holding the options, overridden by flags and environment")
	config.AddFlags(blocksCmd.PersistentFlags())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	blocksCmd.SetOut(os.Stdout)
	err := blocksCmd.ExecuteContext(ctx)
	// Failed commands skip the post-run hooks, so the lock is released here
	if provider != nil {
		err = errors.Join(err, provider.Close())
	}
	if err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, color.HiRedString(fmt.Sprint(err))))
		os.Exit(1)
	}
}
