package main

import (
	"errors"
	"fmt"
	"slices"

	"github.com/fatih/color"
	"github.com/gammadia/blockpool/client/ui"
	"github.com/gammadia/blockpool/lifecycle"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Adopt leftover blocks and provision the initial blocks",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		spinner := ui.NewSpinner(fmt.Sprintf("Reconciling state with %s", cfg.Provisioner))
		handle, err := provider.Init(cmd.Context())
		switch {
		case handle != "" && errors.Is(err, lifecycle.ErrCapacityExceeded):
			spinner.Warn(fmt.Sprintf("Initial blocks partially provisioned: %v", err))
		case err != nil:
			spinner.Fail()
			return err
		case handle == "":
			spinner.Success("No initial blocks needed")
			return nil
		default:
			spinner.Success("Initial blocks provisioned")
		}
		cmd.Println(handle)
		return nil
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Refresh the status of every live block",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		statuses, err := provider.Poll(cmd.Context())
		if err != nil && !errors.Is(err, lifecycle.ErrBackendUnavailable) {
			return err
		}
		if err != nil {
			cmd.PrintErrln(color.HiYellowString("Some statuses may be stale: %v", err))
		}

		ids := lo.Keys(statuses)
		slices.Sort(ids)
		for _, id := range ids {
			cmd.Printf("%s  %s\n", id, colorStatus(statuses[id]))
		}
		return nil
	},
}

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Forget the blocks that ended and are gone from the backend",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		reaped, err := provider.Reap(cmd.Context())
		for _, id := range reaped {
			cmd.Println(id)
		}
		if err != nil {
			return err
		}
		cmd.PrintErrln(color.HiGreenString("Reaped %d block(s)", len(reaped)))
		return nil
	},
}
