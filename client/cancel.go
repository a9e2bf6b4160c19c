package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	providerpkg "github.com/gammadia/blockpool/provider"
	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel HANDLE...",
	Short: "Tear down the blocks of submissions",
	Args:  cobra.MinimumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		var errs []error
		for _, handle := range args {
			if err := provider.Cancel(cmd.Context(), providerpkg.Handle(handle)); err != nil {
				errs = append(errs, fmt.Errorf("failed to cancel '%s': %w", handle, err))
				continue
			}
			cmd.PrintErrln(color.HiGreenString("Cancelled blocks of '%s'", handle))
		}
		return errors.Join(errs...)
	},
}
