package main

import (
	"errors"

	"github.com/fatih/color"
	"github.com/gammadia/blockpool/lifecycle"
	providerpkg "github.com/gammadia/blockpool/provider"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status HANDLE...",
	Short: "Show the status of submitted blocks",
	Args:  cobra.MinimumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		var errs []error
		for _, handle := range args {
			s, err := provider.Status(cmd.Context(), providerpkg.Handle(handle))
			if err != nil && !errors.Is(err, lifecycle.ErrBackendUnavailable) {
				errs = append(errs, err)
				continue
			}
			if err != nil {
				cmd.PrintErrln(color.HiYellowString("Status of '%s' may be stale: %v", handle, err))
			}
			cmd.Printf("%s  %s\n", handle, colorStatus(s))
		}
		return errors.Join(errs...)
	},
}
