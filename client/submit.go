package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/gammadia/blockpool/client/ui"
	"github.com/gammadia/blockpool/lifecycle"
	providerpkg "github.com/gammadia/blockpool/provider"
	"github.com/gammadia/blockpool/status"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit [BLOCKS]",
	Short: "Request blocks and print their handle",
	Args:  cobra.MaximumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		blocks := 1
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid number of blocks '%s'", args[0])
			}
			blocks = n
		}

		spinner := ui.NewSpinner(fmt.Sprintf("Submitting %d block(s) to %s", blocks, cfg.Provisioner))
		handle, err := provider.Submit(cmd.Context(), blocks)
		switch {
		case handle != "" && errors.Is(err, lifecycle.ErrCapacityExceeded):
			spinner.Warn(fmt.Sprintf("Submitted part of the blocks: %v", err))
		case err != nil:
			spinner.Fail(fmt.Sprintf("Failed to submit blocks: %v", err))
			return err
		default:
			spinner.Success(fmt.Sprintf("Submitted %d block(s)", blocks))
		}
		cmd.Println(handle)

		if !lo.Must(cmd.Flags().GetBool("wait")) {
			return nil
		}
		return waitRunning(cmd, handle, lo.Must(cmd.Flags().GetDuration("wait-interval")))
	},
}

func init() {
	submitCmd.Flags().BoolP("wait", "w", false, "wait until the blocks leave the PENDING status")
	submitCmd.Flags().Duration("wait-interval", 5*time.Second, "how often the status is checked while waiting")
}

// waitRunning polls the status of handle until it is no longer PENDING.
func waitRunning(cmd *cobra.Command, handle providerpkg.Handle, interval time.Duration) error {
	spinner := ui.NewSpinner(fmt.Sprintf("Waiting for %s", handle))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s, err := provider.Status(cmd.Context(), handle)
		// The status may be known even when a poll failed
		switch {
		case s == status.Running:
			spinner.Success(fmt.Sprintf("Blocks of %s are running", handle))
			return nil
		case s.Terminal():
			spinner.Fail(fmt.Sprintf("Blocks of %s ended with status %s", handle, s))
			return fmt.Errorf("blocks ended with status %s", s)
		case errors.Is(err, lifecycle.ErrBackendUnavailable):
			spinner.UpdateMessage(fmt.Sprintf("Waiting for %s (backend unavailable)", handle))
		case err != nil:
			spinner.Fail()
			return err
		default:
			spinner.UpdateMessage(fmt.Sprintf("Waiting for %s (%s)", handle, color.HiYellowString(s.String())))
		}

		select {
		case <-cmd.Context().Done():
			spinner.Warn("Interrupted")
			return cmd.Context().Err()
		case <-ticker.C:
		}
	}
}
