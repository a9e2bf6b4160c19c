package main

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gammadia/blockpool/lifecycle"
	"github.com/gammadia/blockpool/state"
	"github.com/gammadia/blockpool/status"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Show the blocks, polling them periodically",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		interval := lo.Must(cmd.Flags().GetDuration("interval"))
		if interval <= 0 {
			return fmt.Errorf("interval must be greater than 0")
		}

		app := tview.NewApplication()

		// Header
		header := tview.NewTextView().
			SetDynamicColors(true).
			SetWordWrap(true).
			SetTextAlign(tview.AlignLeft)
		header.SetBorder(true).SetTitle(" Blocks ")

		// Blocks table
		blocksTable := tview.NewTable().
			SetFixed(1, 0).
			SetSelectable(true, false)
		blocksTable.SetBorder(true)

		// Layout
		layout := tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(header, 4, 0, false).
			AddItem(blocksTable, 0, 1, true)

		app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
			if event.Rune() == 'q' {
				app.Stop()
				return nil
			}
			return event
		})

		// State for rendering, only accessed from tview's event loop (via QueueUpdateDraw)
		var blocks []state.Block
		var polledAt time.Time
		var pollErr error

		updateHeader := func() {
			header.Clear()

			fmt.Fprintf(header, " Site: [yellow]%s[white]  |  Provisioner: [yellow]%s[white]  |  Max Blocks: [yellow]%d[white]  |  Nodes per Block: [yellow]%d[white]\n",
				cfg.Site, cfg.Provisioner, cfg.MaxBlocks, cfg.Nodes)
			switch {
			case polledAt.IsZero():
				fmt.Fprint(header, " Polling...")
			case pollErr != nil:
				fmt.Fprintf(header, " Last poll: [red]%s ago, %v[white]", formatDuration(time.Since(polledAt)), pollErr)
			default:
				fmt.Fprintf(header, " Last poll: [green]%s ago[white]", formatDuration(time.Since(polledAt)))
			}
		}

		updateBlocks := func() {
			blocksTable.Clear()
			blocksTable.ScrollToBeginning()

			live := lo.CountBy(blocks, func(block state.Block) bool { return !block.Status.Terminal() })
			blocksTable.SetTitle(fmt.Sprintf(" Blocks: %d/%d ", live, cfg.MaxBlocks))

			// Header row
			for col, title := range []string{"ID", "NAME", "HANDLE", "STATUS", "NATIVE", "NODES", "AGE"} {
				blocksTable.SetCell(0, col, tview.NewTableCell(title).
					SetTextColor(tcell.ColorYellow).
					SetSelectable(false).
					SetExpansion(1))
			}

			now := time.Now()
			for row, block := range sortBlocks(blocks) {
				terminal := block.Status.Terminal()
				cells := []*tview.TableCell{
					tview.NewTableCell(block.ID).SetTextColor(lo.Ternary(terminal, tcell.ColorGray, tcell.ColorAqua)),
					tview.NewTableCell(block.Name).SetTextColor(tcell.ColorWhite),
					tview.NewTableCell(block.Handle).SetTextColor(tcell.ColorWhite),
					tview.NewTableCell(block.Status.String()).SetTextColor(statusColor(block.Status)),
					tview.NewTableCell(block.NativeStatus).SetTextColor(tcell.ColorGray),
					tview.NewTableCell(fmt.Sprint(block.Nodes)).SetTextColor(tcell.ColorWhite),
					tview.NewTableCell(formatDuration(now.Sub(block.CreatedAt))).SetTextColor(lo.Ternary(terminal, tcell.ColorGray, tcell.ColorWhite)),
				}
				for col, cell := range cells {
					blocksTable.SetCell(row+1, col, cell.SetExpansion(1))
				}
			}
		}

		// done is closed when the app stops, to signal goroutines to exit.
		done := make(chan struct{})

		// Poll the backend, then feed the blocks into tview's event loop
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				_, err := provider.Poll(cmd.Context())
				if err != nil && !errors.Is(err, lifecycle.ErrBackendUnavailable) {
					app.Stop()
					return
				}
				current, _ := provider.Blocks()
				app.QueueUpdateDraw(func() {
					blocks, polledAt, pollErr = current, time.Now(), err
					updateHeader()
					updateBlocks()
				})

				select {
				case <-done:
					return
				case <-cmd.Context().Done():
					app.Stop()
					return
				case <-ticker.C:
				}
			}
		}()

		// 1-second ticker to refresh ages
		go func() {
			ticker := time.NewTicker(1 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					app.QueueUpdateDraw(func() {
						updateHeader()
						updateBlocks()
					})
				}
			}
		}()

		updateHeader()
		updateBlocks()
		err := app.SetRoot(layout, true).Run()
		close(done)
		return err
	},
}

func init() {
	topCmd.Flags().Duration("interval", 10*time.Second, "how often the blocks are polled")
}

// sortBlocks orders blocks by status, then by creation time.
func sortBlocks(blocks []state.Block) []state.Block {
	sorted := slices.Clone(blocks)
	slices.SortStableFunc(sorted, func(a, b state.Block) int {
		if oa, ob := statusOrder(a.Status), statusOrder(b.Status); oa != ob {
			return oa - ob
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return sorted
}

func statusOrder(s status.Status) int {
	switch s {
	case status.Running:
		return 0
	case status.Pending:
		return 1
	case status.Failed, status.Timeout:
		return 2
	case status.Completed, status.Cancelled:
		return 3
	default:
		return 4
	}
}

func statusColor(s status.Status) tcell.Color {
	switch s {
	case status.Running:
		return tcell.ColorGreen
	case status.Pending:
		return tcell.ColorYellow
	case status.Completed, status.Cancelled:
		return tcell.ColorGray
	case status.Failed, status.Timeout:
		return tcell.ColorRed
	default:
		return tcell.ColorWhite
	}
}
