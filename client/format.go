package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	providerpkg "github.com/gammadia/blockpool/provider"
	"github.com/gammadia/blockpool/state"
	"github.com/gammadia/blockpool/status"
	"github.com/rivo/uniseg"
	"github.com/samber/lo"
)

func colorStatus(s status.Status) string {
	switch s {
	case status.Pending:
		return color.HiYellowString(s.String())
	case status.Running:
		return color.HiGreenString(s.String())
	case status.Completed:
		return color.HiCyanString(s.String())
	case status.Cancelled:
		return color.HiBlackString(s.String())
	case status.Failed, status.Timeout:
		return color.HiRedString(s.String())
	default:
		return s.String()
	}
}

// pad right-pads s to width terminal cells.
func pad(s string, width int) string {
	return s + strings.Repeat(" ", max(0, width-uniseg.StringWidth(s)))
}

// table writes rows as aligned columns. The status column, if any, is
// colored once padded.
func table(w io.Writer, headers []string, rows [][]string, statusColumn int) {
	widths := lo.Map(headers, func(header string, col int) int {
		return lo.Max(append(lo.Map(rows, func(row []string, _ int) int {
			return uniseg.StringWidth(row[col])
		}), uniseg.StringWidth(header)))
	})

	fmt.Fprintln(w, strings.TrimRight(strings.Join(lo.Map(headers, func(header string, col int) string {
		return pad(header, widths[col])
	}), "  "), " "))

	for _, row := range rows {
		cells := lo.Map(row, func(cell string, col int) string {
			padded := pad(cell, widths[col])
			if col == statusColumn {
				return strings.Replace(padded, cell, colorStatus(status.Status(cell)), 1)
			}
			return padded
		})
		fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
}

func writeBlocks(w io.Writer, blocks []state.Block, now time.Time) {
	table(w, []string{"ID", "NAME", "HANDLE", "STATUS", "NODES", "AGE"}, lo.Map(blocks, func(block state.Block, _ int) []string {
		return []string{
			block.ID,
			block.Name,
			lo.Ternary(block.Handle != "", block.Handle, "-"),
			block.Status.String(),
			fmt.Sprint(block.Nodes),
			formatDuration(now.Sub(block.CreatedAt)),
		}
	}), 3)
}

func writeSubmissions(w io.Writer, submissions []providerpkg.Submission) {
	table(w, []string{"HANDLE", "STATUS", "BLOCKS"}, lo.Map(submissions, func(submission providerpkg.Submission, _ int) []string {
		return []string{
			lo.Ternary(submission.Handle != "", submission.Handle.String(), "-"),
			submission.Status.String(),
			strings.Join(lo.Map(submission.Blocks, func(block state.Block, _ int) string {
				return block.ID
			}), " "),
		}
	}), 1)
}

func formatDuration(d time.Duration) string {
	d = max(0, d.Truncate(time.Second))
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
