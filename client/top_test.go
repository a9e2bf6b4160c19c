package main

import (
	"testing"
	"time"

	"github.com/gammadia/blockpool/state"
	"github.com/gammadia/blockpool/status"
	"github.com/gdamore/tcell/v2"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
)

// --- statusColor ---

func TestStatusColor_Running(t *testing.T) {
	assert.Equal(t, tcell.ColorGreen, statusColor(status.Running))
}

func TestStatusColor_Pending(t *testing.T) {
	assert.Equal(t, tcell.ColorYellow, statusColor(status.Pending))
}

func TestStatusColor_Ended(t *testing.T) {
	assert.Equal(t, tcell.ColorGray, statusColor(status.Completed))
	assert.Equal(t, tcell.ColorGray, statusColor(status.Cancelled))
}

func TestStatusColor_Failed(t *testing.T) {
	assert.Equal(t, tcell.ColorRed, statusColor(status.Failed))
	assert.Equal(t, tcell.ColorRed, statusColor(status.Timeout))
}

func TestStatusColor_Unknown(t *testing.T) {
	assert.Equal(t, tcell.ColorWhite, statusColor(status.Status("BOGUS")))
}

// --- sortBlocks ---

func TestSortBlocks(t *testing.T) {
	now := time.Now()
	blocks := []state.Block{
		{ID: "done", Status: status.Completed, CreatedAt: now},
		{ID: "pending", Status: status.Pending, CreatedAt: now},
		{ID: "running-new", Status: status.Running, CreatedAt: now},
		{ID: "running-old", Status: status.Running, CreatedAt: now.Add(-time.Hour)},
		{ID: "failed", Status: status.Failed, CreatedAt: now},
	}

	sorted := sortBlocks(blocks)

	assert.Equal(t, []string{"running-old", "running-new", "pending", "failed", "done"}, lo.Map(sorted, func(block state.Block, _ int) string {
		return block.ID
	}))
	assert.Equal(t, "done", blocks[0].ID, "input must not be reordered")
}

// --- formatDuration ---

func TestFormatDuration_Seconds(t *testing.T) {
	assert.Equal(t, "0s", formatDuration(0))
	assert.Equal(t, "5s", formatDuration(5*time.Second))
	assert.Equal(t, "59s", formatDuration(59*time.Second))
}

func TestFormatDuration_Minutes(t *testing.T) {
	assert.Equal(t, "1m 00s", formatDuration(1*time.Minute))
	assert.Equal(t, "5m 30s", formatDuration(5*time.Minute+30*time.Second))
	assert.Equal(t, "59m 59s", formatDuration(59*time.Minute+59*time.Second))
}

func TestFormatDuration_Hours(t *testing.T) {
	assert.Equal(t, "1h 00m 00s", formatDuration(1*time.Hour))
	assert.Equal(t, "2h 15m 03s", formatDuration(2*time.Hour+15*time.Minute+3*time.Second))
}

func TestFormatDuration_TruncatesMilliseconds(t *testing.T) {
	assert.Equal(t, "5s", formatDuration(5*time.Second+500*time.Millisecond))
}

func TestFormatDuration_Negative(t *testing.T) {
	assert.Equal(t, "0s", formatDuration(-time.Minute))
}
