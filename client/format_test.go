package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	providerpkg "github.com/gammadia/blockpool/provider"
	"github.com/gammadia/blockpool/state"
	"github.com/gammadia/blockpool/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withoutColor(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = noColor })
}

func TestPad(t *testing.T) {
	assert.Equal(t, "ab  ", pad("ab", 4))
	assert.Equal(t, "abcd", pad("abcd", 2))
	assert.Equal(t, "日本 ", pad("日本", 5))
}

func TestWriteBlocks(t *testing.T) {
	withoutColor(t)
	now := time.Now()

	var out bytes.Buffer
	writeBlocks(&out, []state.Block{
		{ID: "0", Name: "site-0", Handle: "h1", Status: status.Running, Nodes: 2, CreatedAt: now.Add(-90 * time.Second)},
		{ID: "10", Name: "site-10", Status: status.Pending, Nodes: 1, CreatedAt: now},
	}, now)

	assert.Equal(t, ""+
		"ID  NAME     HANDLE  STATUS   NODES  AGE\n"+
		"0   site-0   h1      RUNNING  2      1m 30s\n"+
		"10  site-10  -       PENDING  1      0s\n",
		out.String())
}

func TestWriteBlocksEmpty(t *testing.T) {
	withoutColor(t)

	var out bytes.Buffer
	writeBlocks(&out, nil, time.Now())

	assert.Equal(t, "ID  NAME  HANDLE  STATUS  NODES  AGE\n", out.String())
}

func TestWriteSubmissions(t *testing.T) {
	withoutColor(t)

	var out bytes.Buffer
	writeSubmissions(&out, []providerpkg.Submission{
		{Handle: "h1", Status: status.Running, Blocks: []state.Block{{ID: "0"}, {ID: "1"}}},
		{Handle: "", Status: status.Completed, Blocks: []state.Block{{ID: "2"}}},
	})

	assert.Equal(t, ""+
		"HANDLE  STATUS     BLOCKS\n"+
		"h1      RUNNING    0 1\n"+
		"-       COMPLETED  2\n",
		out.String())
}

func TestColorStatus(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = false
	t.Cleanup(func() { color.NoColor = noColor })

	colored := colorStatus(status.Failed)
	require.NotEqual(t, "FAILED", colored)
	assert.Contains(t, colored, "FAILED")
	assert.Equal(t, "BOGUS", colorStatus(status.Status("BOGUS")))
}

func TestWriteYAML(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeYAML(&out, []providerpkg.Submission{
		{Handle: "h1", Status: status.Pending, Blocks: []state.Block{}},
	}))

	assert.Equal(t, ""+
		"- handle: h1\n"+
		"  status: PENDING\n"+
		"  blocks: []\n",
		out.String())
}
