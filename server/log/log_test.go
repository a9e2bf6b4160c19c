package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buffer bytes.Buffer
	logger, err := New(&buffer, "json", "warn", false)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("Block timed out", "block", "prod-a")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &record))
	assert.Equal(t, "Block timed out", record["msg"])
	assert.Equal(t, "prod-a", record["block"])
}

func TestNewText(t *testing.T) {
	var buffer bytes.Buffer
	logger, err := New(&buffer, "text", "DEBUG", false)
	require.NoError(t, err)

	logger.Debug("Polled blocks", "count", 2)
	assert.Contains(t, buffer.String(), "count=2")
}

func TestNewErrors(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "xml", "INFO", false)
	assert.ErrorContains(t, err, "unknown log format 'xml'")

	_, err = New(&bytes.Buffer{}, "json", "LOUD", false)
	assert.ErrorContains(t, err, "failed to parse log level")
}
