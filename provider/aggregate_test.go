package provider

import (
	"testing"

	"github.com/gammadia/blockpool/state"
	"github.com/gammadia/blockpool/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	tests := map[string]struct {
		statuses []status.Status
		expected status.Status
	}{
		"empty":                     {nil, status.Pending},
		"any running":               {[]status.Status{status.Failed, status.Running, status.Pending}, status.Running},
		"pending before terminal":   {[]status.Status{status.Completed, status.Pending}, status.Pending},
		"all completed":             {[]status.Status{status.Completed, status.Completed}, status.Completed},
		"failure is most severe":    {[]status.Status{status.Completed, status.Failed, status.Timeout}, status.Failed},
		"timeout before cancelled":  {[]status.Status{status.Cancelled, status.Timeout}, status.Timeout},
		"cancelled before complete": {[]status.Status{status.Completed, status.Cancelled}, status.Cancelled},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expected, Aggregate(test.statuses))
		})
	}
}

func TestGroup(t *testing.T) {
	submissions := Group([]state.Block{
		{ID: "1", Handle: "a", Status: status.Running},
		{ID: "2", Handle: "b", Status: status.Completed},
		{ID: "3", Handle: "a", Status: status.Pending},
		{ID: "4", Status: status.Pending},
	})

	require.Len(t, submissions, 3)
	assert.Equal(t, Handle("a"), submissions[0].Handle)
	assert.Equal(t, status.Running, submissions[0].Status)
	assert.Len(t, submissions[0].Blocks, 2)
	assert.Equal(t, status.Completed, submissions[1].Status)
	assert.Equal(t, Handle(""), submissions[2].Handle)
}
