package internal

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var provisionTests = map[int]struct {
	maxBlocks      int
	existingBlocks int
	requested      int
	expected       int
}{
	0: {0, 0, 1, 0},
	1: {1, 0, 1, 1},
	2: {2, 0, 3, 2},
	3: {2, 1, 3, 1},
	4: {2, 2, 1, 0},
	5: {5, 1, 2, 2},
	6: {5, 0, 0, 0},
	// More tracked than allowed, e.g. after adopting orphans
	7: {2, 4, 1, 0},
	8: {3, 0, -1, 0},
}

func TestBlocksToProvision(t *testing.T) {
	for index, tt := range provisionTests {
		t.Run(fmt.Sprintf("test-%d", index), func(t *testing.T) {
			assert.Equal(t, tt.expected, BlocksToProvision(tt.maxBlocks, tt.existingBlocks, tt.requested))
		})
	}
}

func TestBlocksToInit(t *testing.T) {
	assert.Equal(t, 0, BlocksToInit(0, 0))
	assert.Equal(t, 2, BlocksToInit(2, 0))
	assert.Equal(t, 1, BlocksToInit(2, 1))
	assert.Equal(t, 0, BlocksToInit(2, 2))
	assert.Equal(t, 0, BlocksToInit(2, 5))
}
