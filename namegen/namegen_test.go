package namegen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlock(t *testing.T) {
	name := Block("prod")

	assert.True(t, strings.HasPrefix(name, "prod-"), name)
	assert.Greater(t, len(name), len("prod-"))
}

func TestBlockWithoutSite(t *testing.T) {
	name := Block("")

	assert.NotEmpty(t, name)
	assert.False(t, strings.HasPrefix(name, "-"), name)
}
