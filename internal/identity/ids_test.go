package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_PrefixAndShape(t *testing.T) {
	id := New(PrefixTrace)
	assert.True(t, strings.HasPrefix(id, "trc_"))

	hexPart := strings.TrimPrefix(id, "trc_")
	assert.Len(t, hexPart, 32) // 16 bytes, hex-encoded, no separators
	assert.NotContains(t, hexPart, "-")
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New(PrefixEvent)
		assert.False(t, seen[id], "collision detected")
		seen[id] = true
	}
}
