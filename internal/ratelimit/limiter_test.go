package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionLimiterAllowsUpToBurstThenBlocks(t *testing.T) {
	l := NewConnectionLimiter(3)
	addr := "203.0.113.1:5555"
	assert.True(t, l.Allow(addr))
	assert.True(t, l.Allow(addr))
	assert.True(t, l.Allow(addr))
	assert.False(t, l.Allow(addr))
}

func TestConnectionLimiterIsolatesAddresses(t *testing.T) {
	l := NewConnectionLimiter(1)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestConnectionEventsDualTier(t *testing.T) {
	e := NewConnectionEvents()
	for i := 0; i < DefaultDocumentEventsPerSecond; i++ {
		assert.True(t, e.Allow(ClassDocument))
	}
	assert.False(t, e.Allow(ClassDocument))

	// The general tier is independent of the document tier's exhaustion.
	assert.True(t, e.Allow(ClassGeneral))
}
