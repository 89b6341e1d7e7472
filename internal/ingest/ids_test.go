package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIDPrefixesAndLengths(t *testing.T) {
	g := NewIDGenerator()

	ds := g.DatasetID()
	assert.Equal(t, "1", ds[:1])
	assert.Len(t, ds, 10)

	col := g.CollectionID()
	assert.Equal(t, "2", col[:1])
	assert.Len(t, col, 10)

	data := g.DataID()
	assert.Equal(t, "3", data[:1])
	assert.Len(t, data, 12)

	vec := g.VectorID()
	assert.Equal(t, "4", vec[:1])
	assert.Len(t, vec, 12)
}

func TestDataIDsUniqueUnderBurst(t *testing.T) {
	g := NewIDGenerator()
	// Freeze the clock so every call lands in the same microsecond.
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fixed }

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := g.VectorID()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestDatasetCounterWraps(t *testing.T) {
	g := NewIDGenerator()
	first := g.DatasetID()
	second := g.DatasetID()
	assert.NotEqual(t, first, second)
}
