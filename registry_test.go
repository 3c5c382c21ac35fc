package skycache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookup(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLayers()...)
	layer, ok := r.Layer("stars")
	require.True(t, ok)
	assert.Equal(t, "Star catalog", layer.DisplayName)

	_, ok = r.Layer("nope")
	assert.False(t, ok)
}

func TestRegistryDeclarationOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLayers()...)
	layers := r.Layers()
	require.Len(t, layers, 2)
	assert.Equal(t, "stars", layers[0].ID)
	assert.Equal(t, "engine", layers[1].ID)
}

func TestRegistryByPriority(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLayers()...)
	layers := r.ByPriority()
	require.Len(t, layers, 2)
	assert.Equal(t, "engine", layers[0].ID)
	assert.Equal(t, "stars", layers[1].ID)
}

func TestRegistryDuplicateIDReplaces(t *testing.T) {
	t.Parallel()

	r := NewRegistry(
		LayerDescriptor{ID: "stars", DisplayName: "first"},
		LayerDescriptor{ID: "stars", DisplayName: "second"},
	)
	layer, ok := r.Layer("stars")
	require.True(t, ok)
	assert.Equal(t, "second", layer.DisplayName)
	assert.Len(t, r.Layers(), 1)
}

func TestDefaultLayers(t *testing.T) {
	t.Parallel()

	layers := DefaultLayers()
	require.NotEmpty(t, layers)

	seen := make(map[string]struct{}, len(layers))
	for _, l := range layers {
		assert.NotEmpty(t, l.ID)
		assert.NotEmpty(t, l.BaseURL)
		assert.NotEmpty(t, l.Files)
		assert.Positive(t, l.EstimatedSizeBytes)
		_, dup := seen[l.ID]
		assert.False(t, dup, "duplicate layer id %s", l.ID)
		seen[l.ID] = struct{}{}
	}

	// The engine itself is the most essential layer.
	byPriority := NewRegistry(layers...).ByPriority()
	assert.Equal(t, "engine-core", byPriority[0].ID)
}
