package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxod/internal/config"
)

func deepTree(t *testing.T) *Tree {
	t.Helper()
	tree := NewTree("Files")
	tree.FindOrCreate([]string{"A", "B", "C", "D"})
	_, err := tree.ReassignFile("f1", "/x", "x", []string{"A", "B", "C", "D"}, 0.5, SourceFilename)
	require.NoError(t, err)
	return tree
}

func TestDepthValidate(t *testing.T) {
	tree := deepTree(t)

	e := NewDepthEnforcer(config.DepthConfig{MaxDepth: 3, Mode: config.DepthStrict})
	assert.ErrorIs(t, e.Validate(tree), ErrDepthViolation)

	e = NewDepthEnforcer(config.DepthConfig{MaxDepth: 4, Mode: config.DepthStrict})
	assert.NoError(t, e.Validate(tree))
}

func TestDepthStrictFails(t *testing.T) {
	tree := deepTree(t)
	e := NewDepthEnforcer(config.DepthConfig{MaxDepth: 2, Mode: config.DepthStrict})
	_, err := e.Enforce(tree)
	assert.ErrorIs(t, err, ErrDepthViolation)
	// Strict mode never mutates.
	assert.Equal(t, 4, tree.MaxDepth())
}

func TestDepthAdvisoryLogsOnly(t *testing.T) {
	tree := deepTree(t)
	e := NewDepthEnforcer(config.DepthConfig{MaxDepth: 2, Mode: config.DepthAdvisory})
	removed, err := e.Enforce(tree)
	assert.NoError(t, err)
	assert.Zero(t, removed)
	assert.Equal(t, 4, tree.MaxDepth())
}

func TestDepthFlatten(t *testing.T) {
	tree := deepTree(t)
	before := tree.FileCount()

	e := NewDepthEnforcer(config.DepthConfig{MaxDepth: 2, Mode: config.DepthFlatten})
	removed, err := e.Enforce(tree)
	require.NoError(t, err)

	assert.Equal(t, 2, removed) // C and D collapsed upward
	assert.Equal(t, 2, tree.MaxDepth())
	// Flattening never drops files.
	assert.Equal(t, before, tree.FileCount())
	_, path, ok := tree.AssignmentOf("f1")
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, path)
}
