package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequentialIDGenerator(t *testing.T) {
	t.Run("ids are sequential", func(t *testing.T) {
		var g SequentialIDGenerator
		require.Equal(t, uint32(1), g.New())
		require.Equal(t, uint32(2), g.New())
		require.Equal(t, uint32(3), g.New())
	})

	t.Run("reused ids are served first", func(t *testing.T) {
		var g SequentialIDGenerator
		g.New()
		id := g.New()
		g.New()

		g.Reuse(id)
		require.Equal(t, id, g.New())
		require.Equal(t, uint32(4), g.New())
	})
}
