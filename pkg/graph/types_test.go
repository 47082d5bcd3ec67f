package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsCustomDistinguishesNamedFromCustomEdgeTypes(t *testing.T) {
	require.False(t, EdgeTypeRelatesTo.IsCustom())
	require.False(t, EdgeTypeDependsOn.IsCustom())
	require.True(t, EdgeType("SupersededBy").IsCustom())
	require.True(t, EdgeType("").IsCustom())
}
