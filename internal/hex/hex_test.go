package hex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeighbors_SixDistinctAdjacentCells(t *testing.T) {
	c := Coord{Row: 2, Col: -1}
	ns := c.Neighbors()
	require.Len(t, ns, 6)

	seen := map[Coord]bool{}
	for _, n := range ns {
		assert.NotEqual(t, c, n)
		assert.True(t, Adjacent(c, n), "%v should be adjacent to %v", n, c)
		assert.True(t, Adjacent(n, c), "adjacency must be symmetric")
		seen[n] = true
	}
	assert.Len(t, seen, 6)
}

func TestAdjacent(t *testing.T) {
	cases := []struct {
		name string
		a, b Coord
		want bool
	}{
		{"same cell", Origin, Origin, false},
		{"down", Origin, Coord{1, 0}, true},
		{"up-right diagonal", Origin, Coord{-1, 1}, true},
		{"down-left diagonal", Origin, Coord{1, -1}, true},
		{"non-axial diagonal", Origin, Coord{1, 1}, false},
		{"two away", Origin, Coord{0, 2}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Adjacent(tc.a, tc.b))
		})
	}
}

func TestCompare(t *testing.T) {
	assert.Negative(t, Compare(Coord{0, 5}, Coord{1, 0}))
	assert.Positive(t, Compare(Coord{1, 1}, Coord{1, 0}))
	assert.Zero(t, Compare(Coord{3, 3}, Coord{3, 3}))
}
