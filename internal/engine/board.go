package engine

import (
	"slices"

	"github.com/DoyleJ11/hive-online/internal/hex"
)

// Board is an immutable collection of placed pieces, kept sorted by id.
// Every mutating method returns a new Board.
type Board struct {
	stones []Placed
}

func NewBoard(stones ...Placed) Board {
	s := slices.Clone(stones)
	slices.SortFunc(s, func(a, b Placed) int { return a.ID - b.ID })
	return Board{stones: s}
}

func (b Board) Stones() []Placed { return slices.Clone(b.stones) }

func (b Board) Len() int { return len(b.stones) }

func (b Board) Empty() bool { return len(b.stones) == 0 }

func (b Board) Lookup(id int) (Placed, bool) {
	for _, s := range b.stones {
		if s.ID == id {
			return s, true
		}
	}
	return Placed{}, false
}

// StackHeight is the number of pieces at c, which is also the height the next
// piece placed there will get.
func (b Board) StackHeight(c hex.Coord) int {
	n := 0
	for _, s := range b.stones {
		if s.Coord == c {
			n++
		}
	}
	return n
}

func (b Board) Occupied(c hex.Coord) bool {
	_, ok := b.Topmost(c)
	return ok
}

// Topmost returns the piece with the greatest height at c.
func (b Board) Topmost(c hex.Coord) (Placed, bool) {
	var top Placed
	found := false
	for _, s := range b.stones {
		if s.Coord != c {
			continue
		}
		if !found || s.Height > top.Height {
			top = s
			found = true
		}
	}
	return top, found
}

func (b Board) IsTopmost(p Placed) bool {
	for _, s := range b.stones {
		if s.ID != p.ID && s.Coord == p.Coord && s.Height > p.Height {
			return false
		}
	}
	return true
}

// TopPieces returns only the visible pieces; covered pieces are skipped.
func (b Board) TopPieces() []Placed {
	var out []Placed
	for _, s := range b.stones {
		if b.IsTopmost(s) {
			out = append(out, s)
		}
	}
	return out
}

// Place moves p to c, removing any previous placement of the same id first.
func (b Board) Place(p Piece, c hex.Coord) Board {
	next := make([]Placed, 0, len(b.stones)+1)
	for _, s := range b.stones {
		if s.ID != p.ID {
			next = append(next, s)
		}
	}
	height := Board{stones: next}.StackHeight(c)
	next = append(next, Placed{Piece: p, Coord: c, Height: height})
	return NewBoard(next...)
}

func (b Board) Clear() Board { return Board{} }
