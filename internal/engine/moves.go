package engine

import (
	"slices"

	"github.com/DoyleJ11/hive-online/internal/hex"
)

// Target is a legal destination together with the height the piece lands at.
type Target struct {
	hex.Coord
	Height int `json:"height"`
}

// LegalDestinations returns the cells p may move to when turnOwner is to play.
// Only topmost pieces take part in adjacency and occupancy checks. The result is
// sorted and free of duplicates; an empty result means no move is offered.
func LegalDestinations(b Board, turnOwner int, p Piece) []hex.Coord {
	if p.ID <= 0 || p.Owner != turnOwner {
		return nil
	}

	placed, onBoard := b.Lookup(p.ID)
	if onBoard && !b.IsTopmost(placed) {
		return nil
	}

	if b.Empty() {
		return []hex.Coord{hex.Origin}
	}

	visible := b.TopPieces()
	free := func(c hex.Coord) bool { return !b.Occupied(c) }

	if !hasPresence(visible, p.Owner) {
		return collect(around(visible), free)
	}

	if onBoard {
		switch p.Rank {
		case RankStep:
			return collect(placed.Coord.Neighbors(), free)
		case RankClimb:
			return collect(placed.Coord.Neighbors(), nil)
		}
		// TODO: ranks 2, 4 and 5 slide to any open perimeter cell without a
		// connectivity check; replace once per-rank paths are specified.
		return collect(around(visible), free)
	}

	var own, others []Placed
	for _, s := range visible {
		if s.Owner == p.Owner {
			own = append(own, s)
		} else {
			others = append(others, s)
		}
	}
	contested := map[hex.Coord]bool{}
	for _, c := range around(others) {
		contested[c] = true
	}
	return collect(around(own), func(c hex.Coord) bool {
		return free(c) && !contested[c]
	})
}

// Targets pairs each legal destination with its landing height.
func Targets(b Board, turnOwner int, p Piece) []Target {
	dests := LegalDestinations(b, turnOwner, p)
	out := make([]Target, 0, len(dests))
	for _, c := range dests {
		out = append(out, Target{Coord: c, Height: b.StackHeight(c)})
	}
	return out
}

func hasPresence(visible []Placed, owner int) bool {
	return slices.ContainsFunc(visible, func(s Placed) bool { return s.Owner == owner })
}

func around(stones []Placed) []hex.Coord {
	var out []hex.Coord
	for _, s := range stones {
		out = append(out, s.Coord.Neighbors()...)
	}
	return out
}

func collect(cells []hex.Coord, keep func(hex.Coord) bool) []hex.Coord {
	seen := map[hex.Coord]bool{}
	out := []hex.Coord{}
	for _, c := range cells {
		if seen[c] || (keep != nil && !keep(c)) {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	slices.SortFunc(out, hex.Compare)
	return out
}
