package hex

import "cmp"

// Coord is an axial hex coordinate. Row increases downwards, Col to the right.
type Coord struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

var Origin = Coord{}

// directions in axial form; every cell has exactly these six neighbors.
var directions = [6]Coord{
	{Row: 1, Col: 0},
	{Row: 0, Col: 1},
	{Row: -1, Col: 0},
	{Row: 0, Col: -1},
	{Row: 1, Col: -1},
	{Row: -1, Col: 1},
}

func (c Coord) Add(d Coord) Coord {
	return Coord{Row: c.Row + d.Row, Col: c.Col + d.Col}
}

func (c Coord) Neighbors() []Coord {
	out := make([]Coord, 0, len(directions))
	for _, d := range directions {
		out = append(out, c.Add(d))
	}
	return out
}

func Adjacent(a, b Coord) bool {
	for _, d := range directions {
		if a.Add(d) == b {
			return true
		}
	}
	return false
}

// Compare orders coordinates row first, then column.
func Compare(a, b Coord) int {
	if c := cmp.Compare(a.Row, b.Row); c != 0 {
		return c
	}
	return cmp.Compare(a.Col, b.Col)
}
