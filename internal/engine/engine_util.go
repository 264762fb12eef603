package engine

// Ranks each player starts with, in reservoir order.
var StartingRanks = []int{1, 2, 2, 3, 3, 4, 4, 4, 5, 5, 5}

func NewEmptyState() State {
	return State{
		Board:       Board{},
		Turn:        PlayerOne,
		PlayerCount: DefaultPlayerCount,
	}
}

// PieceSet returns the fixed piece pool: for each player every starting rank,
// with ids numbered from 1 across players.
func PieceSet(playerCount int) []Piece {
	pieces := make([]Piece, 0, playerCount*len(StartingRanks))
	id := 1
	for player := 1; player <= playerCount; player++ {
		for _, rank := range StartingRanks {
			pieces = append(pieces, Piece{ID: id, Rank: rank, Owner: player})
			id++
		}
	}
	return pieces
}

// Reservoir lists the pieces of player that are not on the board.
func Reservoir(pool []Piece, b Board, player int) []Piece {
	var out []Piece
	for _, p := range pool {
		if p.Owner != player {
			continue
		}
		if _, placed := b.Lookup(p.ID); placed {
			continue
		}
		out = append(out, p)
	}
	return out
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
