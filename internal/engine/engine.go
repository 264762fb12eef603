package engine

import (
	"errors"
	"slices"

	"github.com/DoyleJ11/hive-online/internal/hex"
)

var ErrWrongTurn = errors.New("invalid turn")
var ErrUnknownPiece = errors.New("unknown piece")
var ErrCoveredPiece = errors.New("piece is covered")
var ErrIllegalDestination = errors.New("illegal destination")
var ErrUnsupportedCommand = errors.New("unsupported command")

const (
	PlayerOne = 1
	PlayerTwo = 2
)

// Ranks 1..5; the rank decides how a placed piece may move.
const (
	RankStep  = 1
	RankSlide = 2
	RankClimb = 3
	RankFour  = 4
	RankFive  = 5
)

type Piece struct {
	ID    int `json:"id"`
	Rank  int `json:"rank"`
	Owner int `json:"owner"`
}

// Placed is a piece on the board. Height 0 is the bottom of a stack.
type Placed struct {
	Piece
	hex.Coord
	Height int `json:"height"`
}

type State struct {
	Board       Board
	Turn        int
	PlayerCount int
}

type CommandType string

const (
	CmdPlace   CommandType = "Place"
	CmdRestart CommandType = "Restart"
)

type Command struct {
	Type  CommandType
	Piece Piece
	To    hex.Coord
}

type EventType string

const (
	EvtPiecePlaced  EventType = "PiecePlaced"
	EvtTurnAdvanced EventType = "TurnAdvanced"
	EvtBoardCleared EventType = "BoardCleared"
)

type Event struct {
	Type   EventType
	Placed Placed
	Turn   int
}

// Apply validates cmd against s and returns the resulting state. The input
// state is never modified.
func Apply(s State, cmd Command) ([]Event, State, error) {
	switch cmd.Type {
	case CmdPlace:
		if cmd.Piece.ID <= 0 {
			return nil, s, ErrUnknownPiece
		}
		if cmd.Piece.Owner != s.Turn {
			return nil, s, ErrWrongTurn
		}
		if p, ok := s.Board.Lookup(cmd.Piece.ID); ok && !s.Board.IsTopmost(p) {
			return nil, s, ErrCoveredPiece
		}
		if !slices.Contains(LegalDestinations(s.Board, s.Turn, cmd.Piece), cmd.To) {
			return nil, s, ErrIllegalDestination
		}

		newState := s
		newState.Board = s.Board.Place(cmd.Piece, cmd.To)
		newState.Turn = NextTurn(s.Turn, s.players())
		placed, _ := newState.Board.Lookup(cmd.Piece.ID)

		events := []Event{
			{Type: EvtPiecePlaced, Placed: placed},
			{Type: EvtTurnAdvanced, Turn: newState.Turn},
		}
		return events, newState, nil

	case CmdRestart:
		newState := s
		newState.Board = s.Board.Clear()
		return []Event{{Type: EvtBoardCleared}}, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func (s State) players() int {
	if s.PlayerCount <= 0 {
		return DefaultPlayerCount
	}
	return s.PlayerCount
}
