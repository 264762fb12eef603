package types

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DoyleJ11/hive-online/internal/engine"
)

var ErrOutOfRange = errors.New("value out of range")

// Field names of the shared game payload held by the relay.
const (
	FieldStones = "stones"
	FieldTurn   = "turn"
)

// GameState is the shared payload every participant merges into the relay.
type GameState struct {
	Stones []engine.Placed `json:"stones"`
	Turn   int             `json:"turn"`
}

// Patch is a decoded partial update; nil fields were absent.
type Patch struct {
	Stones *[]engine.Placed
	Turn   *int
}

func (p Patch) Empty() bool { return p.Stones == nil && p.Turn == nil }

// Fields encodes the whole state as relay state fields.
func (g GameState) Fields() (map[string]json.RawMessage, error) {
	stones := g.Stones
	if stones == nil {
		stones = []engine.Placed{}
	}
	s, err := json.Marshal(stones)
	if err != nil {
		return nil, err
	}
	t, err := json.Marshal(g.Turn)
	if err != nil {
		return nil, err
	}
	return map[string]json.RawMessage{FieldStones: s, FieldTurn: t}, nil
}

// StonesOnly encodes an update carrying only the stones field.
func StonesOnly(stones []engine.Placed) (map[string]json.RawMessage, error) {
	if stones == nil {
		stones = []engine.Placed{}
	}
	s, err := json.Marshal(stones)
	if err != nil {
		return nil, err
	}
	return map[string]json.RawMessage{FieldStones: s}, nil
}

// DecodePatch reads the known fields from an untyped relay state. Unknown
// fields are ignored; a known field that does not decode, a turn outside
// 1..playerCount, or a stone that no player of the game could own is an error.
func DecodePatch(state map[string]json.RawMessage, playerCount int) (Patch, error) {
	if playerCount <= 0 {
		playerCount = engine.DefaultPlayerCount
	}

	var p Patch
	if raw, ok := state[FieldStones]; ok {
		var stones []engine.Placed
		if err := json.Unmarshal(raw, &stones); err != nil {
			return Patch{}, fmt.Errorf("decode %s: %w", FieldStones, err)
		}
		for _, st := range stones {
			if err := validStone(st, playerCount); err != nil {
				return Patch{}, fmt.Errorf("decode %s: %w", FieldStones, err)
			}
		}
		if stones == nil {
			stones = []engine.Placed{}
		}
		p.Stones = &stones
	}
	if raw, ok := state[FieldTurn]; ok {
		var turn int
		if err := json.Unmarshal(raw, &turn); err != nil {
			return Patch{}, fmt.Errorf("decode %s: %w", FieldTurn, err)
		}
		if turn < 1 || turn > playerCount {
			return Patch{}, fmt.Errorf("decode %s: %w: %d", FieldTurn, ErrOutOfRange, turn)
		}
		p.Turn = &turn
	}
	return p, nil
}

func validStone(st engine.Placed, playerCount int) error {
	switch {
	case st.ID <= 0:
		return fmt.Errorf("%w: stone id %d", ErrOutOfRange, st.ID)
	case st.Rank < engine.RankStep || st.Rank > engine.RankFive:
		return fmt.Errorf("%w: stone %d rank %d", ErrOutOfRange, st.ID, st.Rank)
	case st.Owner < 1 || st.Owner > playerCount:
		return fmt.Errorf("%w: stone %d owner %d", ErrOutOfRange, st.ID, st.Owner)
	case st.Height < 0:
		return fmt.Errorf("%w: stone %d height %d", ErrOutOfRange, st.ID, st.Height)
	}
	return nil
}
