package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/hive-online/internal/cache"
	"github.com/DoyleJ11/hive-online/internal/engine"
	"github.com/DoyleJ11/hive-online/internal/hex"
	"github.com/DoyleJ11/hive-online/internal/types"
)

const DefaultBroadcastDelay = 500 * time.Millisecond

// Syncer ships a partial state update to the other participants.
type Syncer interface {
	Sync(state map[string]json.RawMessage)
}

type Observer func(Snapshot)

// Selection is the piece the local player is about to move. A hover
// (Committed == false) is freely replaced; a committed one must be cleared.
type Selection struct {
	Active    *engine.Piece
	Committed bool
}

type Snapshot struct {
	Board        engine.Board
	Turn         int
	Selection    Selection
	Online       bool
	Participants []string
}

type Options struct {
	Room        string
	Namespace   string
	PlayerCount int
	// BroadcastDelay postpones the sync after a move so the local transition
	// finishes before any echo arrives.
	BroadcastDelay time.Duration
	Cache          cache.Cache
	Logger         *zap.Logger
}

// Store is the client-side session: it owns board, turn and selection, and
// only changes them through Select, Move, Restart and ApplyRemote.
type Store struct {
	mu           sync.Mutex
	players      int
	pool         []engine.Piece
	state        engine.State
	sel          Selection
	online       bool
	participants []string

	syncer    Syncer
	observers []Observer

	delay    time.Duration
	cache    cache.Cache
	gameKey  string
	prefsKey string
	log      *zap.Logger
}

type cachedGame struct {
	Turn   int             `json:"turn"`
	Stones []engine.Placed `json:"stones"`
}

type cachedPrefs struct {
	Online bool `json:"online"`
}

// New builds a store and applies any cached fields before returning.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Room == "" {
		return nil, fmt.Errorf("store: room is required")
	}
	if opts.Namespace == "" {
		opts.Namespace = "thehive"
	}
	if opts.PlayerCount <= 0 {
		opts.PlayerCount = engine.DefaultPlayerCount
	}
	if opts.BroadcastDelay < 0 {
		opts.BroadcastDelay = 0
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	state := engine.NewEmptyState()
	state.PlayerCount = opts.PlayerCount

	s := &Store{
		players:  opts.PlayerCount,
		pool:     engine.PieceSet(opts.PlayerCount),
		state:    state,
		delay:    opts.BroadcastDelay,
		cache:    opts.Cache,
		gameKey:  cache.Key(opts.Namespace, "games", opts.Room),
		prefsKey: cache.Key(opts.Namespace, "state"),
		log:      log.With(zap.String("room", opts.Room)),
	}
	if err := s.loadCache(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) SetSyncer(sy Syncer) {
	s.mu.Lock()
	s.syncer = sy
	s.mu.Unlock()
}

// Subscribe registers o; observers run in registration order after every change.
func (s *Store) Subscribe(o Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) Pieces() []engine.Piece { return slices.Clone(s.pool) }

func (s *Store) Piece(id int) (engine.Piece, bool) {
	for _, p := range s.pool {
		if p.ID == id {
			return p, true
		}
	}
	return engine.Piece{}, false
}

// Reservoir lists the unplaced pieces of player.
func (s *Store) Reservoir(player int) []engine.Piece {
	s.mu.Lock()
	defer s.mu.Unlock()
	return engine.Reservoir(s.pool, s.state.Board, player)
}

// Select hovers (commit == false) or clicks (commit == true) piece id.
// Clicking the committed piece again clears the selection.
func (s *Store) Select(id int, commit bool) bool {
	p, ok := s.Piece(id)
	if !ok {
		return false
	}

	s.mu.Lock()
	if p.Owner != s.state.Turn {
		s.mu.Unlock()
		return false
	}
	if placed, onBoard := s.state.Board.Lookup(id); onBoard && !s.state.Board.IsTopmost(placed) {
		s.mu.Unlock()
		return false
	}

	switch {
	case s.sel.Committed && commit && s.sel.Active != nil && s.sel.Active.ID == id:
		s.sel = Selection{}
	case s.sel.Committed && commit:
		s.sel = Selection{Active: &p, Committed: true}
	case !s.sel.Committed:
		s.sel = Selection{Active: &p, Committed: commit}
	default:
		// Hovering never replaces a committed selection.
		s.mu.Unlock()
		return false
	}
	s.notifyUnlock()
	return true
}

// ClearHover drops an uncommitted selection.
func (s *Store) ClearHover() {
	s.mu.Lock()
	if s.sel.Committed || s.sel.Active == nil {
		s.mu.Unlock()
		return
	}
	s.sel = Selection{}
	s.notifyUnlock()
}

// Moves lists the legal destinations of the active selection.
func (s *Store) Moves() []engine.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sel.Active == nil {
		return nil
	}
	return engine.Targets(s.state.Board, s.state.Turn, *s.sel.Active)
}

// Move places piece id at to. Illegal moves are ignored and return false.
func (s *Store) Move(id int, to hex.Coord) bool {
	p, ok := s.Piece(id)
	if !ok {
		return false
	}

	s.mu.Lock()
	_, next, err := engine.Apply(s.state, engine.Command{Type: engine.CmdPlace, Piece: p, To: to})
	if err != nil {
		s.mu.Unlock()
		return false
	}
	s.state = next
	s.sel = Selection{}
	s.persistGameLocked()

	fields, err := types.GameState{Stones: next.Board.Stones(), Turn: next.Turn}.Fields()
	syncer, delay := s.syncer, s.delay
	s.notifyUnlock()

	if err != nil {
		s.log.Error("encode move", zap.Error(err))
		return true
	}
	if syncer != nil {
		// A restart inside this window is not blocked; the late full-state
		// broadcast simply overwrites it.
		time.AfterFunc(delay, func() { syncer.Sync(fields) })
	}
	return true
}

// Restart clears board and selection and broadcasts the empty board at once.
func (s *Store) Restart() {
	s.mu.Lock()
	_, next, _ := engine.Apply(s.state, engine.Command{Type: engine.CmdRestart})
	s.state = next
	s.sel = Selection{}
	s.persistGameLocked()
	syncer := s.syncer
	s.notifyUnlock()

	if syncer == nil {
		return
	}
	fields, err := types.StonesOnly(nil)
	if err != nil {
		s.log.Error("encode restart", zap.Error(err))
		return
	}
	syncer.Sync(fields)
}

// ApplyRemote overwrites local fields with a relay update. When the turn
// has moved away from the selected piece's owner the selection is cleared.
func (s *Store) ApplyRemote(state map[string]json.RawMessage) error {
	patch, err := types.DecodePatch(state, s.players)
	if err != nil {
		return err
	}
	if patch.Empty() {
		return nil
	}

	s.mu.Lock()
	if patch.Stones != nil {
		s.state.Board = engine.NewBoard(*patch.Stones...)
	}
	if patch.Turn != nil {
		s.state.Turn = *patch.Turn
	}
	if s.sel.Active != nil && s.sel.Active.Owner != s.state.Turn {
		s.sel = Selection{}
	}
	s.persistGameLocked()
	s.notifyUnlock()
	return nil
}

func (s *Store) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *Store) SetOnline(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	s.persistLocked(s.prefsKey, cachedPrefs{Online: online})
	s.notifyUnlock()
}

func (s *Store) SetParticipants(ids []string) {
	s.mu.Lock()
	s.participants = slices.Clone(ids)
	s.notifyUnlock()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Board:        s.state.Board,
		Turn:         s.state.Turn,
		Online:       s.online,
		Participants: slices.Clone(s.participants),
		Selection:    Selection{Committed: s.sel.Committed},
	}
	if s.sel.Active != nil {
		p := *s.sel.Active
		snap.Selection.Active = &p
	}
	return snap
}

// notifyUnlock releases s.mu and runs observers on the resulting snapshot.
func (s *Store) notifyUnlock() {
	snap := s.snapshotLocked()
	observers := slices.Clone(s.observers)
	s.mu.Unlock()
	for _, o := range observers {
		o(snap)
	}
}

func (s *Store) persistGameLocked() {
	s.persistLocked(s.gameKey, cachedGame{Turn: s.state.Turn, Stones: s.state.Board.Stones()})
}

func (s *Store) persistLocked(key string, v any) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.cache.Save(context.Background(), key, data); err != nil {
		s.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Store) loadCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}

	if data, ok, err := s.cache.Load(ctx, s.prefsKey); err != nil {
		return fmt.Errorf("load %s: %w", s.prefsKey, err)
	} else if ok {
		var prefs cachedPrefs
		if err := json.Unmarshal(data, &prefs); err != nil {
			s.log.Warn("ignoring corrupt cache entry", zap.String("key", s.prefsKey), zap.Error(err))
		} else {
			s.online = prefs.Online
		}
	}

	if data, ok, err := s.cache.Load(ctx, s.gameKey); err != nil {
		return fmt.Errorf("load %s: %w", s.gameKey, err)
	} else if ok {
		var game cachedGame
		if err := json.Unmarshal(data, &game); err != nil {
			s.log.Warn("ignoring corrupt cache entry", zap.String("key", s.gameKey), zap.Error(err))
		} else {
			s.state.Board = engine.NewBoard(game.Stones...)
			if game.Turn > 0 {
				s.state.Turn = game.Turn
			}
		}
	}
	return nil
}
