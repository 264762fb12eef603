package lobby

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/hive-online/pkg/types"
)

type Msg interface{ isLobbyMsg() }

// FromClient carries a partial state update sent by participant ID.
type FromClient struct {
	ID    string
	State map[string]json.RawMessage
}

func (FromClient) isLobbyMsg() {}

// Join registers a participant. The assigned id is sent on Reply before the
// first frame lands in Outbox.
type Join struct {
	Outbox chan []byte // encoded frames for this participant
	Reply  chan string
}

func (Join) isLobbyMsg() {}

type Leave struct{ ID string }

func (Leave) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// idleExpired is sent by the idle timer; gen drops fires from superseded timers.
type idleExpired struct{ gen int }

func (idleExpired) isLobbyMsg() {}

type View struct {
	Version      int
	Participants []string
	State        map[string]json.RawMessage
}

type Options struct {
	// IdleTimeout recycles the lobby once it has been empty this long.
	// Zero keeps it alive until shutdown.
	IdleTimeout time.Duration
	// OnIdle runs after an idle recycle, outside the lobby loop.
	OnIdle func()
	Logger *zap.Logger
}

// Lobby is the relay for one room. It never validates state: updates are
// shallow-merged field by field, last writer wins.
type Lobby struct {
	inbox   chan Msg
	state   map[string]json.RawMessage
	version int
	clients map[string]chan []byte
	order   []string
	dropped []string // removed as slow, leave not yet announced
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	idle    time.Duration
	idleGen int
	idleT   *time.Timer
	onIdle  func()
	log     *zap.Logger
}

func NewLobby(parent context.Context, opts Options) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	l := &Lobby{
		inbox:   make(chan Msg, 64),
		state:   map[string]json.RawMessage{},
		clients: make(map[string]chan []byte),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		idle:    opts.IdleTimeout,
		onIdle:  opts.OnIdle,
		log:     log,
	}

	l.armIdle()
	go l.loop()
	return l
}

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				id := uuid.NewString()
				l.clients[id] = msg.Outbox
				l.order = append(l.order, id)
				l.disarmIdle()
				msg.Reply <- id
				l.log.Debug("participant joined", zap.String("participant", id))

				l.send(id, msg.Outbox, types.Snapshot{
					ID:           id,
					State:        l.state,
					Participants: l.participants(),
					Version:      l.version,
				})
				l.broadcast(types.Envelope{Join: id, Participants: l.participants()}, id)

			case Leave:
				if _, ok := l.clients[msg.ID]; !ok {
					break
				}
				l.remove(msg.ID)
				l.log.Debug("participant left", zap.String("participant", msg.ID))
				l.broadcast(types.Envelope{Leave: msg.ID, Participants: l.participants()}, "")
				if len(l.clients) == 0 {
					l.armIdle()
				}

			case FromClient:
				if msg.State == nil {
					break
				}
				next := maps.Clone(l.state)
				maps.Copy(next, msg.State)
				l.state = next
				l.version++
				l.broadcast(types.Envelope{
					ID:           msg.ID,
					State:        l.state,
					Participants: l.participants(),
					Version:      l.version,
				}, msg.ID)

			case GetState:
				msg.Reply <- View{
					Version:      l.version,
					Participants: l.participants(),
					State:        maps.Clone(l.state),
				}

			case idleExpired:
				if msg.gen != l.idleGen || len(l.clients) > 0 {
					break
				}
				l.log.Info("lobby idle, recycling")
				l.shutdown()
				if l.onIdle != nil {
					go l.onIdle()
				}
				return

			case Shutdown:
				l.shutdown()
				return
			}
			l.announceDropped()
		}
	}
}

func (l *Lobby) shutdown() {
	l.disarmIdle()
	for id, ch := range l.clients {
		close(ch) // Tell client no more frames
		delete(l.clients, id)
	}
	l.order = nil
	l.dropped = nil
	l.cancel()
}

// broadcast sends env to every participant except skip.
func (l *Lobby) broadcast(env types.Envelope, skip string) {
	for _, id := range slices.Clone(l.order) {
		if id == skip {
			continue
		}
		l.send(id, l.clients[id], env)
	}
}

func (l *Lobby) send(id string, ch chan []byte, v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		l.log.Error("encode frame", zap.Error(err))
		return
	}
	select {
	case ch <- frame:
		//ok
	default:
		// Client is slow/full - drop them.
		l.log.Warn("dropping slow participant", zap.String("participant", id))
		close(ch)
		l.remove(id)
		l.dropped = append(l.dropped, id)
	}
}

// announceDropped tells the remaining participants about every client
// dropped while handling the last message. Announcing may drop more.
func (l *Lobby) announceDropped() {
	if len(l.dropped) == 0 {
		return
	}
	for len(l.dropped) > 0 {
		id := l.dropped[0]
		l.dropped = l.dropped[1:]
		l.broadcast(types.Envelope{Leave: id, Participants: l.participants()}, "")
	}
	if len(l.clients) == 0 {
		l.armIdle()
	}
}

func (l *Lobby) remove(id string) {
	delete(l.clients, id)
	l.order = slices.DeleteFunc(l.order, func(s string) bool { return s == id })
}

func (l *Lobby) participants() []string { return slices.Clone(l.order) }

func (l *Lobby) armIdle() {
	if l.idle <= 0 {
		return
	}
	l.disarmIdle()
	gen := l.idleGen
	l.idleT = time.AfterFunc(l.idle, func() {
		select {
		case l.inbox <- idleExpired{gen: gen}:
		case <-l.done:
		}
	})
}

func (l *Lobby) disarmIdle() {
	l.idleGen++
	if l.idleT != nil {
		l.idleT.Stop()
		l.idleT = nil
	}
}

// Expose the inbox so tests or WS layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Send delivers m unless the lobby has already exited.
func (l *Lobby) Send(m Msg) bool {
	select {
	case l.inbox <- m:
		return true
	case <-l.done:
		return false
	}
}

// Done is closed once the lobby loop has exited.
func (l *Lobby) Done() <-chan struct{} { return l.done }
