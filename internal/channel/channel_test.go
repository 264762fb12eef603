package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/hive-online/internal/engine"
	"github.com/DoyleJ11/hive-online/internal/hex"
	"github.com/DoyleJ11/hive-online/internal/httpapi"
	"github.com/DoyleJ11/hive-online/internal/hub"
	"github.com/DoyleJ11/hive-online/internal/lobby"
	"github.com/DoyleJ11/hive-online/internal/store"
	"github.com/DoyleJ11/hive-online/internal/supervisor"
)

type relayServer struct {
	hub *hub.Hub
	srv *httptest.Server
}

func newRelayServer(t *testing.T) *relayServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := hub.NewHub(ctx, hub.Options{})
	srv := httptest.NewServer(httpapi.SetupRoutes(httpapi.Deps{Hub: h}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &relayServer{hub: h, srv: srv}
}

type client struct {
	store   *store.Store
	channel *Channel
	states  chan State

	mu       sync.Mutex
	warnings []string
}

func newClient(t *testing.T, rs *relayServer, room string) *client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	st, err := store.New(ctx, store.Options{Room: room, BroadcastDelay: 10 * time.Millisecond})
	require.NoError(t, err)

	sup := supervisor.New(rs.srv.URL+"/workers", supervisor.Options{
		Alias:   room,
		Retry:   2,
		Timeout: 100 * time.Millisecond,
	})

	c := &client{store: st, states: make(chan State, 64)}
	c.channel = New(ctx, Options{
		Resolver:      sup,
		Store:         st,
		ReconnectWait: 10 * time.Millisecond,
		Warn: func(msg string) {
			c.mu.Lock()
			c.warnings = append(c.warnings, msg)
			c.mu.Unlock()
		},
		OnState: func(s State) { c.states <- s },
	})
	t.Cleanup(c.channel.Close)
	return c
}

func (c *client) waitState(t *testing.T, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-c.states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v (now %v)", want, c.channel.State())
		}
	}
}

func (c *client) warningCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.warnings)
}

func TestChannel_MoveReachesPeer(t *testing.T) {
	rs := newRelayServer(t)
	a := newClient(t, rs, "r1")
	b := newClient(t, rs, "r1")

	a.channel.SetOnline(true)
	a.waitState(t, Connected)
	b.channel.SetOnline(true)
	b.waitState(t, Connected)

	require.Eventually(t, func() bool {
		return len(a.store.Snapshot().Participants) == 2 && len(b.store.Snapshot().Participants) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.True(t, a.store.Select(2, true))
	require.True(t, a.store.Move(2, hex.Origin))

	require.Eventually(t, func() bool {
		snap := b.store.Snapshot()
		return snap.Turn == engine.PlayerTwo && snap.Board.Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	b.store.Restart()
	require.Eventually(t, func() bool { return a.store.Snapshot().Board.Empty() }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, engine.PlayerTwo, a.store.Snapshot().Turn, "restart only clears stones")
	assert.Zero(t, a.warningCount())
}

func TestChannel_RemoteTurnChangeClearsCommittedSelection(t *testing.T) {
	rs := newRelayServer(t)
	a := newClient(t, rs, "r1")
	b := newClient(t, rs, "r1")
	a.channel.SetOnline(true)
	a.waitState(t, Connected)
	b.channel.SetOnline(true)
	b.waitState(t, Connected)

	// b thinks it's still player one's turn and commits a selection.
	require.True(t, b.store.Select(1, true))
	require.True(t, a.store.Move(2, hex.Origin))

	require.Eventually(t, func() bool {
		return b.store.Snapshot().Selection.Active == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChannel_ReconnectsWhileOnline(t *testing.T) {
	rs := newRelayServer(t)
	a := newClient(t, rs, "r1")

	a.channel.SetOnline(true)
	a.waitState(t, Connected)

	// Recycle the relay: the socket closes and the next provisioning makes a new one.
	first := rs.hub.Get(context.Background(), "r1")
	require.NotNil(t, first)
	first.Send(lobby.Shutdown{})

	a.waitState(t, Reconnecting)
	a.waitState(t, Connected)
	second := rs.hub.Get(context.Background(), "r1")
	require.NotNil(t, second)
	assert.NotSame(t, first, second)

	a.channel.SetOnline(false)
	a.waitState(t, Disconnected)
	assert.False(t, a.store.Online())
	assert.Empty(t, a.store.Snapshot().Participants)

	second.Send(lobby.Shutdown{})
	select {
	case s := <-a.states:
		t.Fatalf("no reconnect expected while offline, got state %v", s)
	case <-time.After(150 * time.Millisecond):
	}
	assert.Equal(t, Disconnected, a.channel.State())
}

type failingResolver struct {
	calls atomic.Int32
}

func (f *failingResolver) Request(context.Context, any) (json.RawMessage, error) {
	f.calls.Add(1)
	return nil, supervisor.ErrTimeout
}

func (f *failingResolver) Endpoint(context.Context) (string, error) {
	return "", errors.New("unreachable")
}

func (f *failingResolver) Invalidate() {}

func TestChannel_ProvisioningFailureStaysOnlineButDisconnected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st, err := store.New(ctx, store.Options{Room: "r1"})
	require.NoError(t, err)

	res := &failingResolver{}
	var warnings atomic.Int32
	ch := New(ctx, Options{
		Resolver:       res,
		Store:          st,
		ReconnectLimit: 3,
		ReconnectWait:  time.Millisecond,
		Warn:           func(string) { warnings.Add(1) },
	})
	defer ch.Close()

	ch.SetOnline(true)
	require.Eventually(t, func() bool { return res.calls.Load() == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 3, res.calls.Load(), "attempts are bounded")
	assert.Equal(t, Disconnected, ch.State())
	assert.True(t, ch.Online())
	assert.True(t, st.Online())

	ch.Sync(map[string]json.RawMessage{"turn": json.RawMessage(`2`)})
	assert.EqualValues(t, 1, warnings.Load(), "send while online but unconnected warns")

	ch.SetOnline(false)
	ch.Sync(map[string]json.RawMessage{"turn": json.RawMessage(`2`)})
	assert.EqualValues(t, 1, warnings.Load(), "offline sends are silent")
}

func TestChannel_StartHonoursCachedOnlineFlag(t *testing.T) {
	rs := newRelayServer(t)
	a := newClient(t, rs, "r1")

	a.channel.Start()
	select {
	case s := <-a.states:
		t.Fatalf("offline store should not connect, got %v", s)
	case <-time.After(50 * time.Millisecond):
	}

	a.store.SetOnline(true)
	a.channel.Start()
	a.waitState(t, Connected)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "reconnecting", Reconnecting.String())
}

func TestChannel_StaleSessionKeepsNewRoster(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st, err := store.New(ctx, store.Options{Room: "r1"})
	require.NoError(t, err)
	ch := New(ctx, Options{Resolver: &failingResolver{}, Store: st})

	stale, current := &websocket.Conn{}, &websocket.Conn{}
	ch.mu.Lock()
	ch.conn = current
	ch.mu.Unlock()
	st.SetParticipants([]string{"a", "b"})

	ch.release(stale)
	assert.Equal(t, []string{"a", "b"}, st.Snapshot().Participants)
	ch.mu.Lock()
	assert.Same(t, current, ch.conn)
	ch.mu.Unlock()

	ch.release(current)
	assert.Empty(t, st.Snapshot().Participants)
	ch.mu.Lock()
	assert.Nil(t, ch.conn)
	ch.mu.Unlock()
}
