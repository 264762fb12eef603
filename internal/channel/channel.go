package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/hive-online/internal/store"
	"github.com/DoyleJ11/hive-online/pkg/types"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

const (
	writeTimeout = 3 * time.Second
	readLimit    = 1 << 20

	SyncDownWarning = "sync down"
)

var ErrGaveUp = errors.New("reconnect limit reached")

// Resolver finds the room's relay; supervisor.Supervisor implements it.
type Resolver interface {
	Request(ctx context.Context, message any) (json.RawMessage, error)
	Endpoint(ctx context.Context) (string, error)
	Invalidate()
}

type Options struct {
	Resolver Resolver
	Store    *store.Store
	Logger   *zap.Logger
	// ReconnectLimit is the number of consecutive failed connection attempts
	// after which the channel stays disconnected until toggled. Zero means no
	// limit.
	ReconnectLimit int
	// ReconnectWait is the pause after a failed attempt. A connection that
	// closes after opening is retried right away.
	ReconnectWait time.Duration
	// Warn surfaces a user-visible warning.
	Warn    func(msg string)
	OnState func(State)
}

// Channel keeps one duplex connection to the room's relay while online and
// feeds everything it receives into the store.
type Channel struct {
	opts Options
	log  *zap.Logger
	ctx  context.Context

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	online bool
	closed bool
	gen    int
	cancel context.CancelFunc
}

// New creates a channel bound to ctx, the lifetime of its owner. It's
// registered as the store's syncer.
func New(ctx context.Context, opts Options) *Channel {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	c := &Channel{opts: opts, log: log, ctx: ctx}
	opts.Store.SetSyncer(c)
	return c
}

// Start connects when the store's cached online flag is set.
func (c *Channel) Start() {
	if c.opts.Store.Online() {
		c.SetOnline(true)
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// SetOnline starts or tears down the connection loop.
func (c *Channel) SetOnline(online bool) {
	c.mu.Lock()
	if c.closed || c.online == online {
		c.mu.Unlock()
		c.opts.Store.SetOnline(online)
		return
	}
	c.online = online
	c.gen++
	gen := c.gen
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	if online {
		ctx, cancel := context.WithCancel(c.ctx)
		c.cancel = cancel
		c.mu.Unlock()
		c.opts.Store.SetOnline(true)
		go c.run(ctx, gen)
		return
	}

	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "offline")
	}
	c.setState(gen, Disconnected)
	c.opts.Store.SetOnline(false)
	c.opts.Store.SetParticipants(nil)
}

// Close ends the channel for good; the cached online flag is left as is.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = Disconnected
	c.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "bye")
	}
}

// Sync sends a partial state update to the relay. It is best-effort: failures
// while online raise a warning and are not retried.
func (c *Channel) Sync(state map[string]json.RawMessage) {
	c.mu.Lock()
	conn, online := c.conn, c.online
	c.mu.Unlock()

	if conn == nil {
		if online {
			c.warn(SyncDownWarning)
		}
		return
	}

	frame, err := json.Marshal(types.Envelope{State: state})
	if err != nil {
		c.log.Error("encode sync", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		c.log.Warn("sync failed", zap.Error(err))
		if c.Online() {
			c.warn(SyncDownWarning)
		}
	}
}

func (c *Channel) run(ctx context.Context, gen int) {
	failures := 0
	next := Connecting
	for c.live(ctx, gen) {
		c.setState(gen, next)
		opened, err := c.session(ctx, gen)
		if !c.live(ctx, gen) {
			return
		}
		next = Reconnecting
		if opened {
			failures = 0
			c.log.Info("connection closed, reconnecting", zap.Error(err))
			continue
		}

		failures++
		c.log.Warn("connect failed", zap.Int("failures", failures), zap.Error(err))
		c.setState(gen, Disconnected)
		if c.opts.ReconnectLimit > 0 && failures >= c.opts.ReconnectLimit {
			c.log.Warn("staying disconnected", zap.Error(ErrGaveUp))
			return
		}
		if err := sleepCtx(ctx, c.opts.ReconnectWait); err != nil {
			return
		}
	}
}

// session runs one connection. opened reports whether the socket was
// established, which decides between an immediate and a paced retry.
func (c *Channel) session(ctx context.Context, gen int) (opened bool, err error) {
	if _, err := c.opts.Resolver.Request(ctx, map[string]string{"type": "hello"}); err != nil {
		return false, err
	}
	endpoint, err := c.opts.Resolver.Endpoint(ctx)
	if err != nil {
		return false, err
	}

	conn, resp, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			c.opts.Resolver.Invalidate()
		}
		return false, err
	}
	conn.SetReadLimit(readLimit)

	c.mu.Lock()
	if !c.liveLocked(ctx, gen) {
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "superseded")
		return true, nil
	}
	c.conn = conn
	c.mu.Unlock()
	c.setState(gen, Connected)
	c.log.Info("connected", zap.String("endpoint", endpoint))

	defer func() {
		c.release(conn)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, err
		}
		c.handle(data)
	}
}

// release forgets conn and its roster, unless a newer session already
// replaced it or SetOnline(false) cleared it.
func (c *Channel) release(conn *websocket.Conn) {
	c.mu.Lock()
	owned := c.conn == conn
	if owned {
		c.conn = nil
	}
	c.mu.Unlock()
	if owned {
		c.opts.Store.SetParticipants(nil)
	}
}

func (c *Channel) handle(data []byte) {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Debug("dropping malformed frame", zap.Error(err))
		return
	}
	if env.State != nil {
		if err := c.opts.Store.ApplyRemote(env.State); err != nil {
			c.log.Debug("dropping bad state", zap.String("from", env.ID), zap.Error(err))
		}
	}
	if env.Participants != nil {
		c.opts.Store.SetParticipants(env.Participants)
	}
}

func (c *Channel) live(ctx context.Context, gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(ctx, gen)
}

func (c *Channel) liveLocked(ctx context.Context, gen int) bool {
	return ctx.Err() == nil && !c.closed && c.online && c.gen == gen
}

// setState records s unless gen has been superseded.
func (c *Channel) setState(gen int, s State) {
	c.mu.Lock()
	if c.gen != gen || c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

func (c *Channel) warn(msg string) {
	c.log.Warn(msg)
	if c.opts.Warn != nil {
		c.opts.Warn(msg)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
