// Package client maintains the authenticated relay connection.
//
// A Client runs a single event loop (Run) that owns every piece of mutable
// state: the connection, the router, the pending uploads and the identity.
// Transport goroutines and timers never touch that state; they post events
// which the loop handles one at a time.
//
// Lifecycle:
//
//	Disconnected -> Connecting -> Connected -> Disconnected -> ...
//
// connect arms a handshake timeout and dials. The relay answers the
// ID/NAME handshake with an ID; the client then becomes Connected, starts
// the heartbeat check and calls the ready callback. Any failure goes
// through close, which schedules the next attempt after a capped
// quadratic backoff.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sam-hudson02/wallsync-client/internal/cache"
	"github.com/sam-hudson02/wallsync-client/internal/config"
	"github.com/sam-hudson02/wallsync-client/internal/filesync"
	"github.com/sam-hudson02/wallsync-client/internal/logging"
	"github.com/sam-hudson02/wallsync-client/internal/metrics"
	"github.com/sam-hudson02/wallsync-client/internal/router"
	"github.com/sam-hudson02/wallsync-client/internal/transport"
	"github.com/sam-hudson02/wallsync-client/pkg/protocol"
	"github.com/sam-hudson02/wallsync-client/pkg/retry"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrStopped      = errors.New("client stopped")
)

// State is the connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

const (
	DefaultConnectTimeout    = 10 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultHeartbeatTimeout  = 40 * time.Second
)

// Options tunes timing. Zero values take the defaults.
type Options struct {
	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	Backoff           retry.Config

	// OnStateChange is called on the event loop after every transition.
	OnStateChange func(State)
	// Now is the clock used for heartbeat bookkeeping.
	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if o.Backoff == (retry.Config{}) {
		o.Backoff = retry.DefaultConfig()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type timerKind int

const (
	connectTimer timerKind = iota
	heartbeatTimer
	backoffTimer
)

func (k timerKind) String() string {
	switch k {
	case connectTimer:
		return "connect"
	case heartbeatTimer:
		return "heartbeat"
	case backoffTimer:
		return "backoff"
	default:
		return "unknown"
	}
}

type timerEvent struct {
	kind timerKind
	seq  uint64
}

type armedTimer struct {
	seq   uint64
	timer *time.Timer
}

// Client is the connection manager.
type Client struct {
	cfg    *config.Config
	dialer transport.Dialer
	opts   Options
	router *router.Router
	engine *filesync.Engine

	state atomic.Int32

	// Owned by the event loop.
	conn     transport.Conn
	handler  func(raw string)
	lastPing time.Time // zero when no ping has been seen
	attempt  int
	onReady  func()
	stopping bool
	armed    map[timerKind]armedTimer
	seq      uint64

	events chan transport.Event
	timers chan timerEvent
	calls  chan func()
	done   chan struct{}
}

// New creates a client. Received wallpapers are stored in c and applied
// with applier.
func New(cfg *config.Config, dialer transport.Dialer, c *cache.Cache, applier filesync.Applier, opts Options) *Client {
	opts.setDefaults()
	cl := &Client{
		cfg:    cfg,
		dialer: dialer,
		opts:   opts,
		armed:  make(map[timerKind]armedTimer),
		events: make(chan transport.Event, 64),
		timers: make(chan timerEvent),
		calls:  make(chan func()),
		done:   make(chan struct{}),
	}
	cl.router = router.New(
		router.Route{Key: protocol.KeyID, Handler: cl.onID},
		router.Route{Key: protocol.KeyPing, Handler: cl.onPing},
		router.Route{Key: protocol.KeyError, Handler: cl.onError},
	)
	cl.engine = filesync.New(c, applier, cl.router, cl)
	cl.router.AddRoutes(cl.engine.Routes()...)
	return cl
}

// OnReady sets the callback run on the event loop after each successful
// handshake. It must be set before Run. The callback may use Engine
// directly; it must not call Do, Sync or Pending, which would deadlock.
func (c *Client) OnReady(fn func()) {
	c.onReady = fn
}

// Engine returns the file sync engine. Only use it on the event loop
// (from the ready callback or inside Do).
func (c *Client) Engine() *filesync.Engine {
	return c.engine
}

// State returns the current connection state. Safe from any goroutine.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Run connects and keeps the connection alive until ctx is cancelled. It
// may only be called once.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.done)

	c.connect()
	for {
		select {
		case <-ctx.Done():
			c.stopping = true
			c.close()
			c.cancel(backoffTimer)
			logging.Info("client stopped")
			return ctx.Err()
		case ev := <-c.events:
			c.handleEvent(ev)
		case ev := <-c.timers:
			c.handleTimer(ev)
		case fn := <-c.calls:
			fn()
		}
	}
}

// Do runs fn on the event loop and waits for it to return.
func (c *Client) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	call := func() {
		defer close(finished)
		fn()
	}
	select {
	case c.calls <- call:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// Sync pushes a local image to the relay.
func (c *Client) Sync(ctx context.Context, path string) error {
	var err error
	if derr := c.Do(ctx, func() { err = c.engine.Sync(path) }); derr != nil {
		return derr
	}
	return err
}

// Pending returns how many pushed files the relay has not acknowledged.
func (c *Client) Pending(ctx context.Context) (int, error) {
	var n int
	err := c.Do(ctx, func() { n = c.engine.Pending() })
	return n, err
}

// Send writes one line on the authenticated connection.
func (c *Client) Send(key, value string) error {
	if c.conn == nil || c.State() != Connected {
		return ErrNotConnected
	}
	return c.write(protocol.Line(key, value), key)
}

func (c *Client) write(text, key string) error {
	if err := c.conn.Send(text); err != nil {
		return err
	}
	if !protocol.IsControlKey(key) {
		key = "payload"
	}
	metrics.RecordLine(metrics.Outbound, key)
	return nil
}

func (c *Client) setState(s State) {
	if c.State() == s {
		return
	}
	c.state.Store(int32(s))
	metrics.SetConnectionState(int(s))
	logging.Debug("state changed", logging.String("state", s.String()))
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}

func (c *Client) connect() {
	if c.State() != Disconnected {
		return
	}
	c.setState(Connecting)
	c.handler = c.handleHandshake
	c.arm(connectTimer, c.opts.ConnectTimeout)
	metrics.RecordConnectAttempt()

	url := c.cfg.WSURL()
	logging.Info("connecting", logging.String("url", url), logging.Int("attempt", c.attempt))
	conn, err := c.dialer.Dial(url, c.events)
	if err != nil {
		logging.Error("dial failed", logging.String("url", url), logging.Err(err))
		c.close()
		return
	}
	c.conn = conn
}

// close tears down the connection and schedules the next attempt. It is
// idempotent.
func (c *Client) close() {
	c.lastPing = time.Time{}
	c.cancel(heartbeatTimer)
	c.cancel(connectTimer)
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			logging.Debug("close transport", logging.Err(err))
		}
		c.conn = nil
	}
	if c.State() == Disconnected {
		return
	}
	c.setState(Disconnected)
	logging.Info("disconnected")
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	if c.stopping {
		return
	}
	if _, ok := c.armed[backoffTimer]; ok {
		return
	}
	delay := c.opts.Backoff.Delay(c.attempt)
	metrics.SetReconnectDelay(delay.Seconds())
	logging.Info("reconnecting", logging.Duration("after", delay), logging.Int("attempt", c.attempt+1))
	c.arm(backoffTimer, delay)
}

func (c *Client) handleEvent(ev transport.Event) {
	if c.conn == nil || ev.Conn != c.conn.ID() {
		logging.Debug("dropping event from stale connection",
			logging.String("type", ev.Type.String()))
		return
	}

	switch ev.Type {
	case transport.EventOpen:
		logging.Info("connected, authenticating")
		handshake := protocol.Encode(protocol.Frame{
			{Key: protocol.KeyID, Value: c.cfg.Identity()},
			{Key: protocol.KeyName, Value: c.cfg.Name},
		})
		if err := c.write(handshake, protocol.KeyID); err != nil {
			logging.Error("send handshake", logging.Err(err))
			c.close()
		}
	case transport.EventMessage:
		c.handler(ev.Data)
	case transport.EventError:
		logging.Error("transport error", logging.Err(ev.Err))
		c.close()
	case transport.EventClose:
		logging.Info("relay closed the connection")
		c.close()
	}
}

func (c *Client) parse(raw string) (protocol.Frame, bool) {
	frame, err := protocol.Parse(raw)
	if err != nil {
		metrics.RecordProtocolError()
		logging.Warn("dropping frame", logging.Err(err))
		return nil, false
	}
	for _, p := range frame {
		key := p.Key
		if !protocol.IsControlKey(key) {
			key = "payload"
		}
		metrics.RecordLine(metrics.Inbound, key)
	}
	return frame, true
}

// handleHandshake only honours ID and ERROR.
func (c *Client) handleHandshake(raw string) {
	frame, ok := c.parse(raw)
	if !ok {
		return
	}
	for i, p := range frame {
		switch p.Key {
		case protocol.KeyID:
			c.assignIdentity(p.Value)
			c.ready()
			c.dispatch(frame[i+1:])
			return
		case protocol.KeyError:
			c.handleError(p.Value)
			c.close()
			return
		default:
			logging.Warn("ignoring message before authentication", logging.String("key", p.Key))
		}
	}
}

func (c *Client) handleFrame(raw string) {
	frame, ok := c.parse(raw)
	if !ok {
		return
	}
	c.dispatch(frame)
}

func (c *Client) dispatch(frame protocol.Frame) {
	for _, p := range frame {
		if c.State() != Connected {
			return
		}
		c.router.Route(p.Key, p.Value)
	}
}

func (c *Client) ready() {
	c.cancel(connectTimer)
	c.setState(Connected)
	c.attempt = 0
	c.lastPing = c.opts.Now()
	c.arm(heartbeatTimer, c.opts.HeartbeatInterval)
	c.handler = c.handleFrame
	logging.Info("authenticated", logging.String("id", c.cfg.Identity()))

	if c.onReady != nil {
		c.onReady()
	}
	if err := c.Send(protocol.KeyActive, c.cfg.Identity()); err != nil {
		logging.Warn("announce active", logging.Err(err))
	}
}

func (c *Client) assignIdentity(id string) {
	if id == c.cfg.Identity() {
		return
	}
	logging.Info("setting identity", logging.String("id", id))
	if err := c.cfg.SetID(id); err != nil {
		logging.Error("save identity", logging.Err(err))
	}
}

func (c *Client) handleError(reason string) {
	if reason != protocol.ReasonNotFound {
		logging.Warn("relay error", logging.String("reason", reason))
		return
	}
	logging.Warn("relay does not know this client, resetting identity",
		logging.String("id", c.cfg.Identity()))
	if err := c.cfg.SetID(config.NewClientID); err != nil {
		logging.Error("save identity", logging.Err(err))
	}
	c.close()
}

func (c *Client) onID(id string) {
	c.assignIdentity(id)
}

func (c *Client) onPing(string) {
	c.lastPing = c.opts.Now()
	if err := c.Send(protocol.KeyPong, "PONG"); err != nil {
		logging.Warn("send pong", logging.Err(err))
	}
}

func (c *Client) onError(reason string) {
	c.handleError(reason)
}

// arm (re)starts a timer. A timer that fires after being cancelled or
// re-armed carries a stale sequence number and is ignored by handleTimer.
func (c *Client) arm(kind timerKind, d time.Duration) {
	c.cancel(kind)
	c.seq++
	ev := timerEvent{kind: kind, seq: c.seq}
	t := time.AfterFunc(d, func() {
		select {
		case c.timers <- ev:
		case <-c.done:
		}
	})
	c.armed[kind] = armedTimer{seq: ev.seq, timer: t}
}

func (c *Client) cancel(kind timerKind) {
	if a, ok := c.armed[kind]; ok {
		a.timer.Stop()
		delete(c.armed, kind)
	}
}

func (c *Client) handleTimer(ev timerEvent) {
	a, ok := c.armed[ev.kind]
	if !ok || a.seq != ev.seq {
		logging.Debug("ignoring cancelled timer", logging.String("timer", ev.kind.String()))
		return
	}
	delete(c.armed, ev.kind)

	switch ev.kind {
	case connectTimer:
		logging.Warn("authentication timed out", logging.Duration("after", c.opts.ConnectTimeout))
		metrics.RecordHandshakeTimeout()
		c.close()
	case heartbeatTimer:
		if c.lastPing.IsZero() || c.opts.Now().Sub(c.lastPing) > c.opts.HeartbeatTimeout {
			logging.Warn("heartbeat timed out", logging.Duration("timeout", c.opts.HeartbeatTimeout))
			metrics.RecordHeartbeatTimeout()
			c.close()
			return
		}
		c.arm(heartbeatTimer, c.opts.HeartbeatInterval)
	case backoffTimer:
		c.attempt++
		c.connect()
	}
}
