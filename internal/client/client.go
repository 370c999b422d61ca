package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jeffrywalsh/webchat/internal/ws"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is the connection state as the user sees it.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSynced
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSynced:
		return "synced"
	}
	return "unknown"
}

var (
	// ErrUnauthenticated means the server closed with 4401. Retrying with
	// the same token cannot succeed.
	ErrUnauthenticated = errors.New("server rejected credentials")

	ErrNotConnected = errors.New("not connected")
)

const (
	writeWait = 10 * time.Second
	sendQueue = 64
)

// Options configure a Client. Zero values get defaults.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8081/v1/ws.
	URL   string
	Token string
	// UserID is the authenticated user, needed to tell DM peers apart.
	UserID int64

	MinBackoff time.Duration
	MaxBackoff time.Duration
	// RefreshInterval is how often refresh_my_status is re-sent while
	// synced.
	RefreshInterval time.Duration

	// OnChange is called after every applied push and state change, with
	// the client's lock held. It must not call back into the Client.
	OnChange func(event string, v *View)

	Dialer *websocket.Dialer
	Logger *zap.Logger
}

// Client keeps a View in sync with the server across reconnects.
type Client struct {
	opts    Options
	backoff backoff
	logger  *zap.Logger

	state atomic.Int32

	mu   sync.Mutex
	view *View
	out  chan []byte // nil unless synced
}

func New(opts Options) *Client {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 30 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		opts:    opts,
		backoff: backoff{min: opts.MinBackoff, max: opts.MaxBackoff},
		logger:  opts.Logger.Named("client"),
		view:    NewView(opts.UserID),
	}
}

func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	c.logger.Info("connection state", zap.Stringer("state", s))
	c.mu.Lock()
	c.changed("state:" + s.String())
	c.mu.Unlock()
}

// changed must be called with mu held.
func (c *Client) changed(event string) {
	if c.opts.OnChange != nil {
		c.opts.OnChange(event, c.view)
	}
}

// Snapshot runs fn against the view under the client's lock.
func (c *Client) Snapshot(fn func(v *View)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.view)
}

// Select opens a room or DM and, when synced, requests its contents.
func (c *Client) Select(sel Selection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reqs := c.view.Select(sel)
	c.changed("select")
	if c.out != nil {
		c.enqueue(reqs)
	}
}

// Send queues one client event.
func (c *Client) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out == nil {
		return ErrNotConnected
	}
	return c.enqueueOne(Request{Event: event, Payload: payload})
}

func (c *Client) enqueue(reqs []Request) {
	for _, r := range reqs {
		if err := c.enqueueOne(r); err != nil {
			c.logger.Warn("request dropped", zap.String("event", r.Event), zap.Error(err))
		}
	}
}

// enqueueOne must be called with mu held and out non-nil.
func (c *Client) enqueueOne(r Request) error {
	frame, err := ws.Encode(r.Event, r.Payload)
	if err != nil {
		return err
	}
	select {
	case c.out <- frame:
		return nil
	default:
		return fmt.Errorf("send queue full")
	}
}

// Run connects and keeps reconnecting until ctx ends or the server rejects
// the token.
func (c *Client) Run(ctx context.Context) error {
	defer c.setState(StateDisconnected)
	for {
		c.setState(StateConnecting)
		err := c.session(ctx)
		c.setState(StateDisconnected)

		if errors.Is(err, ErrUnauthenticated) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := c.backoff.next()
		c.logger.Warn("disconnected, retrying", zap.Duration("in", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if c.opts.Token != "" {
		q := u.Query()
		q.Set("token", c.opts.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// session runs one connection from dial to teardown.
func (c *Client) session(ctx context.Context) error {
	target, err := c.dialURL()
	if err != nil {
		return err
	}
	conn, _, err := c.opts.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	out := make(chan []byte, sendQueue)
	c.mu.Lock()
	c.out = out
	c.enqueue(c.view.ResyncRequests())
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.out = nil
		c.mu.Unlock()
	}()

	c.setState(StateSynced)
	c.backoff.reset()

	var readErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		readErr = c.readLoop(conn)
		return readErr
	})
	g.Go(func() error { return c.writeLoop(gctx, conn, out) })
	g.Go(func() error { return c.refreshLoop(gctx) })
	go func() {
		// Unblocks ReadMessage once any loop fails or ctx ends.
		<-gctx.Done()
		_ = conn.Close()
	}()
	err = g.Wait()
	// A rejected token can surface as a failed write before the close frame
	// is read.
	if errors.Is(readErr, ErrUnauthenticated) {
		return readErr
	}
	return err
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == ws.CloseUnauthenticated {
				return fmt.Errorf("%w: %s", ErrUnauthenticated, ce.Text)
			}
			return fmt.Errorf("read: %w", err)
		}
		var env ws.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.logger.Warn("malformed push", zap.Error(err))
			continue
		}
		c.apply(env)
	}
}

func (c *Client) apply(env ws.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reqs, err := c.view.Apply(env)
	if err != nil {
		c.logger.Warn("push not applied", zap.String("event", env.Event), zap.Error(err))
		return
	}
	if env.Event == ws.EventError && c.view.LastError != nil {
		c.logger.Info("server error", zap.String("code", c.view.LastError.Code), zap.String("message", c.view.LastError.Message))
	}
	c.changed(env.Event)
	if c.out != nil {
		c.enqueue(reqs)
	}
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return ctx.Err()
		case frame := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

// refreshLoop re-asserts presence on a timer, independent of traffic, so a
// suspended client that missed its own offline edge comes back online.
func (c *Client) refreshLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Send(ws.EventRefreshMyStatus, nil); err != nil {
				c.logger.Debug("status refresh skipped", zap.Error(err))
			}
		}
	}
}

// backoff is capped exponential with full jitter.
type backoff struct {
	min, max time.Duration
	attempt  int
}

func (b *backoff) next() time.Duration {
	ceiling := b.min << b.attempt
	if ceiling <= 0 || ceiling > b.max {
		ceiling = b.max
	} else {
		b.attempt++
	}
	return b.min/2 + rand.N(ceiling-b.min/2+1)
}

func (b *backoff) reset() { b.attempt = 0 }
