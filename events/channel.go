// Package events maintains the persistent websocket connection over which
// the monitoring service pushes asynchronous notifications, and fans decoded
// messages out to registered handlers by message type.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// State is the connectivity state of the channel. Exactly one channel with
// one state exists per process; transitions drive reconnection scheduling.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "connected"
	default:
		return "disconnected"
	}
}

// Handler consumes one inbound message. Handlers run synchronously on the
// channel's read loop, in registration order; a panicking handler is
// isolated and does not block delivery to the others.
type Handler func(Message)

// Authorizer gates connection attempts on authenticated session state. The
// session Manager satisfies it.
type Authorizer interface {
	Authenticated() bool
}

const (
	defaultReconnectDelay = 5 * time.Second
	defaultPingInterval   = 20 * time.Second
	defaultReadTimeout    = 60 * time.Second
	writeTimeout          = 10 * time.Second
)

type subscription struct {
	id int
	fn Handler
}

// Channel is the persistent event connection. Run drives the reconnect loop;
// subscriptions may be added or removed at any time, including while open.
type Channel struct {
	url          string
	dialer       *websocket.Dialer
	delay        time.Duration
	pingInterval time.Duration
	readTimeout  time.Duration
	authorizer   Authorizer
	log          zerolog.Logger

	mu       sync.Mutex
	state    State
	lastErr  error
	nextID   int
	subs     map[MessageType][]subscription
	stateFns []func(State)
}

// ChannelOption modifies a Channel during construction.
type ChannelOption func(*Channel)

// WithReconnectDelay sets the fixed delay between connection attempts.
func WithReconnectDelay(delay time.Duration) ChannelOption {
	return func(c *Channel) { c.delay = delay }
}

// WithKeepalive sets the ping interval and the read deadline after which a
// silent connection counts as dropped.
func WithKeepalive(pingInterval, readTimeout time.Duration) ChannelOption {
	return func(c *Channel) {
		c.pingInterval = pingInterval
		c.readTimeout = readTimeout
	}
}

// WithAuthorizer defers connection attempts until the session is
// authenticated.
func WithAuthorizer(a Authorizer) ChannelOption {
	return func(c *Channel) { c.authorizer = a }
}

// WithChannelLogger attaches a logger; the default discards everything.
func WithChannelLogger(log zerolog.Logger) ChannelOption {
	return func(c *Channel) { c.log = log }
}

// NewChannel builds a Channel for the given ws:// or wss:// endpoint.
func NewChannel(url string, options ...ChannelOption) (*Channel, error) {
	if url == "" {
		return nil, errors.New("[NewChannel] url is required")
	}

	c := &Channel{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		delay:        defaultReconnectDelay,
		pingInterval: defaultPingInterval,
		readTimeout:  defaultReadTimeout,
		log:          zerolog.Nop(),
		subs:         make(map[MessageType][]subscription),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Subscribe registers a handler for one message type and returns its
// unsubscribe function. Handlers fire in registration order; registering the
// same function twice fires it once per registration.
func (c *Channel) Subscribe(t MessageType, fn Handler) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs[t] = append(c.subs[t], subscription{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.subs[t]
		for i, sub := range list {
			if sub.id == id {
				c.subs[t] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// OnStateChange registers a connectivity listener. Listeners run outside the
// channel lock, in registration order, on every transition.
func (c *Channel) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateFns = append(c.stateFns, fn)
}

// State returns the current connectivity state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the reason for the most recent drop, if any.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Run drives the connect loop until the context is cancelled: Closed →
// Connecting → Open → Closed(reason) → … . Reconnection attempts are
// unbounded; the channel never gives up on its own. Messages arriving while
// closed are not buffered or replayed; consumers needing a consistent
// snapshot re-fetch after reconnecting.
func (c *Channel) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if c.authorizer != nil && !c.authorizer.Authenticated() {
			c.log.Debug().Msg("not authenticated, deferring connection attempt")
			if err := c.wait(ctx); err != nil {
				return err
			}
			continue
		}

		c.setState(StateConnecting, nil)
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.log.Warn().Err(err).Str("url", c.url).Msg("connection attempt failed")
			c.setState(StateClosed, err)
			if err := c.wait(ctx); err != nil {
				return err
			}
			continue
		}

		c.log.Info().Str("url", c.url).Msg("event channel connected")
		c.setState(StateOpen, nil)

		reason := c.serve(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			c.setState(StateClosed, ctx.Err())
			return ctx.Err()
		}

		c.log.Warn().Err(reason).Msg("event channel dropped, reconnecting")
		c.setState(StateClosed, reason)
		if err := c.wait(ctx); err != nil {
			return err
		}
	}
}

// serve reads frames until the connection drops, answering keepalives and
// dispatching decoded messages in arrival order.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if string(frame) == "pong" {
			continue
		}

		msg, err := decodeMessage(frame)
		if err != nil {
			c.log.Debug().Err(err).Msg("discarding malformed frame")
			continue
		}
		c.dispatch(msg)
	}
}

// dispatch invokes the handlers registered for the message type, in
// registration order. Unknown types are dropped silently.
func (c *Channel) dispatch(msg Message) {
	if msg.Type == MessageUnknown {
		c.log.Debug().Msg("ignoring message of unknown type")
		return
	}

	c.mu.Lock()
	handlers := make([]subscription, len(c.subs[msg.Type]))
	copy(handlers, c.subs[msg.Type])
	c.mu.Unlock()

	for _, sub := range handlers {
		c.invoke(sub.fn, msg)
	}
}

// invoke isolates a single handler: a panic is logged and delivery
// continues with the next handler and the next message.
func (c *Channel) invoke(fn Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("type", msg.Type.String()).Msg("event handler panicked")
		}
	}()
	fn(msg)
}

func (c *Channel) setState(state State, reason error) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	if state == StateClosed {
		c.lastErr = reason
	} else if state == StateOpen {
		c.lastErr = nil
	}
	listeners := make([]func(State), len(c.stateFns))
	copy(listeners, c.stateFns)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}

// wait sleeps for the reconnect delay or until cancellation.
func (c *Channel) wait(ctx context.Context) error {
	timer := time.NewTimer(c.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
