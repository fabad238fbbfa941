// Package helploop provides a Go client for the HelpLoop support-messaging
// gateway. It owns a single WebSocket connection, multiplexes logical topics
// over it, and exposes typed helpers for chat sessions, complaint tickets,
// and account-status events.
package helploop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/HelpLoop/helploop-go-sdk/wire"
)

// ErrNotConnected is returned by Send and Subscribe while the connection is
// down. Nothing is queued silently; callers decide whether to retry once the
// state turns Connected again.
var ErrNotConnected = errors.New("helploop: not connected")

var errHeartbeat = errors.New("helploop: heartbeat timed out")

// ConnState is the connection lifecycle state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

// String returns a printable state name.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ConnInfo is a snapshot of connection health, broadcast on every
// transition. Unavailable means the configured retry budget is exhausted;
// the client still retries forever at the backoff cap, but the UI should
// stop pretending the next attempt will succeed.
type ConnInfo struct {
	State       ConnState
	RetryCount  int
	Unavailable bool
	LastError   error
}

// outMsg is one outbound WebSocket message.
type outMsg struct {
	op   ws.OpCode
	data []byte
}

// connSession pins the goroutines of one physical connection to that
// connection, so a stale read loop can never tear down its successor.
type connSession struct {
	conn net.Conn
	quit chan struct{}
}

// Client owns the one physical connection. Every other component interacts
// with the transport only through Subscribe and Send.
type Client struct {
	cfg Config

	mu          sync.Mutex
	cs          *connSession
	state       ConnState
	retryCount  int
	unavailable bool
	lastErr     error
	lastPong    time.Time
	closed      bool
	listeners   []func(ConnInfo)

	done   chan struct{}
	sendCh chan outMsg
	subs   *registry
	reconn *reconnector
}

// New creates a client. Call Connect to establish the connection.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:    cfg,
		done:   make(chan struct{}),
		sendCh: make(chan outMsg, 256),
		subs:   newRegistry(),
		reconn: newReconnector(cfg.BackoffBase, cfg.BackoffCap),
	}
}

// Connect performs the transport handshake. On failure it returns the error
// and schedules a backoff retry; the caller observes recovery through
// OnStateChange rather than by calling Connect again.
func (c *Client) Connect(ctx context.Context) error {
	c.setConnecting()
	conn, err := c.dial(ctx)
	if err != nil {
		c.connectFailed(err)
		return err
	}
	c.established(conn)
	return nil
}

// Close tears the connection down and stops all retries.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cs := c.cs
	c.cs = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	close(c.done)
	c.reconn.stop()
	if cs != nil {
		close(cs.quit)
		cs.conn.Close()
	}
	c.notify()
	return nil
}

// State returns a snapshot of connection health.
func (c *Client) State() ConnInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnInfo{
		State:       c.state,
		RetryCount:  c.retryCount,
		Unavailable: c.unavailable,
		LastError:   c.lastErr,
	}
}

// OnStateChange registers a listener for connection-state transitions.
// Listeners run outside the client lock and must not block for long.
func (c *Client) OnStateChange(cb func(ConnInfo)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, cb)
	c.mu.Unlock()
}

// Send publishes a payload to a topic, fire-and-forget. It fails fast with
// ErrNotConnected while the connection is down.
func (c *Client) Send(topic string, payload []byte) error {
	if !c.connected() {
		return ErrNotConnected
	}
	env := wire.Envelope{Op: wire.OpPublish, Topic: topic, Payload: wrapPayload(payload)}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return c.enqueue(outMsg{op: ws.OpText, data: data})
}

// Subscribe registers a handler for a topic. Owner names the logical
// consumer: subscribing again with the same (topic, owner) is idempotent and
// returns the existing handle, so one handler is never fed the same frame
// twice. Returns ErrNotConnected while disconnected; the caller retries
// when the state turns Connected.
func (c *Client) Subscribe(topic, owner string, h Handler) (*Subscription, error) {
	if !c.connected() {
		return nil, ErrNotConnected
	}
	sub, first, existing := c.subs.add(topic, owner, h)
	if existing {
		return sub, nil
	}
	if first {
		if err := c.sendOp(wire.OpSubscribe, topic); err != nil {
			c.subs.remove(sub)
			return nil, err
		}
	}
	return sub, nil
}

// Unsubscribe releases a handle. The server-side subscription is dropped
// when the last handle on the topic goes away. Frames already read before
// the unsubscribe takes effect are still delivered (at-least-once).
func (c *Client) Unsubscribe(sub *Subscription) {
	if c.subs.remove(sub) {
		// Best effort: the connection may be down, in which case the
		// topic simply won't be re-issued on reconnect.
		_ = c.sendOp(wire.OpUnsubscribe, sub.topic)
	}
}

// --- Connection internals ---

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := ws.Dialer{}
	if c.cfg.Token != "" {
		d.Header = ws.HandshakeHeaderHTTP(http.Header{
			"Authorization": []string{"Bearer " + c.cfg.Token},
		})
	}
	conn, _, _, err := d.Dial(ctx, c.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

func (c *Client) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

func (c *Client) setConnecting() {
	c.mu.Lock()
	c.state = StateConnecting
	c.mu.Unlock()
	c.notify()
}

func (c *Client) established(conn net.Conn) {
	cs := &connSession{conn: conn, quit: make(chan struct{})}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.cs = cs
	c.state = StateConnected
	c.retryCount = 0
	c.unavailable = false
	c.lastErr = nil
	c.lastPong = time.Now()
	c.mu.Unlock()

	c.reconn.reset()
	c.notify()
	slog.Info("connected to gateway", "endpoint", c.cfg.Endpoint)

	go c.readLoop(cs)
	go c.writeLoop(cs)
	go c.heartbeat(cs)

	c.resubscribeAll()
}

func (c *Client) connectFailed(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.lastErr = err
	c.retryCount++
	c.unavailable = c.retryCount > c.cfg.MaxRetries
	retry := c.retryCount
	c.mu.Unlock()

	c.notify()
	delay := c.reconn.schedule(c.redial)
	slog.Warn("connect failed, retrying", "error", err, "attempt", retry, "delay", delay)
}

// dropConnection handles a dead connection discovered by any of its
// goroutines. Only the first caller for a given connSession wins.
func (c *Client) dropConnection(cs *connSession, err error) {
	c.mu.Lock()
	if c.cs != cs || c.closed {
		c.mu.Unlock()
		return
	}
	c.cs = nil
	c.state = StateDisconnected
	c.lastErr = err
	c.mu.Unlock()

	close(cs.quit)
	cs.conn.Close()
	c.notify()

	delay := c.reconn.schedule(c.redial)
	slog.Warn("connection lost, reconnecting", "error", err, "delay", delay)
}

func (c *Client) redial() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.setConnecting()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := c.dial(ctx)
	if err != nil {
		c.connectFailed(err)
		return
	}
	c.established(conn)
}

func (c *Client) resubscribeAll() {
	for _, topic := range c.subs.activeTopics() {
		if err := c.sendOp(wire.OpSubscribe, topic); err != nil {
			slog.Warn("resubscribe failed", "topic", topic, "error", err)
		}
	}
}

func (c *Client) sendOp(op, topic string) error {
	data, err := json.Marshal(wire.Envelope{Op: op, Topic: topic})
	if err != nil {
		return err
	}
	return c.enqueue(outMsg{op: ws.OpText, data: data})
}

func (c *Client) enqueue(m outMsg) error {
	select {
	case c.sendCh <- m:
		return nil
	case <-c.done:
		return ErrNotConnected
	}
}

func (c *Client) notify() {
	c.mu.Lock()
	info := ConnInfo{
		State:       c.state,
		RetryCount:  c.retryCount,
		Unavailable: c.unavailable,
		LastError:   c.lastErr,
	}
	listeners := append(([]func(ConnInfo))(nil), c.listeners...)
	c.mu.Unlock()

	for _, cb := range listeners {
		cb(info)
	}
}

func (c *Client) notePong() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}

// --- Loops ---

// readLoop is the single inbound consumer: it drains frames from the
// connection and dispatches them synchronously to per-topic handlers, so
// per-topic ordering is exactly transport delivery order.
func (c *Client) readLoop(cs *connSession) {
	ctrl := wsutil.ControlFrameHandler(cs.conn, ws.StateClientSide)
	rd := wsutil.Reader{
		Source:         cs.conn,
		State:          ws.StateClientSide,
		OnIntermediate: ctrl,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			c.dropConnection(cs, err)
			return
		}
		if hdr.OpCode.IsControl() {
			if hdr.OpCode == ws.OpPong {
				c.notePong()
			}
			if err := ctrl(hdr, &rd); err != nil {
				c.dropConnection(cs, err)
				return
			}
			continue
		}

		data, err := io.ReadAll(&rd)
		if err != nil {
			c.dropConnection(cs, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Topic == "" {
		slog.Debug("undeliverable payload", "error", err)
		return
	}
	c.subs.dispatch(env.Topic, unwrapPayload(env.Payload))
}

func (c *Client) writeLoop(cs *connSession) {
	for {
		select {
		case m := <-c.sendCh:
			if err := wsutil.WriteClientMessage(cs.conn, m.op, m.data); err != nil {
				slog.Warn("write error", "error", err)
				c.dropConnection(cs, err)
				return
			}
		case <-cs.quit:
			return
		case <-c.done:
			return
		}
	}
}

func (c *Client) heartbeat(cs *connSession) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			silent := time.Since(c.lastPong)
			c.mu.Unlock()
			if silent > time.Duration(c.cfg.MissedPongLimit+1)*c.cfg.HeartbeatInterval {
				c.dropConnection(cs, errHeartbeat)
				return
			}
			select {
			case c.sendCh <- outMsg{op: ws.OpPing}:
			default:
				// Writer is saturated; the pong gap check above will
				// eventually force the reconnect.
			}
		case <-cs.quit:
			return
		case <-c.done:
			return
		}
	}
}

// --- Payload helpers ---

// wrapPayload embeds payload in the envelope: valid JSON rides as-is,
// opaque text is carried as a JSON string.
func wrapPayload(payload []byte) json.RawMessage {
	if len(payload) == 0 {
		return nil
	}
	if json.Valid(payload) {
		return json.RawMessage(payload)
	}
	quoted, _ := json.Marshal(string(payload))
	return quoted
}

// unwrapPayload is the inverse: a JSON string payload is unquoted back to
// its raw text, everything else passes through for the frame decoder.
func unwrapPayload(raw json.RawMessage) []byte {
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case ' ', '\t', '\r', '\n':
			continue
		case '"':
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				return []byte(s)
			}
			return raw
		default:
			return raw
		}
	}
	return raw
}
