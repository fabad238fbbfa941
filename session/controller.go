package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/HelpLoop/helploop-go-sdk/frame"
)

// API is the collaborator REST surface the controller drives. The SDK's
// APIClient satisfies it; tests substitute fakes.
type API interface {
	CreateSession(ctx context.Context, language string) (sessionID string, err error)
	PostUserMessage(ctx context.Context, sessionID, content string) (serverMessageID string, err error)
	FetchHistory(ctx context.Context, sessionID string) ([]Message, error)
	PostGreeting(ctx context.Context, sessionID string) error
	Handover(ctx context.Context, sessionID string) error
	CloseSession(ctx context.Context, sessionID string) error
	Rate(ctx context.Context, sessionID string, rating int, note string) error
}

// SubscribeFunc subscribes a raw payload handler to a topic and returns a
// cancel function. It fails with the transport's not-connected error while
// the connection is down; the controller retries via EnsureSubscribed once
// the state turns Connected.
type SubscribeFunc func(topic string, h func(payload []byte)) (cancel func(), err error)

// TopicFunc maps a session id to its pub/sub topic. Chat and complaint
// conversations differ only here.
type TopicFunc func(sessionID string) string

// Identity names the local user. It is injected at construction; the
// controller never reads identity from ambient state.
type Identity struct {
	UserID      string
	DisplayName string
}

// Hooks are the controller's only outward surface: deliver a decoded event,
// report session state. All hooks are optional and run on the read loop, so
// they must be quick.
type Hooks struct {
	OnMessage      func(sessionID string, m Message) // new message, or streamed content update
	OnTyping       func(sessionID string, typing bool)
	OnStatus       func(sessionID string, st Status)
	OnRatingPrompt func(sessionID string)
}

// Options configures a Controller.
type Options struct {
	Language string
	Identity Identity
	Greeting bool // request a bot greeting on session creation
	Topic    TopicFunc
	Hooks    Hooks
}

// Controller owns the session lifecycle: creation, user sends with
// session-not-found rollover, handover to a human agent, closure and rating
// capture. One controller drives one conversation at a time.
type Controller struct {
	api       API
	subscribe SubscribeFunc
	opts      Options

	mu         sync.Mutex
	sess       *Session
	cancelSub  func()
	lastClosed string
}

// NewController wires a controller to its collaborator API and transport
// subscription path.
func NewController(api API, subscribe SubscribeFunc, opts Options) *Controller {
	if opts.Topic == nil {
		panic("session: Options.Topic is required")
	}
	return &Controller{api: api, subscribe: subscribe, opts: opts}
}

// Session returns the active session, or nil when none is open.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Start opens a conversation: requests a session id, subscribes to its
// topic and optionally triggers the greeting. Reuses the current session if
// one is still open.
func (c *Controller) Start(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess != nil && sess.Status() != Closed {
		return sess, nil
	}
	return c.startNew(ctx, true)
}

// Resume attaches to an existing session: fetches its history, hydrates the
// log and subscribes to the topic. Used after app restarts and for staff
// attaching to complaint cases.
func (c *Controller) Resume(ctx context.Context, sessionID string) (*Session, error) {
	history, err := c.api.FetchHistory(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	sess := New(sessionID, c.opts.Language)
	sess.hydrate(history)

	c.mu.Lock()
	if c.cancelSub != nil {
		c.cancelSub()
		c.cancelSub = nil
	}
	c.sess = sess
	c.mu.Unlock()

	if err := c.EnsureSubscribed(); err != nil {
		slog.Warn("subscribe deferred until reconnect", "sessionId", sessionID, "error", err)
	}
	c.emitStatus(sess)
	return sess, nil
}

// SendMessage appends the user's text optimistically, submits it to the
// collaborator API and backfills the server message id on success. A stale
// session (server says not found, or closed under us) rolls over to a fresh
// one; the user's text is never dropped.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	sess, err := c.activeOrNew(ctx)
	if err != nil {
		return err
	}

	local := sess.append(Message{
		Sender:     SenderUser,
		Content:    text,
		SenderName: c.opts.Identity.DisplayName,
	})
	c.emitMessage(sess, local)

	serverID, err := c.api.PostUserMessage(ctx, sess.ID(), text)
	if err == nil {
		sess.backfillServerID(local.ID, serverID)
		return nil
	}
	if errors.Is(err, ErrSessionNotFound) {
		return c.rollover(ctx, sess)
	}
	return err
}

// RequestHandover asks for a human agent and moves the session to
// HandedOver.
func (c *Controller) RequestHandover(ctx context.Context) error {
	sess := c.Session()
	if sess == nil || sess.Status() == Closed {
		return ErrSessionClosed
	}
	if err := c.api.Handover(ctx, sess.ID()); err != nil {
		return err
	}
	if sess.handover() {
		c.emitStatus(sess)
	}
	return nil
}

// Close ends the conversation from this side. The session is closed locally
// even when the API call fails, so the rating prompt and reset still work
// offline; the error is returned for the caller's retry affordance.
func (c *Controller) Close(ctx context.Context) error {
	sess := c.Session()
	if sess == nil || sess.Status() == Closed {
		return ErrSessionClosed
	}
	err := c.api.CloseSession(ctx, sess.ID())
	c.closeLocal(sess)
	return err
}

// Rate submits a rating for the most recently closed session. Rating 0
// means the user skipped; not an error, and nothing is submitted.
func (c *Controller) Rate(ctx context.Context, rating int, note string) error {
	c.mu.Lock()
	id := c.lastClosed
	sess := c.sess
	c.mu.Unlock()

	if id == "" {
		return ErrNothingToRate
	}
	if rating == 0 {
		return nil
	}
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	if err := c.api.Rate(ctx, id, rating, note); err != nil {
		return err
	}
	if sess != nil && sess.ID() == id {
		sess.setRating(rating, note)
	}
	return nil
}

// Reset clears local session state so the host can offer a new
// conversation. The closed session's id stays valid for Rate.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.cancelSub != nil {
		c.cancelSub()
		c.cancelSub = nil
	}
	c.sess = nil
	c.mu.Unlock()
}

// EnsureSubscribed re-issues the topic subscription for the active session.
// Call on every transition to Connected; it is a no-op when already
// subscribed or when no session is open.
func (c *Controller) EnsureSubscribed() error {
	c.mu.Lock()
	sess := c.sess
	already := c.cancelSub != nil
	c.mu.Unlock()

	if sess == nil || sess.Status() == Closed || already {
		return nil
	}

	cancel, err := c.subscribe(c.opts.Topic(sess.ID()), func(payload []byte) {
		c.handlePayload(sess, payload)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.cancelSub = cancel
	c.mu.Unlock()
	return nil
}

// --- Internals ---

func (c *Controller) startNew(ctx context.Context, greet bool) (*Session, error) {
	id, err := c.api.CreateSession(ctx, c.opts.Language)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	sess := New(id, c.opts.Language)

	c.mu.Lock()
	if c.cancelSub != nil {
		c.cancelSub()
		c.cancelSub = nil
	}
	c.sess = sess
	c.mu.Unlock()

	if err := c.EnsureSubscribed(); err != nil {
		slog.Warn("subscribe deferred until reconnect", "sessionId", id, "error", err)
	}
	c.emitStatus(sess)

	if greet && c.opts.Greeting {
		if err := c.api.PostGreeting(ctx, id); err != nil {
			slog.Warn("greeting failed", "sessionId", id, "error", err)
		}
	}
	return sess, nil
}

func (c *Controller) activeOrNew(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess != nil && sess.Status() != Closed {
		return sess, nil
	}
	return c.startNew(ctx, false)
}

// rollover replaces a stale session, carrying unacknowledged user messages
// into the new one and resubmitting them.
func (c *Controller) rollover(ctx context.Context, stale *Session) error {
	pending := stale.unacknowledged()
	slog.Info("session expired, rolling over", "sessionId", stale.ID(), "pending", len(pending))

	c.mu.Lock()
	if c.cancelSub != nil {
		c.cancelSub()
		c.cancelSub = nil
	}
	if c.sess == stale {
		c.sess = nil
	}
	c.mu.Unlock()
	stale.close()

	fresh, err := c.startNew(ctx, false)
	if err != nil {
		return err
	}

	for _, m := range pending {
		local := fresh.append(Message{
			Sender:     SenderUser,
			Content:    m.Content,
			SenderName: m.SenderName,
			Timestamp:  m.Timestamp,
		})
		c.emitMessage(fresh, local)

		serverID, err := c.api.PostUserMessage(ctx, fresh.ID(), m.Content)
		if err != nil {
			return fmt.Errorf("resubmit after rollover: %w", err)
		}
		fresh.backfillServerID(local.ID, serverID)
	}
	return nil
}

func (c *Controller) closeLocal(sess *Session) {
	c.mu.Lock()
	if c.sess == sess && c.cancelSub != nil {
		c.cancelSub()
		c.cancelSub = nil
	}
	c.mu.Unlock()

	if !sess.close() {
		return
	}
	c.mu.Lock()
	c.lastClosed = sess.ID()
	c.mu.Unlock()

	c.emitStatus(sess)
	if h := c.opts.Hooks.OnRatingPrompt; h != nil {
		h(sess.ID())
	}
}

func (c *Controller) handlePayload(sess *Session, payload []byte) {
	c.handleFrame(sess, frame.Decode(payload))
}

func (c *Controller) handleFrame(sess *Session, f frame.Frame) {
	switch f.Kind {
	case frame.KindStart:
		if sess.ApplyStart() {
			c.emitTyping(sess, true)
			c.emitStreaming(sess)
		}
	case frame.KindDelta:
		if sess.ApplyDelta(f.Text) {
			c.emitStreaming(sess)
		}
	case frame.KindEnd:
		// Snapshot the reply before ApplyEnd forgets which entry it was.
		final, wasStreaming := sess.StreamingMessage()
		if sess.ApplyEnd() {
			c.emitTyping(sess, false)
			if wasStreaming {
				c.emitMessage(sess, final)
			}
		}
	case frame.KindUser:
		m := Message{
			Sender:          SenderUser,
			Content:         f.Content,
			SenderName:      f.SenderName,
			ServerMessageID: f.MessageID,
		}
		if stored, ok := sess.absorb(m); ok {
			c.emitMessage(sess, stored)
		}
	case frame.KindAgent:
		// The first agent message is how a remote handover becomes
		// visible on this side.
		if sess.handover() {
			c.emitStatus(sess)
		}
		m := Message{
			Sender:          SenderAgent,
			Content:         f.Content,
			SenderName:      f.SenderName,
			ServerMessageID: f.MessageID,
		}
		if stored, ok := sess.absorb(m); ok {
			c.emitMessage(sess, stored)
		}
	case frame.KindClosed:
		c.closeLocal(sess)
	case frame.KindRawText:
		if stored, ok := sess.absorbRaw(f.Text); ok {
			c.emitMessage(sess, stored)
		}
	default:
		// KindUnknown: absorbed silently.
	}
}

func (c *Controller) emitMessage(sess *Session, m Message) {
	if h := c.opts.Hooks.OnMessage; h != nil {
		h(sess.ID(), m)
	}
}

func (c *Controller) emitStreaming(sess *Session) {
	if m, ok := sess.StreamingMessage(); ok {
		c.emitMessage(sess, m)
	}
}

func (c *Controller) emitTyping(sess *Session, typing bool) {
	if h := c.opts.Hooks.OnTyping; h != nil {
		h(sess.ID(), typing)
	}
}

func (c *Controller) emitStatus(sess *Session) {
	if h := c.opts.Hooks.OnStatus; h != nil {
		h(sess.ID(), sess.Status())
	}
}
