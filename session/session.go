// Package session drives a support conversation through its lifecycle:
// served by the bot, handed over to a human agent, closed and rated. It
// reconstructs incrementally streamed bot replies and keeps the ordered
// message log free of echoes and redelivered frames.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound marks a server-side session that expired or never
	// existed. The controller recovers by rolling the conversation over to
	// a fresh session without dropping user text.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrSessionClosed is returned for writes against a closed session.
	ErrSessionClosed = errors.New("session: closed")

	// ErrInvalidRating is returned for ratings outside 0..5.
	ErrInvalidRating = errors.New("session: rating must be between 1 and 5, or 0 to skip")

	// ErrNothingToRate is returned when no session has been closed yet.
	ErrNothingToRate = errors.New("session: no closed session to rate")
)

// Status is the session lifecycle state. Closed is terminal: a new
// conversation requires a new session id.
type Status int

const (
	Unstarted Status = iota
	BotActive
	HandedOver
	Closed
)

// String returns a printable status name.
func (s Status) String() string {
	switch s {
	case BotActive:
		return "bot-active"
	case HandedOver:
		return "handed-over"
	case Closed:
		return "closed"
	default:
		return "unstarted"
	}
}

// Sender identifies who produced a message.
type Sender int

const (
	SenderBot Sender = iota
	SenderUser
	SenderAgent
)

// String returns a printable sender name.
func (s Sender) String() string {
	switch s {
	case SenderUser:
		return "user"
	case SenderAgent:
		return "agent"
	default:
		return "bot"
	}
}

// Message is one entry in a session's ordered log. Only the bot message
// currently being streamed mutates after creation; everything else is
// immutable once appended. ServerMessageID is empty until the gateway
// acknowledges or echoes the message.
type Message struct {
	ID              string // local id, assigned on append
	Sender          Sender
	Content         string
	Timestamp       time.Time
	SenderName      string
	ServerMessageID string
}

// Session holds one conversation: id, lifecycle status, ordered message log
// and the streaming state for the bot reply currently in flight.
type Session struct {
	mu       sync.Mutex
	id       string
	language string
	status   Status

	log []Message

	// Streaming buffer for the in-flight bot reply. accumulated only grows
	// while streaming is true; streamIdx points at the mutable bot message.
	streaming   bool
	accumulated string
	streamIdx   int

	typing bool

	rating     int
	ratingNote string
}

// New creates a session that the gateway already knows about, entering
// BotActive immediately.
func New(id, language string) *Session {
	return &Session{id: id, language: language, status: BotActive, streamIdx: -1}
}

// ID returns the server-assigned session id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Language returns the conversation language.
func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

// Status returns the lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Typing reports whether a bot reply is currently streaming.
func (s *Session) Typing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

// Messages returns a copy of the ordered message log.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.log))
	copy(out, s.log)
	return out
}

// LastMessage returns the newest log entry, if any.
func (s *Session) LastMessage() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.log) == 0 {
		return Message{}, false
	}
	return s.log[len(s.log)-1], true
}

// handover moves BotActive to HandedOver. Any other transition is a no-op;
// in particular a closed session stays closed.
func (s *Session) handover() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != BotActive {
		return false
	}
	s.status = HandedOver
	return true
}

// close enters the terminal state and discards any half-streamed reply.
func (s *Session) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == Closed {
		return false
	}
	s.status = Closed
	s.streaming = false
	s.accumulated = ""
	s.streamIdx = -1
	s.typing = false
	return true
}

// append adds a message to the log, assigning a local id and timestamp when
// missing, and returns the stored copy.
func (s *Session) append(m Message) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(m)
}

func (s *Session) appendLocked(m Message) Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	s.log = append(s.log, m)
	return m
}

// backfillServerID attaches a server-assigned id to a local message.
func (s *Session) backfillServerID(localID, serverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.log {
		if s.log[i].ID == localID {
			s.log[i].ServerMessageID = serverID
			return
		}
	}
}

// unacknowledged returns the user messages the server never acknowledged,
// oldest first. Used to carry text over into a replacement session.
func (s *Session) unacknowledged() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.log {
		if m.Sender == SenderUser && m.ServerMessageID == "" {
			out = append(out, m)
		}
	}
	return out
}

// hydrate replaces the log with fetched history. Only valid before any
// streaming started.
func (s *Session) hydrate(history []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return
	}
	s.log = append([]Message(nil), history...)
}

// setRating records the rating locally. 0 means the user skipped.
func (s *Session) setRating(rating int, note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rating = rating
	s.ratingNote = note
}

// Rating returns the recorded rating and note (0 = none/skipped).
func (s *Session) Rating() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rating, s.ratingNote
}
