// Package presence delivers account-status events: out-of-band
// activate/deactivate notifications that are independent of chat framing.
// It shares the one transport connection but parses its own payloads.
package presence

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/HelpLoop/helploop-go-sdk/wire"
)

// EventType classifies an account-status event.
type EventType int

const (
	Activated EventType = iota
	Deactivated
)

// String returns a printable event name.
func (t EventType) String() string {
	if t == Deactivated {
		return "deactivated"
	}
	return "activated"
}

// Event is a transient account-status notification. Consumed once, never
// persisted.
type Event struct {
	Type      EventType
	UserID    string
	Reason    string
	Timestamp time.Time
}

// SubscribeFunc subscribes a raw payload handler to a topic and returns a
// cancel function.
type SubscribeFunc func(topic string, h func(payload []byte)) (cancel func(), err error)

// Hooks receive delivered events. OnDeactivated is where the host shows its
// blocking notice and forces logout; the broadcaster itself clears no
// credentials. OnActivated is informational.
type Hooks struct {
	OnActivated   func(Event)
	OnDeactivated func(Event)
}

// Broadcaster listens on the per-user account-status topic and the general
// broadcast topic at the same time. Broadcast events are filtered by
// comparing the embedded user id against the local one loosely: backends
// disagree on whether the id is a number or a string, and both must match.
type Broadcaster struct {
	userID    string
	subscribe SubscribeFunc
	hooks     Hooks

	mu      sync.Mutex
	cancels []func()
}

// NewBroadcaster creates a broadcaster for the given local user id.
func NewBroadcaster(userID string, subscribe SubscribeFunc, hooks Hooks) *Broadcaster {
	return &Broadcaster{userID: userID, subscribe: subscribe, hooks: hooks}
}

// UserTopic returns the per-user account-status topic.
func UserTopic(userID string) string {
	return "/topic/user/" + userID + "/account-status"
}

// BroadcastTopic is the shared account-status topic.
const BroadcastTopic = "/topic/account-status"

// Start subscribes to both topics. On a partial failure the successful
// subscription is rolled back so Start can simply be retried once the
// connection is up.
func (b *Broadcaster) Start() error {
	cancelUser, err := b.subscribe(UserTopic(b.userID), func(p []byte) { b.handle(p, false) })
	if err != nil {
		return err
	}
	cancelAll, err := b.subscribe(BroadcastTopic, func(p []byte) { b.handle(p, true) })
	if err != nil {
		cancelUser()
		return err
	}

	b.mu.Lock()
	b.cancels = append(b.cancels, cancelUser, cancelAll)
	b.mu.Unlock()
	return nil
}

// Stop cancels both subscriptions.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	cancels := b.cancels
	b.cancels = nil
	b.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (b *Broadcaster) handle(payload []byte, filter bool) {
	var ev wire.AccountStatusEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		slog.Debug("unreadable account-status payload", "error", err)
		return
	}

	eventUserID := normalizeID(ev.UserID)
	if filter && !looseEqualIDs(eventUserID, b.userID) {
		return
	}

	out := Event{
		UserID: eventUserID,
		Reason: ev.Reason,
	}
	if ts, err := time.Parse(time.RFC3339, ev.Timestamp); err == nil {
		out.Timestamp = ts
	}

	switch ev.Type {
	case "ACCOUNT_DEACTIVATED":
		out.Type = Deactivated
		if h := b.hooks.OnDeactivated; h != nil {
			h(out)
		}
	case "ACCOUNT_ACTIVATED":
		out.Type = Activated
		if h := b.hooks.OnActivated; h != nil {
			h(out)
		}
	default:
		// Unrecognised event types are absorbed silently.
	}
}

// normalizeID renders a raw JSON user id (number or string) as its text
// form.
func normalizeID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// looseEqualIDs matches ids the way the backends do: numerically when both
// sides parse as integers (so 42 matches "42"), by string otherwise.
func looseEqualIDs(a, b string) bool {
	if a == b {
		return true
	}
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	return errA == nil && errB == nil && ai == bi
}
