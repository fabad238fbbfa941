package helploop

import "sync"

// Handler consumes the raw payload of every message delivered on a
// subscribed topic, in transport delivery order. Handlers run on the
// client's read loop and must not block; slow work belongs on a separate
// goroutine.
type Handler func(payload []byte)

// Subscription is a live handle on a topic. One logical owner holds at most
// one handle per topic; the registry hands the existing handle back on a
// repeat subscribe instead of creating a second server-side subscription.
type Subscription struct {
	topic   string
	owner   string
	handler Handler
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// registry tracks live handles per topic with reference counting so several
// logical owners of the same topic compose over one server-side
// subscription. Safe to use from outside the read loop; changes take effect
// before the next dispatched frame.
type registry struct {
	mu     sync.Mutex
	topics map[string][]*Subscription
}

func newRegistry() *registry {
	return &registry{topics: make(map[string][]*Subscription)}
}

// add registers a handle. It returns the handle, whether this is the first
// handle on the topic (the server-side subscribe must be issued), and
// whether an existing handle for the same (topic, owner) was returned
// instead of a new one.
func (r *registry) add(topic, owner string, h Handler) (sub *Subscription, first, existing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.topics[topic]
	for _, s := range subs {
		if s.owner == owner {
			return s, false, true
		}
	}

	sub = &Subscription{topic: topic, owner: owner, handler: h}
	r.topics[topic] = append(subs, sub)
	return sub, len(subs) == 0, false
}

// remove drops a handle and reports whether it was the last one on its
// topic (the server-side unsubscribe should be issued).
func (r *registry) remove(sub *Subscription) (last bool) {
	if sub == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.topics[sub.topic]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(r.topics, sub.topic)
		return true
	}
	r.topics[sub.topic] = subs
	return false
}

// dispatch delivers a payload to every live handle on the topic,
// synchronously and in registration order.
func (r *registry) dispatch(topic string, payload []byte) {
	r.mu.Lock()
	subs := append([]*Subscription(nil), r.topics[topic]...)
	r.mu.Unlock()

	for _, s := range subs {
		s.handler(payload)
	}
}

// activeTopics snapshots every topic with at least one live handle. Used to
// re-issue subscribes after a reconnect.
func (r *registry) activeTopics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.topics))
	for topic := range r.topics {
		out = append(out, topic)
	}
	return out
}
