package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// fakeAPI counts calls and lets tests script failures.
type fakeAPI struct {
	mu sync.Mutex

	nextSession int
	created     []string
	posted      []string
	greetings   int
	handovers   int
	closes      int
	ratings     []int

	postErr error // consumed by the next PostUserMessage
	history []Message
}

func (f *fakeAPI) CreateSession(ctx context.Context, language string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSession++
	id := fmt.Sprintf("sess-%d", f.nextSession)
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeAPI) PostUserMessage(ctx context.Context, sessionID, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		err := f.postErr
		f.postErr = nil
		return "", err
	}
	f.posted = append(f.posted, content)
	return fmt.Sprintf("srv-%d", len(f.posted)), nil
}

func (f *fakeAPI) FetchHistory(ctx context.Context, sessionID string) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

func (f *fakeAPI) PostGreeting(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.greetings++
	return nil
}

func (f *fakeAPI) Handover(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handovers++
	return nil
}

func (f *fakeAPI) CloseSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeAPI) Rate(ctx context.Context, sessionID string, rating int, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratings = append(f.ratings, rating)
	return nil
}

// fakeTransport records subscriptions and lets tests push payloads through
// the registered handler.
type fakeTransport struct {
	mu       sync.Mutex
	topics   []string
	handlers map[string]func([]byte)
	cancels  int
	failNext error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]func([]byte))}
}

func (f *fakeTransport) subscribe(topic string, h func([]byte)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	f.topics = append(f.topics, topic)
	f.handlers[topic] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cancels++
		delete(f.handlers, topic)
	}, nil
}

func (f *fakeTransport) deliver(t *testing.T, topic string, payload string) {
	t.Helper()
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h == nil {
		t.Fatalf("no handler on %q", topic)
	}
	h([]byte(payload))
}

func chatTopic(id string) string { return "/topic/chat/" + id }

func newTestController(api *fakeAPI, tr *fakeTransport, hooks Hooks) *Controller {
	return NewController(api, tr.subscribe, Options{
		Language: "en",
		Identity: Identity{UserID: "u1", DisplayName: "Pat"},
		Topic:    chatTopic,
		Hooks:    hooks,
	})
}

func TestStartCreatesAndSubscribes(t *testing.T) {
	api := &fakeAPI{}
	tr := newFakeTransport()
	c := newTestController(api, tr, Hooks{})

	sess, err := c.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sess.ID() != "sess-1" || sess.Status() != BotActive {
		t.Fatalf("session = %s/%v", sess.ID(), sess.Status())
	}
	if len(tr.topics) != 1 || tr.topics[0] != "/topic/chat/sess-1" {
		t.Fatalf("subscribed topics = %v", tr.topics)
	}

	// A second Start reuses the open session.
	again, err := c.Start(context.Background())
	if err != nil || again != sess {
		t.Fatalf("second Start: sess=%v err=%v", again, err)
	}
	if len(api.created) != 1 {
		t.Fatalf("created %d sessions, want 1", len(api.created))
	}
}

func TestSendMessageBackfillsServerID(t *testing.T) {
	api := &fakeAPI{}
	tr := newFakeTransport()
	c := newTestController(api, tr, Hooks{})

	if err := c.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}

	msgs := c.Session().Messages()
	if len(msgs) != 1 {
		t.Fatalf("log has %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Sender != SenderUser || m.Content != "hello" || m.SenderName != "Pat" {
		t.Fatalf("message = %+v", m)
	}
	if m.ServerMessageID != "srv-1" {
		t.Fatalf("server id = %q, want srv-1", m.ServerMessageID)
	}
}

func TestSendMessageRollsOverStaleSession(t *testing.T) {
	api := &fakeAPI{}
	tr := newFakeTransport()
	c := newTestController(api, tr, Hooks{})

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	api.postErr = ErrSessionNotFound

	if err := c.SendMessage(context.Background(), "still there?"); err != nil {
		t.Fatal(err)
	}

	sess := c.Session()
	if sess.ID() != "sess-2" {
		t.Fatalf("active session = %s, want sess-2", sess.ID())
	}
	msgs := sess.Messages()
	if len(msgs) != 1 || msgs[0].Content != "still there?" {
		t.Fatalf("rolled-over log = %+v", msgs)
	}
	if msgs[0].ServerMessageID == "" {
		t.Fatal("resubmitted message was not acknowledged")
	}
	if len(tr.topics) != 2 || tr.topics[1] != "/topic/chat/sess-2" {
		t.Fatalf("topics = %v", tr.topics)
	}
	if tr.cancels != 1 {
		t.Fatalf("stale subscription cancels = %d, want 1", tr.cancels)
	}
}

func TestStreamingFramesEmitFinalMessage(t *testing.T) {
	api := &fakeAPI{}
	tr := newFakeTransport()

	var gotTyping []bool
	var final Message
	c := newTestController(api, tr, Hooks{
		OnTyping:  func(_ string, v bool) { gotTyping = append(gotTyping, v) },
		OnMessage: func(_ string, m Message) { final = m },
	})
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	topic := "/topic/chat/sess-1"
	tr.deliver(t, topic, `{"type":"start"}`)
	tr.deliver(t, topic, `{"type":"delta","delta":"Hel"}`)
	tr.deliver(t, topic, `{"type":"delta","delta":"lo"}`)
	tr.deliver(t, topic, `{"type":"end"}`)

	if len(gotTyping) != 2 || !gotTyping[0] || gotTyping[1] {
		t.Fatalf("typing transitions = %v", gotTyping)
	}
	if final.Sender != SenderBot || final.Content != "Hello" {
		t.Fatalf("final message = %+v", final)
	}
}

func TestAgentFrameHandsOver(t *testing.T) {
	api := &fakeAPI{}
	tr := newFakeTransport()

	var statuses []Status
	c := newTestController(api, tr, Hooks{
		OnStatus: func(_ string, st Status) { statuses = append(statuses, st) },
	})
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	tr.deliver(t, "/topic/chat/sess-1", `{"type":"agent","content":"Hi, agent here","messageId":"a1","senderName":"Sam"}`)

	if st := c.Session().Status(); st != HandedOver {
		t.Fatalf("status = %v, want HandedOver", st)
	}
	last, _ := c.Session().LastMessage()
	if last.Sender != SenderAgent || last.SenderName != "Sam" {
		t.Fatalf("agent message = %+v", last)
	}
	if len(statuses) != 2 || statuses[1] != HandedOver {
		t.Fatalf("status emissions = %v", statuses)
	}
}

func TestRequestHandover(t *testing.T) {
	api := &fakeAPI{}
	tr := newFakeTransport()
	c := newTestController(api, tr, Hooks{})

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.RequestHandover(context.Background()); err != nil {
		t.Fatal(err)
	}
	if api.handovers != 1 || c.Session().Status() != HandedOver {
		t.Fatalf("handovers=%d status=%v", api.handovers, c.Session().Status())
	}
}

func TestClosedFramePromptsRating(t *testing.T) {
	api := &fakeAPI{}
	tr := newFakeTransport()

	prompts := 0
	c := newTestController(api, tr, Hooks{
		OnRatingPrompt: func(string) { prompts++ },
	})
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	tr.deliver(t, "/topic/chat/sess-1", `{"type":"closed"}`)

	if c.Session().Status() != Closed {
		t.Fatalf("status = %v, want Closed", c.Session().Status())
	}
	if prompts != 1 {
		t.Fatalf("rating prompts = %d, want 1", prompts)
	}
	if tr.cancels != 1 {
		t.Fatalf("cancels = %d, want 1", tr.cancels)
	}

	// Terminal: a late agent frame must not reopen the session.
	if err := c.RequestHandover(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("handover on closed session: %v", err)
	}
}

func TestRateValidation(t *testing.T) {
	api := &fakeAPI{}
	tr := newFakeTransport()
	c := newTestController(api, tr, Hooks{})
	ctx := context.Background()

	if err := c.Rate(ctx, 5, ""); !errors.Is(err, ErrNothingToRate) {
		t.Fatalf("rate before close: %v", err)
	}

	if _, err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(ctx); err != nil {
		t.Fatal(err)
	}

	if err := c.Rate(ctx, 0, ""); err != nil {
		t.Fatalf("skip rating: %v", err)
	}
	if err := c.Rate(ctx, 6, ""); !errors.Is(err, ErrInvalidRating) {
		t.Fatalf("out-of-range rating: %v", err)
	}
	if len(api.ratings) != 0 {
		t.Fatalf("ratings submitted = %v, want none", api.ratings)
	}

	if err := c.Rate(ctx, 4, "helpful"); err != nil {
		t.Fatal(err)
	}
	if len(api.ratings) != 1 || api.ratings[0] != 4 {
		t.Fatalf("ratings = %v", api.ratings)
	}
}

func TestResumeHydratesHistory(t *testing.T) {
	api := &fakeAPI{history: []Message{
		{Sender: SenderUser, Content: "old question", ServerMessageID: "h1"},
		{Sender: SenderBot, Content: "old answer", ServerMessageID: "h2"},
	}}
	tr := newFakeTransport()
	c := newTestController(api, tr, Hooks{})

	sess, err := c.Resume(context.Background(), "sess-77")
	if err != nil {
		t.Fatal(err)
	}
	msgs := sess.Messages()
	if len(msgs) != 2 || msgs[0].Content != "old question" {
		t.Fatalf("hydrated log = %+v", msgs)
	}
	if len(tr.topics) != 1 || tr.topics[0] != "/topic/chat/sess-77" {
		t.Fatalf("topics = %v", tr.topics)
	}

	// Redelivered history must not duplicate.
	tr.deliver(t, "/topic/chat/sess-77", `{"type":"user","content":"old question","messageId":"h1"}`)
	if got := len(sess.Messages()); got != 2 {
		t.Fatalf("log has %d messages after redelivery, want 2", got)
	}
}

func TestEnsureSubscribedRetriesAfterFailure(t *testing.T) {
	api := &fakeAPI{}
	tr := newFakeTransport()
	tr.failNext = errors.New("not connected")
	c := newTestController(api, tr, Hooks{})

	// Start succeeds even though the subscribe is deferred.
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(tr.topics) != 0 {
		t.Fatalf("topics = %v, want none yet", tr.topics)
	}

	if err := c.EnsureSubscribed(); err != nil {
		t.Fatal(err)
	}
	if len(tr.topics) != 1 {
		t.Fatalf("topics = %v, want one", tr.topics)
	}

	// Already subscribed: a second call must not double-subscribe.
	if err := c.EnsureSubscribed(); err != nil {
		t.Fatal(err)
	}
	if len(tr.topics) != 1 {
		t.Fatalf("topics = %v after repeat", tr.topics)
	}
}

func TestRawTextDeliveredAsBotMessage(t *testing.T) {
	api := &fakeAPI{}
	tr := newFakeTransport()

	var got []Message
	c := newTestController(api, tr, Hooks{
		OnMessage: func(_ string, m Message) { got = append(got, m) },
	})
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	tr.deliver(t, "/topic/chat/sess-1", "plain banner text")
	tr.deliver(t, "/topic/chat/sess-1", "plain banner text")

	if len(got) != 1 || got[0].Sender != SenderBot || got[0].Content != "plain banner text" {
		t.Fatalf("delivered = %+v", got)
	}
}
