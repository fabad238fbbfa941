package helploop

import (
	"encoding/json"
	"testing"

	"github.com/HelpLoop/helploop-go-sdk/wire"
)

func TestPayloadRoundTrip(t *testing.T) {
	cases := []string{
		`{"type":"delta","delta":"Hel"}`,
		`[1,2,3]`,
		`plain text with "quotes" and newlines
inside`,
		``,
	}
	for _, in := range cases {
		wrapped := wrapPayload([]byte(in))
		if len(in) > 0 && !json.Valid(wrapped) {
			t.Errorf("wrapPayload(%q) produced invalid JSON", in)
		}
		out := unwrapPayload(wrapped)
		if string(out) != in {
			t.Errorf("round trip changed payload: %q -> %q", in, out)
		}
	}
}

func TestUnwrapPayloadLeavesObjectsAlone(t *testing.T) {
	raw := json.RawMessage(`  {"type":"end"}`)
	if got := unwrapPayload(raw); string(got) != string(raw) {
		t.Fatalf("unwrapPayload rewrote object: %q", got)
	}
}

func TestDispatchRoutesByTopic(t *testing.T) {
	c := New(Config{Endpoint: "ws://localhost:9000/ws"})

	var got []string
	c.subs.add("/topic/chat/1", "chat", func(p []byte) { got = append(got, string(p)) })

	env, _ := json.Marshal(wire.Envelope{
		Op:      wire.OpMessage,
		Topic:   "/topic/chat/1",
		Payload: json.RawMessage(`{"type":"start"}`),
	})
	c.dispatch(env)
	c.dispatch([]byte(`{"op":"message","topic":"/topic/other","payload":{}}`))
	c.dispatch([]byte(`not json`))

	if len(got) != 1 || got[0] != `{"type":"start"}` {
		t.Fatalf("delivered = %v", got)
	}
}

func TestSendFailsFastWhenDisconnected(t *testing.T) {
	c := New(Config{Endpoint: "ws://localhost:9000/ws"})
	if err := c.Send("/topic/chat/1", []byte("hi")); err != ErrNotConnected {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if _, err := c.Subscribe("/topic/chat/1", "chat", func([]byte) {}); err != ErrNotConnected {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := New(Config{Endpoint: "ws://localhost:9000/ws"})
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if st := c.State(); st.State != StateDisconnected {
		t.Fatalf("state = %v", st.State)
	}
}
