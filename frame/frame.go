// Package frame classifies raw gateway payloads into typed frames for the
// HelpLoop chat protocol. Decoding happens exactly once at the transport
// boundary; downstream code switches on Kind with an explicit KindUnknown
// arm instead of comparing type strings.
package frame

import (
	"bytes"

	json "github.com/goccy/go-json"

	"github.com/HelpLoop/helploop-go-sdk/wire"
)

// Kind tags a decoded frame.
type Kind uint8

const (
	// KindUnknown marks a structured payload whose type field is not
	// recognised. Downstream treats it as a no-op.
	KindUnknown Kind = iota
	KindStart
	KindDelta
	KindEnd
	KindUser
	KindAgent
	KindClosed
	// KindRawText marks a payload that does not look like a structured
	// envelope at all. Its text is rendered verbatim.
	KindRawText
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindDelta:
		return "delta"
	case KindEnd:
		return "end"
	case KindUser:
		return "user"
	case KindAgent:
		return "agent"
	case KindClosed:
		return "closed"
	case KindRawText:
		return "raw-text"
	default:
		return "unknown"
	}
}

// Frame is one decoded unit of inbound real-time data.
type Frame struct {
	Kind       Kind
	Text       string // delta chunk (KindDelta) or verbatim body (KindRawText)
	Content    string // message body (KindUser, KindAgent)
	MessageID  string // server-assigned id, may be empty for user echoes
	SenderName string
}

// Handler consumes decoded frames in transport delivery order.
type Handler func(Frame)

// Decode classifies a raw payload. It never returns an error: payloads that
// do not begin with an object or array marker are expected opaque text and
// come back as KindRawText; structured payloads with an unrecognised type
// come back as KindUnknown. Large payloads the gateway compressed are
// decompressed transparently first.
func Decode(raw []byte) Frame {
	if isCompressed(raw) {
		plain, err := Decompress(raw)
		if err != nil {
			// Corrupt binary, not renderable text. Drop it.
			return Frame{Kind: KindUnknown}
		}
		raw = plain
	}

	body := bytes.TrimSpace(raw)
	if len(body) == 0 || (body[0] != '{' && body[0] != '[') {
		return Frame{Kind: KindRawText, Text: string(raw)}
	}

	var cf wire.ChatFrame
	if err := json.Unmarshal(body, &cf); err != nil {
		// Looked structured but is not ours. Still expected, still silent.
		return Frame{Kind: KindRawText, Text: string(raw)}
	}

	switch cf.Type {
	case "start":
		return Frame{Kind: KindStart}
	case "delta":
		return Frame{Kind: KindDelta, Text: cf.Delta}
	case "end":
		return Frame{Kind: KindEnd}
	case "user":
		return Frame{Kind: KindUser, Content: cf.Content, MessageID: cf.MessageID, SenderName: cf.SenderName}
	case "agent":
		return Frame{Kind: KindAgent, Content: cf.Content, MessageID: cf.MessageID, SenderName: cf.SenderName}
	case "closed":
		return Frame{Kind: KindClosed}
	default:
		return Frame{Kind: KindUnknown}
	}
}
