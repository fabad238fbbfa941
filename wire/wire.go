// Package wire defines the JSON payload types for the HelpLoop gateway
// protocol. Envelope is the outer wrapper; everything else is a payload.
package wire

import "encoding/json"

// Envelope ops (client -> server unless noted).
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPublish     = "publish"
	OpMessage     = "message" // server -> client delivery
)

// Envelope is the outer JSON wrapper for every topic-addressed message
// multiplexed over the single WebSocket connection.
//
// Payload carries either a JSON value or, for opaque text bodies, a JSON
// string holding the text verbatim.
type Envelope struct {
	Op      string          `json:"op,omitempty"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ChatFrame is the inner payload shape on chat and complaint topics.
// Type is one of "start", "delta", "end", "user", "agent", "closed".
type ChatFrame struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Content    string `json:"content,omitempty"`
	MessageID  string `json:"messageId,omitempty"`
	SenderName string `json:"senderName,omitempty"`
}

// AccountStatusEvent is delivered on the per-user and broadcast
// account-status topics. UserID may arrive as a JSON number or a JSON
// string depending on which backend emitted it, so it stays raw here.
type AccountStatusEvent struct {
	Type      string          `json:"type"` // "ACCOUNT_ACTIVATED" or "ACCOUNT_DEACTIVATED"
	UserID    json.RawMessage `json:"userId"`
	Reason    string          `json:"reason,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}
