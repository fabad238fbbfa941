package helploop

// REST payload types for the HelpLoop collaborator API. The WebSocket
// payload types live in the wire package.

// ErrorResponse is the API's uniform error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateSessionRequest is sent to POST /api/v1/chat/sessions.
type CreateSessionRequest struct {
	Language string `json:"language,omitempty"`
	UserID   string `json:"userId,omitempty"`
}

// CreateSessionResponse is returned by POST /api/v1/chat/sessions.
type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
	Language  string `json:"language,omitempty"`
}

// PostMessageRequest is sent to POST /api/v1/chat/sessions/{id}/messages.
type PostMessageRequest struct {
	Content    string `json:"content"`
	SenderName string `json:"senderName,omitempty"`
}

// PostMessageResponse is returned by POST .../messages and by the staff
// reply endpoint.
type PostMessageResponse struct {
	MessageID string `json:"messageId"`
}

// HistoryMessage is one transcript entry from GET .../messages.
type HistoryMessage struct {
	MessageID  string `json:"messageId"`
	Sender     string `json:"sender"` // "bot", "user", "agent"
	Content    string `json:"content"`
	SenderName string `json:"senderName,omitempty"`
	CreatedAt  string `json:"createdAt,omitempty"`
}

// HistoryResponse is returned by GET /api/v1/chat/sessions/{id}/messages.
type HistoryResponse struct {
	Messages []HistoryMessage `json:"messages"`
}

// RatingRequest is sent to POST /api/v1/chat/sessions/{id}/rating.
type RatingRequest struct {
	Rating int    `json:"rating"` // 1..5
	Note   string `json:"note,omitempty"`
}

// StaffReplyRequest is sent to POST /api/v1/complaints/{caseId}/reply.
type StaffReplyRequest struct {
	Content   string `json:"content"`
	AgentName string `json:"agentName,omitempty"`
}
