package helploop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/HelpLoop/helploop-go-sdk/session"
)

// APIClient communicates with the HelpLoop REST API. It works without a
// live WebSocket connection and satisfies session.API so controllers can
// drive it directly.
type APIClient struct {
	apiBase    string
	token      string
	httpClient *http.Client
}

// NewAPIClient creates a REST client from the same Config the WebSocket
// client uses.
func NewAPIClient(cfg Config) *APIClient {
	return &APIClient{
		apiBase:    resolveAPIBase(cfg),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateSession requests a fresh conversation session.
func (c *APIClient) CreateSession(ctx context.Context, language string) (string, error) {
	var resp CreateSessionResponse
	err := c.doJSON(ctx, http.MethodPost, "/chat/sessions", CreateSessionRequest{Language: language}, &resp)
	if err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

// PostUserMessage submits a user message under the given session and
// returns the server-assigned message id. A stale session id surfaces as
// session.ErrSessionNotFound.
func (c *APIClient) PostUserMessage(ctx context.Context, sessionID, content string) (string, error) {
	var resp PostMessageResponse
	err := c.doJSON(ctx, http.MethodPost, "/chat/sessions/"+url.PathEscape(sessionID)+"/messages",
		PostMessageRequest{Content: content}, &resp)
	if err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

// FetchHistory returns the session's transcript, oldest first.
func (c *APIClient) FetchHistory(ctx context.Context, sessionID string) ([]session.Message, error) {
	var resp HistoryResponse
	err := c.doJSON(ctx, http.MethodGet, "/chat/sessions/"+url.PathEscape(sessionID)+"/messages", nil, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]session.Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		msg := session.Message{
			Sender:          historySender(m.Sender),
			Content:         m.Content,
			SenderName:      m.SenderName,
			ServerMessageID: m.MessageID,
		}
		if ts, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
			msg.Timestamp = ts
		}
		out = append(out, msg)
	}
	return out, nil
}

// PostGreeting asks the bot to open the conversation.
func (c *APIClient) PostGreeting(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodPost, "/chat/sessions/"+url.PathEscape(sessionID)+"/greeting", nil, nil)
}

// Handover requests a human agent for the session.
func (c *APIClient) Handover(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodPost, "/chat/sessions/"+url.PathEscape(sessionID)+"/handover", nil, nil)
}

// CloseSession ends the session server-side.
func (c *APIClient) CloseSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodPost, "/chat/sessions/"+url.PathEscape(sessionID)+"/close", nil, nil)
}

// Rate submits a 1..5 rating with an optional note for a closed session.
func (c *APIClient) Rate(ctx context.Context, sessionID string, rating int, note string) error {
	return c.doJSON(ctx, http.MethodPost, "/chat/sessions/"+url.PathEscape(sessionID)+"/rating",
		RatingRequest{Rating: rating, Note: note}, nil)
}

// StaffReply posts an agent reply on a complaint case and returns the
// server-assigned message id.
func (c *APIClient) StaffReply(ctx context.Context, caseID, content, agentName string) (string, error) {
	var resp PostMessageResponse
	err := c.doJSON(ctx, http.MethodPost, "/complaints/"+url.PathEscape(caseID)+"/reply",
		StaffReplyRequest{Content: content, AgentName: agentName}, &resp)
	if err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

// StaffClose closes a complaint case from the staff side.
func (c *APIClient) StaffClose(ctx context.Context, caseID string) error {
	return c.doJSON(ctx, http.MethodPost, "/complaints/"+url.PathEscape(caseID)+"/close", nil, nil)
}

// --- HTTP helpers ---

// doJSON sends an authed request and decodes the JSON response into dest.
func (c *APIClient) doJSON(ctx context.Context, method, path string, reqBody any, dest any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.apiError(method, path, resp)
	}

	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// apiError maps error bodies to sentinel errors where the SDK recovers
// automatically, and to descriptive errors otherwise.
func (c *APIClient) apiError(method, path string, resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)

	var apiErr ErrorResponse
	_ = json.Unmarshal(b, &apiErr)

	if resp.StatusCode == http.StatusNotFound || apiErr.Code == "SESSION_NOT_FOUND" {
		return fmt.Errorf("%s %s: %w", method, path, session.ErrSessionNotFound)
	}
	return fmt.Errorf("HelpLoop returned %d on %s %s: %s", resp.StatusCode, method, path, string(b))
}

func historySender(s string) session.Sender {
	switch s {
	case "user":
		return session.SenderUser
	case "agent":
		return session.SenderAgent
	default:
		return session.SenderBot
	}
}

// resolveAPIBase derives the REST base URL. An explicit APIEndpoint wins;
// otherwise it is derived from the WebSocket endpoint by swapping the
// scheme and dropping the /ws path.
func resolveAPIBase(cfg Config) string {
	if cfg.APIEndpoint != "" {
		return strings.TrimRight(cfg.APIEndpoint, "/") + "/api/v1"
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return "http://localhost:8080/api/v1"
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host + "/api/v1"
}
