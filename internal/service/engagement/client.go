package engagement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zhouzirui/chat-relay/internal/apperror"
	"github.com/zhouzirui/chat-relay/internal/model/chat"
)

const (
	// ClosedNotice is sent when reconciliation closes a chat.
	ClosedNotice = "Your chat has been closed."
	maxErrorBody = 4 << 10
)

type messagePayload struct {
	StatusCode  int    `json:"statusCode"`
	Message     string `json:"message"`
	UserID      string `json:"userId"`
	SecureKey   string `json:"secureKey"`
	Alias       string `json:"alias"`
	MessageType string `json:"messageType"`
}

type closedPayload struct {
	Message    string `json:"message"`
	ChatEnded  bool   `json:"chatEnded"`
	StatusCode int    `json:"statusCode"`
	Alias      string `json:"alias"`
	SecureKey  string `json:"secureKey"`
	UserID     string `json:"userId"`
}

// Client posts to a session's callback address on the engagement platform.
type Client struct {
	token  string
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a callback client authorised with token.
func NewClient(token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		token:  token,
		http:   httpClient,
		logger: logger.With("component", "engagement"),
	}
}

// Deliver sends a PBX-side message to the session's callback address.
func (c *Client) Deliver(ctx context.Context, session chat.Session, text string) error {
	return c.post(ctx, session, messagePayload{
		StatusCode:  0,
		Message:     text,
		UserID:      session.UserID,
		SecureKey:   session.SecureKey,
		Alias:       chat.Alias,
		MessageType: "text",
	})
}

// NotifyClosed tells the engagement platform the chat has ended.
func (c *Client) NotifyClosed(ctx context.Context, session chat.Session) error {
	return c.post(ctx, session, closedPayload{
		Message:    ClosedNotice,
		ChatEnded:  true,
		StatusCode: 0,
		Alias:      chat.Alias,
		SecureKey:  session.SecureKey,
		UserID:     session.UserID,
	})
}

func (c *Client) post(ctx context.Context, session chat.Session, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, session.CallbackAddress, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Info("posting to engagement callback",
		"user_id", session.UserID,
		"callback", session.CallbackAddress)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperror.Downstream("engagement callback failed", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("engagement callback rejected",
			"user_id", session.UserID,
			"status", resp.StatusCode,
			"body", string(respBody))
		return apperror.Downstream("engagement callback rejected",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}
	return nil
}
