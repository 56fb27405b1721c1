package pbx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/chat-relay/internal/apperror"
	"github.com/zhouzirui/chat-relay/internal/model/chat"
)

const (
	eventTypeMessageReceived = "message.received"
	timestampLayout          = "2006-01-02T15:04:05.0000000Z"
	maxErrorBody             = 4 << 10
)

// Config describes the PBX chat API endpoint and its routing numbers.
type Config struct {
	APIURL       string
	Token        string
	Queue1Number string
	Queue2Number string
}

// Client forwards engagement-platform messages into the PBX chat channel.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewClient creates a PBX client. A nil httpClient uses http.DefaultClient.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.With("component", "pbx"),
		now:    time.Now,
	}
}

type envelope struct {
	Data eventData `json:"data"`
}

type eventData struct {
	EventType  string       `json:"event_type"`
	ID         string       `json:"id"`
	OccurredAt string       `json:"occurred_at"`
	Payload    eventPayload `json:"payload"`
}

type eventPayload struct {
	From       phoneNumber   `json:"from"`
	ID         string        `json:"id"`
	ReceivedAt string        `json:"received_at"`
	Text       string        `json:"text"`
	To         []phoneNumber `json:"to"`
}

type phoneNumber struct {
	PhoneNumber string `json:"phone_number"`
}

// Queue picks the destination number for a session. Only the Queue2RoutingValue
// selects queue 2.
func (c *Client) Queue(session chat.Session) string {
	if session.RoutingValue() == chat.Queue2RoutingValue {
		return c.cfg.Queue2Number
	}
	return c.cfg.Queue1Number
}

// Forward posts text to the PBX as a message from the session's display name.
// A non-2xx answer is returned as a downstream error and is not retried.
func (c *Client) Forward(ctx context.Context, session chat.Session, text string) error {
	now := c.now().UTC().Format(timestampLayout)
	queue := c.Queue(session)

	body, err := json.Marshal(envelope{
		Data: eventData{
			EventType:  eventTypeMessageReceived,
			ID:         uuid.NewString(),
			OccurredAt: now,
			Payload: eventPayload{
				From:       phoneNumber{PhoneNumber: session.DisplayName},
				ID:         uuid.NewString(),
				ReceivedAt: now,
				Text:       text,
				To:         []phoneNumber{{PhoneNumber: queue}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal pbx event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build pbx request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	c.logger.Info("forwarding message to pbx",
		"user_id", session.UserID,
		"display_name", session.DisplayName,
		"queue", queue)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperror.Downstream("pbx request failed", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("pbx rejected message",
			"user_id", session.UserID,
			"status", resp.StatusCode,
			"body", string(respBody))
		return apperror.Downstream("pbx rejected message",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}

	c.logger.Debug("pbx accepted message", "user_id", session.UserID, "status", resp.StatusCode)
	return nil
}
