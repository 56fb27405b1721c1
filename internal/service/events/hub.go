package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/chat-relay/internal/model/chat"
)

const subscriberBufferSize = 64

// Event types published by the relay.
const (
	TypeStarted   = "session.started"
	TypeMessage   = "session.message"
	TypeCompleted = "session.completed"
	TypeClosed    = "session.closed"
)

// Message directions.
const (
	DirectionToPBX        = "to_pbx"
	DirectionToEngagement = "to_engagement"
)

// Event is a session lifecycle notification. It never carries message text
// or the session's secure key.
type Event struct {
	Type        string    `json:"type"`
	UserID      string    `json:"userId"`
	ChatID      string    `json:"chatId"`
	DisplayName string    `json:"displayName"`
	Direction   string    `json:"direction,omitempty"`
	Time        time.Time `json:"time"`
}

// NewEvent builds an event for session.
func NewEvent(eventType string, session chat.Session) Event {
	return Event{
		Type:        eventType,
		UserID:      session.UserID,
		ChatID:      session.ChatID,
		DisplayName: session.DisplayName,
		Time:        time.Now().UTC(),
	}
}

// Publisher is implemented by Hub; services depend on this instead of the hub.
type Publisher interface {
	Publish(Event)
}

// Hub fans events out to every subscriber. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	logger      *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]chan Event),
		logger:      logger.With("component", "events"),
	}
}

// Subscribe registers a subscriber that is removed when ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context) <-chan Event {
	id := uuid.NewString()
	ch := make(chan Event, subscriberBufferSize)

	h.mu.Lock()
	h.subscribers[id] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "sub_id", id)

	go func() {
		<-ctx.Done()
		h.unsubscribe(id)
	}()

	return ch
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	ch, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
		close(ch)
	}
	h.mu.Unlock()

	if ok {
		h.logger.Debug("subscriber removed", "sub_id", id)
	}
}

// Publish delivers event to all current subscribers.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			h.logger.Warn("dropping event for slow subscriber", "sub_id", id, "type", event.Type)
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
