package chat

import (
	"maps"
	"time"
)

const (
	// RoutingKey selects the PBX destination queue and is required at chat start.
	RoutingKey = "chatbot_service"
	// Queue2RoutingValue is the only routing value that selects queue 2.
	Queue2RoutingValue = "Servis"
)

// Session is the relay's record of one cross-platform conversation.
type Session struct {
	UserID          string            `json:"userId"`
	ChatID          string            `json:"chatId"`
	DisplayName     string            `json:"displayName"`
	SecureKey       string            `json:"-"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CallbackAddress string            `json:"callbackAddress"`
	Started         bool              `json:"started"`
	Closed          bool              `json:"closed"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// Clone returns a copy that shares no mutable state with s.
func (s Session) Clone() Session {
	s.Metadata = maps.Clone(s.Metadata)
	return s
}

// RoutingValue returns the metadata routing value, or "" when unset.
func (s Session) RoutingValue() string {
	return s.Metadata[RoutingKey]
}
