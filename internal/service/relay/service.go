package relay

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/zhouzirui/chat-relay/internal/apperror"
	"github.com/zhouzirui/chat-relay/internal/model/chat"
	"github.com/zhouzirui/chat-relay/internal/observability"
	chatservice "github.com/zhouzirui/chat-relay/internal/service/chat"
	"github.com/zhouzirui/chat-relay/internal/service/events"
)

// CompleteNotice is forwarded to the PBX when the customer ends the chat.
const CompleteNotice = "***Chat bol uzavretý zákazníkom. Zatvorte tento chat.***"

// PBXForwarder delivers text into the PBX chat channel.
type PBXForwarder interface {
	Forward(ctx context.Context, session chat.Session, text string) error
}

// CallbackSender delivers text to the engagement platform.
type CallbackSender interface {
	Deliver(ctx context.Context, session chat.Session, text string) error
}

// Deps groups the collaborators of Service.
type Deps struct {
	Store     *chatservice.Store
	PBX       PBXForwarder
	Callbacks CallbackSender
	Events    events.Publisher
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// Service implements both inbound adapters on top of the session store.
type Service struct {
	store     *chatservice.Store
	pbx       PBXForwarder
	callbacks CallbackSender
	events    events.Publisher
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the relay. Events, Metrics and Logger are optional.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     deps.Store,
		pbx:       deps.PBX,
		callbacks: deps.Callbacks,
		events:    deps.Events,
		metrics:   deps.Metrics,
		logger:    logger.With("component", "relay"),
		now:       time.Now,
	}
}

// StartInput carries a validated start-chat request.
type StartInput struct {
	DisplayName string
	Metadata    map[string]string
	// CallbackBase is the address the chat id is appended to.
	CallbackBase string
}

// StartChat creates a session for the engagement platform.
func (s *Service) StartChat(_ context.Context, in StartInput) (chat.StartChatResponse, error) {
	if strings.TrimSpace(in.DisplayName) == "" {
		return chat.StartChatResponse{}, apperror.Validation("Missing nickname.")
	}
	if in.Metadata[chat.RoutingKey] == "" {
		return chat.StartChatResponse{}, apperror.Validation(fmt.Sprintf("Missing userData[%s].", chat.RoutingKey))
	}

	session := chat.Session{
		UserID:      chatservice.NewID(),
		ChatID:      chatservice.NewID(),
		DisplayName: in.DisplayName,
		SecureKey:   chatservice.NewSecureKey(),
		Metadata:    maps.Clone(in.Metadata),
		Started:     true,
		Closed:      false,
		CreatedAt:   s.now().UTC(),
	}
	session.CallbackAddress = strings.TrimRight(in.CallbackBase, "/") + "/" + session.ChatID

	session, err := s.store.CreateUnique(session, chatservice.AlternateDisplayName)
	if err != nil {
		return chat.StartChatResponse{}, err
	}
	name := session.DisplayName
	if name != in.DisplayName {
		s.logger.Info("display name in use, renamed", "requested", in.DisplayName, "display_name", name)
	}
	s.metrics.SessionStarted()
	s.metrics.SetActiveSessions(s.store.Len())
	s.publish(events.NewEvent(events.TypeStarted, session))

	s.logger.Info("chat started",
		"user_id", session.UserID,
		"chat_id", session.ChatID,
		"display_name", session.DisplayName,
		"routing", session.RoutingValue(),
		"callback", session.CallbackAddress)

	return chat.StartChatResponse{
		ChatID:     session.ChatID,
		Path:       "/api/v2/chats/" + session.ChatID,
		UserID:     session.UserID,
		SecureKey:  session.SecureKey,
		Alias:      chat.Alias,
		TenantName: chat.TenantName,
		Messages: []chat.JoinedNotice{{
			From: chat.Participant{
				Nickname:      name,
				ParticipantID: 1,
				Type:          "Client",
			},
			Index:   1,
			Type:    "ParticipantJoined",
			UTCTime: s.now().UTC().UnixMilli(),
		}},
		StatusCode: 0,
	}, nil
}

// Session looks up a session by user id.
func (s *Service) Session(userID string) (chat.Session, error) {
	if userID == "" {
		return chat.Session{}, apperror.Validation("Missing userId.")
	}
	return s.store.Get(userID)
}

// SendMessage forwards customer text to the PBX.
func (s *Service) SendMessage(ctx context.Context, userID, text string) (chat.Session, error) {
	return s.forwardAndReopen(ctx, userID, text, "Missing text.")
}

// SendURL forwards a pushed link to the PBX as plain text.
func (s *Service) SendURL(ctx context.Context, userID, link string) (chat.Session, error) {
	return s.forwardAndReopen(ctx, userID, link, "Missing pushUrl.")
}

func (s *Service) forwardAndReopen(ctx context.Context, userID, text, missing string) (chat.Session, error) {
	session, err := s.Session(userID)
	if err != nil {
		return chat.Session{}, err
	}
	if text == "" {
		return chat.Session{}, apperror.Validation(missing)
	}

	if err := s.forwardToPBX(ctx, session, text); err != nil {
		return chat.Session{}, err
	}

	return s.store.Update(userID, func(sess *chat.Session) {
		sess.Closed = false
		sess.Started = true
	})
}

// UpdateUserData replaces the session metadata.
func (s *Service) UpdateUserData(_ context.Context, userID string, metadata map[string]string) (chat.Session, error) {
	if _, err := s.Session(userID); err != nil {
		return chat.Session{}, err
	}
	if metadata == nil {
		return chat.Session{}, apperror.Validation(fmt.Sprintf("Missing userData[%s] to update.", chat.RoutingKey))
	}

	updated, err := s.store.Update(userID, func(sess *chat.Session) {
		sess.Metadata = maps.Clone(metadata)
		sess.Closed = false
		sess.Started = true
	})
	if err != nil {
		return chat.Session{}, err
	}

	s.logger.Info("user data updated", "user_id", userID, "routing", updated.RoutingValue())
	return updated, nil
}

// Complete notifies the PBX that the customer left and marks the session
// closed. Removal is left to reconciliation.
func (s *Service) Complete(ctx context.Context, userID string) (chat.Session, error) {
	session, err := s.Session(userID)
	if err != nil {
		return chat.Session{}, err
	}

	if err := s.forwardToPBX(ctx, session, CompleteNotice); err != nil {
		return chat.Session{}, err
	}

	updated, err := s.store.Update(userID, func(sess *chat.Session) {
		sess.Started = true
		sess.Closed = true
	})
	if err != nil {
		return chat.Session{}, err
	}

	s.publish(events.NewEvent(events.TypeCompleted, updated))
	s.logger.Info("chat completed by customer", "user_id", userID, "display_name", updated.DisplayName)
	return updated, nil
}

// forwardToPBX marks the session started, then forwards text. The started
// flag stays set even when the forward fails.
func (s *Service) forwardToPBX(ctx context.Context, session chat.Session, text string) error {
	session, err := s.store.Update(session.UserID, func(sess *chat.Session) {
		sess.Started = true
	})
	if err != nil {
		return err
	}

	start := time.Now()
	err = s.pbx.Forward(ctx, session, text)
	s.metrics.ObserveForward(observability.TargetPBX, start, err)
	if err != nil {
		s.logger.Error("forward to pbx failed", "user_id", session.UserID, "error", err)
		return err
	}

	ev := events.NewEvent(events.TypeMessage, session)
	ev.Direction = events.DirectionToPBX
	s.publish(ev)
	return nil
}

// DeliverFromPBX forwards a PBX message to the engagement platform. It
// returns delivered=false without error when the session is already closed.
func (s *Service) DeliverFromPBX(ctx context.Context, msg chat.PBXMessage) (bool, error) {
	session, err := s.store.GetByDisplayName(msg.To)
	if err != nil {
		s.logger.Warn("pbx message for unknown chat", "from", msg.From, "to", msg.To)
		return false, err
	}
	if session.Closed {
		s.logger.Info("pbx message for closed chat ignored", "user_id", session.UserID, "display_name", msg.To)
		return false, nil
	}

	start := time.Now()
	err = s.callbacks.Deliver(ctx, session, msg.Text)
	s.metrics.ObserveForward(observability.TargetEngagement, start, err)
	if err != nil {
		s.logger.Error("forward to engagement platform failed", "user_id", session.UserID, "error", err)
		return false, err
	}

	ev := events.NewEvent(events.TypeMessage, session)
	ev.Direction = events.DirectionToEngagement
	s.publish(ev)
	return true, nil
}

// ActiveSessions returns the number of sessions in the store.
func (s *Service) ActiveSessions() int {
	return s.store.Len()
}

func (s *Service) publish(ev events.Event) {
	if s.events != nil {
		s.events.Publish(ev)
	}
}
