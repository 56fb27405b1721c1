package chat

import (
	"sync"

	"github.com/zhouzirui/chat-relay/internal/apperror"
	"github.com/zhouzirui/chat-relay/internal/model/chat"
)

var (
	ErrSessionNotFound   = apperror.NotFound("chat session not found")
	ErrDisplayNameUnused = apperror.NotFound("chat name was not found in active sessions")
	ErrSessionExists     = apperror.DuplicateKey("chat session already exists")
)

// Store holds the active chat sessions keyed by user id. Every value that
// enters or leaves the store is a copy, so callers never share a session's
// metadata map with another goroutine.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
}

// NewStore returns an empty in-memory session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]chat.Session),
	}
}

// Create inserts a new session.
func (s *Store) Create(session chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.UserID]; ok {
		return ErrSessionExists
	}
	s.sessions[session.UserID] = session.Clone()
	return nil
}

// CreateUnique inserts a session whose display name must not already name an
// active session. On a collision the name is replaced by rename() once; the
// replacement is not checked again. The stored copy is returned.
func (s *Store) CreateUnique(session chat.Session, rename func() string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.UserID]; ok {
		return chat.Session{}, ErrSessionExists
	}
	if s.nameInUseLocked(session.DisplayName) {
		session.DisplayName = rename()
	}
	s.sessions[session.UserID] = session.Clone()
	return session.Clone(), nil
}

// Get retrieves a session by user id.
func (s *Store) Get(userID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[userID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// GetByDisplayName returns the first session addressed by name.
func (s *Store) GetByDisplayName(name string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessions {
		if session.DisplayName == name {
			return session.Clone(), nil
		}
	}
	return chat.Session{}, ErrDisplayNameUnused
}

// Exists reports whether an active session already uses the display name.
func (s *Store) Exists(displayName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.nameInUseLocked(displayName)
}

func (s *Store) nameInUseLocked(displayName string) bool {
	for _, session := range s.sessions {
		if session.DisplayName == displayName {
			return true
		}
	}
	return false
}

// Update applies fn to the stored session under the write lock and returns
// the updated copy. fn must not retain the pointer.
func (s *Store) Update(userID string, fn func(*chat.Session)) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[userID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	fn(&session)
	s.sessions[userID] = session.Clone()
	return session.Clone(), nil
}

// Remove deletes a session. Removing an unknown id is a no-op.
func (s *Store) Remove(userID string) {
	s.mu.Lock()
	delete(s.sessions, userID)
	s.mu.Unlock()
}

// RemoveIf deletes the session only when pred holds for its current state.
// The check and the delete happen under one write lock, so a session changed
// after a Snapshot is judged on its latest flags.
func (s *Store) RemoveIf(userID string, pred func(chat.Session) bool) (chat.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[userID]
	if !ok || !pred(session) {
		return chat.Session{}, false
	}
	delete(s.sessions, userID)
	return session, true
}

// Snapshot returns a point-in-time copy of all sessions.
func (s *Store) Snapshot() []chat.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session.Clone())
	}
	return out
}

// Len returns the number of active sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
