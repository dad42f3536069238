package memory

import (
	"sync"

	"classquiz-live/internal/app"
	"classquiz-live/internal/domain"
)

// SessionStore is the in-process implementation of app.SessionRepository.
// Sessions are kept by id for their whole lifetime; the join-code index only
// covers non-completed sessions so codes can be reused after completion.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*app.GameSession
	codes    map[string]string // join code -> session id
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*app.GameSession),
		codes:    make(map[string]string),
	}
}

func (s *SessionStore) Add(session *app.GameSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.codes[session.Code()]; taken {
		return domain.ErrCodeCollision
	}
	s.sessions[session.ID()] = session
	s.codes[session.Code()] = session.ID()
	return nil
}

func (s *SessionStore) Get(sessionID string) (*app.GameSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	return session, ok
}

func (s *SessionStore) GetByCode(code string) (*app.GameSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[code]
	if !ok {
		return nil, false
	}
	session, ok := s.sessions[id]
	return session, ok
}

// Release frees the session's join code once it has completed. The session
// itself stays addressable by id.
func (s *SessionStore) Release(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	if s.codes[session.Code()] == sessionID {
		delete(s.codes, session.Code())
	}
}
