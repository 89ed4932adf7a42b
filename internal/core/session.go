package core

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/skillswap/relay/internal/domain"
)

type SessionID string

// Session binds a verified user to its transport endpoint.
// Identity is by pointer: two sessions for the same user are never equal.
type Session struct {
	id     SessionID
	user   domain.UserID
	signal SignalConnection
	alive  atomic.Bool
}

func NewSession(user domain.UserID, conn SignalConnection) *Session {
	s := &Session{
		id:     SessionID(uuid.NewString()),
		user:   user,
		signal: conn,
	}
	s.alive.Store(true)
	return s
}

func (s *Session) ID() SessionID { return s.id }
func (s *Session) User() domain.UserID { return s.user }
func (s *Session) Signal() SignalConnection { return s.signal }
func (s *Session) Alive() bool { return s.alive.Load() }

// Close marks the session dead and closes its transport. It reports whether
// this call performed the transition.
func (s *Session) Close() bool {
	if !s.alive.CompareAndSwap(true, false) {
		return false
	}
	s.signal.Close()
	return true
}
