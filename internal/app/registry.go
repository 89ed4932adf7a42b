package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/skillswap/relay/internal/core"
	"github.com/skillswap/relay/internal/domain"
)

// Registry maps each user to its single live session.
// Nothing outside this type touches the table.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.UserID]*core.Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.UserID]*core.Session),
	}
}

// Register binds sess to uid and returns the session it replaced, if any.
// The replaced session is not closed here.
func (r *Registry) Register(uid domain.UserID, sess *core.Session) *core.Session {
	r.mu.Lock()
	prev := r.sessions[uid]
	r.sessions[uid] = sess
	r.mu.Unlock()

	ev := log.Info().Str("module", "app.registry").Str("user", string(uid)).Str("sid", string(sess.ID()))
	if prev != nil && prev != sess {
		ev = ev.Str("replaced_sid", string(prev.ID()))
	}
	ev.Msg("bound session")
	if prev == sess {
		return nil
	}
	return prev
}

func (r *Registry) Lookup(uid domain.UserID) (*core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[uid]
	return sess, ok
}

// Unregister removes uid only while it is still bound to sess, so a late
// teardown of a replaced connection cannot evict its successor.
func (r *Registry) Unregister(uid domain.UserID, sess *core.Session) bool {
	r.mu.Lock()
	cur, ok := r.sessions[uid]
	removed := ok && cur == sess
	if removed {
		delete(r.sessions, uid)
	}
	r.mu.Unlock()

	if removed {
		log.Info().Str("module", "app.registry").Str("user", string(uid)).Str("sid", string(sess.ID())).Msg("unbind session")
	} else {
		log.Debug().Str("module", "app.registry").Str("user", string(uid)).Str("sid", string(sess.ID())).Msg("stale unbind ignored")
	}
	return removed
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll empties the table and closes every session outside the lock.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	all := make([]*core.Session, 0, len(r.sessions))
	for uid, sess := range r.sessions {
		all = append(all, sess)
		delete(r.sessions, uid)
	}
	r.mu.Unlock()

	for _, sess := range all {
		sess.Close()
	}
	log.Info().Str("module", "app.registry").Int("count", len(all)).Msg("closed all sessions")
	return len(all)
}
