package signal

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/skillswap/relay/internal/core"
	"github.com/skillswap/relay/internal/domain"
)

type connState int32

const (
	stateConnecting connState = iota
	stateVerifying
	stateActive
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateVerifying:
		return "verifying"
	case stateActive:
		return "active"
	case stateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// peer is the per-connection lifecycle: Connecting -> Verifying ->
// Active -> Closed, or Verifying -> Closed on a rejected credential.
type peer struct {
	ctl     *SignalWSController
	ws      WSConn
	conn    *wsSignalConn
	sess    *core.Session
	limiter *inboundLimiter

	state     atomic.Int32
	closeOnce sync.Once
}

func newPeer(ctl *SignalWSController, ws WSConn) *peer {
	p := &peer{
		ctl:     ctl,
		ws:      ws,
		conn:    newWSSignalConn(ws, ctl.opts.SendBuffer, ctl.opts.WriteWait),
		limiter: newInboundLimiter(ctl.opts.RateLimit, ctl.opts.RateBurst),
	}
	p.setState(stateConnecting)
	return p
}

func (p *peer) setState(s connState) { p.state.Store(int32(s)) }
func (p *peer) State() connState { return connState(p.state.Load()) }

// reject ends a connection whose credential failed. Nothing was registered,
// so only the transport is closed.
func (p *peer) reject() {
	p.closeOnce.Do(func() {
		p.setState(stateClosed)
		_ = p.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""),
			time.Now().Add(p.ctl.opts.WriteWait))
		_ = p.ws.Close()
	})
}

// activate registers the session and closes whichever session it displaced.
func (p *peer) activate(uid domain.UserID) {
	p.sess = core.NewSession(uid, p.conn)
	prev := p.ctl.Registry.Register(uid, p.sess)
	p.setState(stateActive)
	p.ctl.Metrics.SessionOpened(p.ctl.Registry.Count())

	if prev != nil {
		log.Info().Str("module", "signal").Str("user", string(uid)).Str("sid", string(prev.ID())).Msg("closing superseded connection")
		p.ctl.Metrics.SessionReplaced()
		prev.Close()
	}
}

// close moves the peer to Closed. Only the first call unregisters; it
// reports whether this call did the work.
func (p *peer) close(reason string) bool {
	done := false
	p.closeOnce.Do(func() {
		done = true
		p.setState(stateClosed)
		if p.sess == nil {
			_ = p.ws.Close()
			return
		}
		p.ctl.Registry.Unregister(p.sess.User(), p.sess)
		p.sess.Close()
		p.ctl.Metrics.SessionClosed(p.ctl.Registry.Count())
		log.Info().Str("module", "signal").Str("user", string(p.sess.User())).Str("sid", string(p.sess.ID())).Str("reason", reason).Msg("connection closed")
	})
	return done
}
