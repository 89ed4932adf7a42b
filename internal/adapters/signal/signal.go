package signal

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/skillswap/relay/internal/app"
	"github.com/skillswap/relay/internal/auth"
	"github.com/skillswap/relay/internal/core"
)

// TokenSessionKey is where the cookie session keeps a bearer token for
// browsers that cannot put it in the URL.
const TokenSessionKey = "token"

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	WriteControl(mt int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
	RateLimit  float64
	RateBurst  int
}

func (o Options) withDefaults() Options {
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

// SignalWSController accepts signal connections and runs their lifecycle.
type SignalWSController struct {
	Registry *app.Registry
	Relay    *app.Relay
	Verifier auth.Verifier
	Metrics  *app.Metrics

	opts     Options
	upgrader websocket.Upgrader
	pumps    sync.WaitGroup
}

func NewSignalWSController(reg *app.Registry, relay *app.Relay, v auth.Verifier, m *app.Metrics, opts Options) *SignalWSController {
	return &SignalWSController{
		Registry: reg,
		Relay:    relay,
		Verifier: v,
		Metrics:  m,
		opts:     opts.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// wsSignalConn is the outbound half of a session: a bounded frame queue
// drained by writePump.
type wsSignalConn struct {
	conn      WSConn
	send      chan core.Frame
	writeWait time.Duration

	mu     sync.RWMutex
	closed bool
}

func newWSSignalConn(conn WSConn, buffer int, writeWait time.Duration) *wsSignalConn {
	return &wsSignalConn{
		conn:      conn,
		send:      make(chan core.Frame, buffer),
		writeWait: writeWait,
	}
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (c *wsSignalConn) DropOldest() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case _, ok := <-c.send:
		return ok
	default:
		return false
	}
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	// WriteControl waits for the connection's write lock, which a stalled
	// writePump holds until its deadline. Never make the caller wait on it.
	go func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.writeWait))
		_ = c.conn.Close()
	}()
}

// credential extracts the bearer token from the handshake: query first,
// then the x-auth-token header, then the cookie session. fromCookie reports
// that the browser attached it on its own.
func credential(c *gin.Context) (token string, fromCookie bool) {
	if tok := c.Query("token"); tok != "" {
		return tok, false
	}
	if tok := c.GetHeader("x-auth-token"); tok != "" {
		return tok, false
	}
	if _, ok := c.Get(sessions.DefaultKey); ok {
		if tok, ok := sessions.Default(c).Get(TokenSessionKey).(string); ok && tok != "" {
			return tok, true
		}
	}
	return "", false
}

// sameOrigin reports whether the handshake comes from a page served by this
// host. Requests without an Origin header are not from a browser.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// HandleSignal upgrades the request and runs the connection until it closes.
// ctx bounds every connection; cancelling it tears them all down.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token, fromCookie := credential(c)
	if fromCookie && !sameOrigin(c.Request) {
		log.Warn().Str("module", "signal").Str("origin", c.GetHeader("Origin")).Msg("cookie credential from foreign origin")
		ctl.Metrics.AuthRejected()
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ctl.serve(ctx, ws, token)
}

func (ctl *SignalWSController) serve(ctx context.Context, ws WSConn, token string) {
	p := newPeer(ctl, ws)

	p.setState(stateVerifying)
	user, err := ctl.Verifier.Verify(token)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("credential rejected")
		ctl.Metrics.AuthRejected()
		p.reject()
		return
	}

	p.activate(user.ID)
	log.Info().Str("module", "signal").Str("user", string(user.ID)).Str("sid", string(p.sess.ID())).Msg("new WS connection")

	connCtx, cancel := context.WithCancel(ctx)
	ctl.pumps.Add(2)
	go func() {
		defer ctl.pumps.Done()
		defer cancel()
		ctl.writePump(connCtx, p)
	}()
	go func() {
		defer ctl.pumps.Done()
		defer cancel()
		ctl.readPump(p)
	}()
}

// Wait blocks until every connection's pumps have exited or ctx is done.
// After it returns nil no connection can route another envelope.
func (ctl *SignalWSController) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		ctl.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
