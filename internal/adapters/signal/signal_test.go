package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillswap/relay/internal/app"
	"github.com/skillswap/relay/internal/auth"
	"github.com/skillswap/relay/internal/core"
	"github.com/skillswap/relay/internal/domain"
)

var errFakeClosed = errors.New("use of closed connection")

// fakeWS is an in-memory WSConn. Tests push inbound frames with deliver and
// read what the server wrote from out.
type fakeWS struct {
	in  chan []byte
	out chan []byte

	mu           sync.Mutex
	closed       bool
	done         chan struct{}
	controls     []int
	pings        int
	readDeadline time.Time
	pong         func(string) error
}

func newFakeWS() *fakeWS {
	return &fakeWS{
		in:   make(chan []byte, 16),
		out:  make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

func (f *fakeWS) deliver(s string) { f.in <- []byte(s) }

func (f *fakeWS) ReadMessage() (int, []byte, error) {
	select {
	case b := <-f.in:
		return websocket.TextMessage, b, nil
	case <-f.done:
		return 0, nil, errFakeClosed
	}
}

func (f *fakeWS) WriteMessage(mt int, data []byte) error {
	if f.isClosed() {
		return errFakeClosed
	}
	switch mt {
	case websocket.TextMessage:
		f.out <- data
	case websocket.PingMessage:
		f.mu.Lock()
		f.pings++
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeWS) WriteControl(mt int, data []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errFakeClosed
	}
	if mt == websocket.CloseMessage && len(data) >= 2 {
		f.controls = append(f.controls, int(data[0])<<8|int(data[1]))
	}
	return nil
}

func (f *fakeWS) SetReadLimit(int64) {}
func (f *fakeWS) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWS) SetReadDeadline(t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readDeadline = t
	return nil
}

func (f *fakeWS) SetPongHandler(h func(appData string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pong = h
}

func (f *fakeWS) keepalive() (pings int, deadline time.Time, pong func(string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings, f.readDeadline, f.pong
}

func (f *fakeWS) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

func (f *fakeWS) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeWS) closeCodes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.controls...)
}

func (f *fakeWS) next(t *testing.T) core.Envelope {
	t.Helper()
	select {
	case b := <-f.out:
		var env core.Envelope
		require.NoError(t, json.Unmarshal(b, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound frame")
		return core.Envelope{}
	}
}

type tokenVerifier map[string]domain.UserID

func (v tokenVerifier) Verify(token string) (*domain.User, error) {
	if token == "" {
		return nil, auth.ErrMissingToken
	}
	id, ok := v[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return &domain.User{ID: id}, nil
}

type recorderStub struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorderStub) Record(from, to domain.UserID, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf("%s>%s:%s", from, to, content))
}

func (r *recorderStub) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func newTestController(v auth.Verifier) (*SignalWSController, *recorderStub) {
	reg := app.NewRegistry()
	m := app.NewMetrics(prometheus.NewRegistry())
	rec := &recorderStub{}
	relay := &app.Relay{Registry: reg, Recorder: rec, Policy: app.SimplePolicy{Action: app.DropFrame}, Metrics: m}
	return NewSignalWSController(reg, relay, v, m, Options{
		PingPeriod: time.Hour,
		PongWait:   2 * time.Hour,
		WriteWait:  time.Second,
		SendBuffer: 8,
	}), rec
}

func TestRejectedCredentialClosesWithoutRegistering(t *testing.T) {
	ctl, _ := newTestController(tokenVerifier{"good": "A"})

	for _, tok := range []string{"", "forged"} {
		ws := newFakeWS()
		ctl.serve(context.Background(), ws, tok)

		assert.True(t, ws.isClosed())
		assert.Equal(t, []int{websocket.ClosePolicyViolation}, ws.closeCodes())
		assert.Empty(t, ws.out)
	}
	assert.Equal(t, 0, ctl.Registry.Count())
}

func TestChatAndSignalBetweenPeers(t *testing.T) {
	ctl, rec := newTestController(tokenVerifier{"ta": "A", "tb": "B"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := newFakeWS(), newFakeWS()
	ctl.serve(ctx, a, "ta")
	ctl.serve(ctx, b, "tb")
	require.Equal(t, 2, ctl.Registry.Count())

	a.deliver(`{"type":"chat","from":"B","to":"B","content":"hi"}`)
	assert.Equal(t, core.Envelope{Type: core.KindChat, From: "A", To: "B", Content: "hi"}, b.next(t))

	b.deliver(`{"type":"webrtc-signal","to":"A","signal":{"answer":{"sdp":"v=0"}}}`)
	sig := a.next(t)
	assert.Equal(t, domain.UserID("B"), sig.From)
	assert.JSONEq(t, `{"answer":{"sdp":"v=0"}}`, string(sig.Signal))

	assert.Equal(t, []string{"A>B:hi"}, rec.all())
}

func TestMalformedFrameKeepsConnectionActive(t *testing.T) {
	ctl, _ := newTestController(tokenVerifier{"ta": "A", "tb": "B"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := newFakeWS(), newFakeWS()
	ctl.serve(ctx, a, "ta")
	ctl.serve(ctx, b, "tb")

	a.deliver(`{{{`)
	a.deliver(`{"type":"presence","to":"B"}`)
	a.deliver(`{"type":"chat","to":"B","content":"still here"}`)
	assert.Equal(t, "still here", b.next(t).Content)
	assert.False(t, a.isClosed())
}

func TestOrderingFromOneSender(t *testing.T) {
	ctl, _ := newTestController(tokenVerifier{"ta": "A", "tb": "B"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := newFakeWS(), newFakeWS()
	ctl.serve(ctx, a, "ta")
	ctl.serve(ctx, b, "tb")

	a.deliver(`{"type":"chat","to":"B","content":"M1"}`)
	a.deliver(`{"type":"chat","to":"B","content":"M2"}`)
	assert.Equal(t, "M1", b.next(t).Content)
	assert.Equal(t, "M2", b.next(t).Content)
}

func TestReconnectReplacesAndClosesOldConnection(t *testing.T) {
	ctl, _ := newTestController(tokenVerifier{"ta": "A", "tb": "B"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, second, b := newFakeWS(), newFakeWS(), newFakeWS()
	ctl.serve(ctx, first, "ta")
	ctl.serve(ctx, b, "tb")
	ctl.serve(ctx, second, "ta")

	require.Eventually(t, first.isClosed, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, ctl.Registry.Count())

	b.deliver(`{"type":"chat","to":"A","content":"to the new one"}`)
	assert.Equal(t, "to the new one", second.next(t).Content)

	// the old connection's teardown must not evict the new session
	sess, ok := ctl.Registry.Lookup("A")
	require.True(t, ok)
	assert.True(t, sess.Alive())
}

func TestTransportErrorUnregisters(t *testing.T) {
	ctl, _ := newTestController(tokenVerifier{"ta": "A"})
	a := newFakeWS()
	ctl.serve(context.Background(), a, "ta")
	require.Equal(t, 1, ctl.Registry.Count())

	_ = a.Close()
	require.Eventually(t, func() bool { return ctl.Registry.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestContextCancelClosesConnection(t *testing.T) {
	ctl, _ := newTestController(tokenVerifier{"ta": "A"})
	ctx, cancel := context.WithCancel(context.Background())
	a := newFakeWS()
	ctl.serve(ctx, a, "ta")

	cancel()
	require.Eventually(t, a.isClosed, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return ctl.Registry.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestPeerCloseIsIdempotent(t *testing.T) {
	ctl, _ := newTestController(tokenVerifier{})
	p := newPeer(ctl, newFakeWS())
	assert.Equal(t, stateConnecting, p.State())

	p.activate("A")
	assert.Equal(t, stateActive, p.State())

	assert.True(t, p.close("transport error"))
	assert.Equal(t, stateClosed, p.State())

	newer := core.NewSession("A", newWSSignalConn(newFakeWS(), 1, time.Second))
	ctl.Registry.Register("A", newer)

	assert.NotPanics(t, func() { assert.False(t, p.close("explicit")) })
	got, ok := ctl.Registry.Lookup("A")
	require.True(t, ok)
	assert.Same(t, newer, got)
}

func TestWSSignalConnBackpressure(t *testing.T) {
	c := newWSSignalConn(newFakeWS(), 2, time.Second)
	require.NoError(t, c.TrySend(core.Frame("1")))
	require.NoError(t, c.TrySend(core.Frame("2")))
	assert.ErrorIs(t, c.TrySend(core.Frame("3")), core.ErrBackpressure)

	assert.True(t, c.DropOldest())
	require.NoError(t, c.TrySend(core.Frame("3")))
	assert.Equal(t, core.Frame("2"), <-c.send)
	assert.Equal(t, core.Frame("3"), <-c.send)

	c.Close()
	c.Close()
	assert.ErrorIs(t, c.TrySend(core.Frame("4")), core.ErrConnClosed)
	assert.False(t, c.DropOldest())
}

func TestInboundLimiter(t *testing.T) {
	l := newInboundLimiter(1, 2)
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	unlimited := newInboundLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, unlimited.Allow())
	}
}

func TestHandleSignalOverRealWebSocket(t *testing.T) {
	gin.SetMode(gin.TestMode)
	const secret = "e2e-secret"
	ctl, rec := newTestController(auth.NewJWTVerifier(secret))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	defer srv.Close()

	issuer := auth.NewIssuer(secret)
	dial := func(uid domain.UserID) *websocket.Conn {
		tok, err := issuer.Issue(uid, string(uid), time.Minute)
		require.NoError(t, err)
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + tok
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	}

	alice := dial("alice")
	bob := dial("bob")
	require.Eventually(t, func() bool { return ctl.Registry.Count() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"webrtc-signal","to":"bob","signal":{"candidate":{"candidate":"candidate:0 1 UDP 1 10.0.0.2 9 typ host"}}}`)))
	require.NoError(t, bob.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := bob.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"webrtc-signal","from":"alice","signal":{"candidate":{"candidate":"candidate:0 1 UDP 1 10.0.0.2 9 typ host"}}}`,
		string(raw))
	assert.Empty(t, rec.all())

	// a bad token gets a policy-violation close and nothing else
	bad, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?token=nope", nil)
	require.NoError(t, err)
	defer bad.Close()
	require.NoError(t, bad.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = bad.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

// stalledWS never completes a write, like a peer that stopped reading.
// Control frames queue behind the stuck data write as they do in gorilla.
type stalledWS struct {
	*fakeWS
	release chan struct{}
}

func (s *stalledWS) WriteMessage(int, []byte) error {
	<-s.release
	return errFakeClosed
}

func (s *stalledWS) WriteControl(int, []byte, time.Time) error {
	<-s.release
	return errFakeClosed
}

func TestKickDoesNotBlockSender(t *testing.T) {
	ctl, _ := newTestController(tokenVerifier{"ta": "A", "tb": "B"})
	ctl.Relay.Policy = app.SimplePolicy{Action: app.KickMember}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := &stalledWS{fakeWS: newFakeWS(), release: make(chan struct{})}
	t.Cleanup(func() { close(b.release) })
	ctl.serve(ctx, newFakeWS(), "ta")
	ctl.serve(ctx, b, "tb")

	sender, ok := ctl.Registry.Lookup("A")
	require.True(t, ok)
	recipient, ok := ctl.Registry.Lookup("B")
	require.True(t, ok)

	for i := 0; i < 3*ctl.opts.SendBuffer; i++ {
		start := time.Now()
		ctl.Relay.Route(sender, []byte(`{"type":"chat","to":"B","content":"are you there?"}`))
		require.Less(t, time.Since(start), 200*time.Millisecond, "route %d blocked on the recipient", i)
	}
	assert.False(t, recipient.Alive())
}

func TestKeepalivePingsAndPongExtendsDeadline(t *testing.T) {
	ctl, _ := newTestController(tokenVerifier{"ta": "A"})
	ctl.opts.PingPeriod = 10 * time.Millisecond
	ctl.opts.PongWait = time.Minute
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newFakeWS()
	ctl.serve(ctx, a, "ta")

	require.Eventually(t, func() bool {
		pings, deadline, pong := a.keepalive()
		return pings >= 2 && !deadline.IsZero() && pong != nil
	}, time.Second, 5*time.Millisecond)

	_, armed, pong := a.keepalive()
	assert.WithinDuration(t, time.Now().Add(time.Minute), armed, 5*time.Second)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, pong(""))
	_, extended, _ := a.keepalive()
	assert.True(t, extended.After(armed))
}

func TestWaitReturnsOncePumpsExit(t *testing.T) {
	ctl, _ := newTestController(tokenVerifier{"ta": "A"})
	ctx, cancel := context.WithCancel(context.Background())
	ctl.serve(ctx, newFakeWS(), "ta")

	short, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stop()
	assert.ErrorIs(t, ctl.Wait(short), context.DeadlineExceeded)

	cancel()
	waitCtx, stopWait := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopWait()
	require.NoError(t, ctl.Wait(waitCtx))
	assert.Equal(t, 0, ctl.Registry.Count())
}

func TestSameOrigin(t *testing.T) {
	cases := map[string]bool{
		"":                       true,
		"http://relay.test":      true,
		"https://RELAY.test":     true,
		"http://evil.test":       false,
		"http://relay.test:8080": false,
		"://bad":                 false,
	}
	for origin, want := range cases {
		req := httptest.NewRequest("GET", "http://relay.test/ws", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		assert.Equal(t, want, sameOrigin(req), origin)
	}
}
