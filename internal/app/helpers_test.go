package app

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skillswap/relay/internal/core"
	"github.com/skillswap/relay/internal/domain"
)

// queueConn is a bounded in-memory SignalConnection.
type queueConn struct {
	mu     sync.Mutex
	frames []core.Frame
	limit  int
	closed bool
}

func newQueueConn(limit int) *queueConn { return &queueConn{limit: limit} }

func (c *queueConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.limit > 0 && len(c.frames) >= c.limit {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *queueConn) DropOldest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return false
	}
	c.frames = c.frames[1:]
	return true
}

func (c *queueConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *queueConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *queueConn) envelopes(t *testing.T) []core.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		var env core.Envelope
		require.NoError(t, json.Unmarshal(f, &env))
		out = append(out, env)
	}
	return out
}

type recordedLine struct {
	From, To domain.UserID
	Content  string
}

type fakeRecorder struct {
	mu    sync.Mutex
	lines []recordedLine
}

func (r *fakeRecorder) Record(from, to domain.UserID, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, recordedLine{From: from, To: to, Content: content})
}

func (r *fakeRecorder) all() []recordedLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedLine(nil), r.lines...)
}
