package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skillswap/relay/internal/core"
	"github.com/skillswap/relay/internal/domain"
)

// RecordQueue persists chat lines on its own goroutine so storage latency
// never reaches the delivery path. A full queue drops the line.
type RecordQueue struct {
	writer  core.MessageWriter
	queue   chan domain.Message
	timeout time.Duration
	metrics *Metrics
}

func NewRecordQueue(w core.MessageWriter, size int, timeout time.Duration, m *Metrics) *RecordQueue {
	if size <= 0 {
		size = 1
	}
	return &RecordQueue{
		writer:  w,
		queue:   make(chan domain.Message, size),
		timeout: timeout,
		metrics: m,
	}
}

func (q *RecordQueue) Record(from, to domain.UserID, content string) {
	msg := domain.NewMessage(from, to, content)
	select {
	case q.queue <- msg:
	default:
		log.Warn().Str("module", "app.recorder").Str("from", string(from)).Str("to", string(to)).Msg("record queue full, message not persisted")
		q.metrics.Record("dropped")
	}
}

// Run writes queued messages until ctx is done, then drains what is left.
func (q *RecordQueue) Run(ctx context.Context) error {
	log.Info().Str("module", "app.recorder").Int("capacity", cap(q.queue)).Msg("record worker started")
	for {
		select {
		case <-ctx.Done():
			n := q.drain()
			log.Info().Str("module", "app.recorder").Int("drained", n).Msg("record worker stopped")
			return nil
		case msg := <-q.queue:
			q.write(msg)
		}
	}
}

func (q *RecordQueue) drain() int {
	n := 0
	for {
		select {
		case msg := <-q.queue:
			q.write(msg)
			n++
		default:
			return n
		}
	}
}

func (q *RecordQueue) write(msg domain.Message) {
	ctx := context.Background()
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	if err := q.writer.RecordMessage(ctx, msg); err != nil {
		log.Error().Err(err).Str("module", "app.recorder").Str("id", msg.ID).Msg("persist message")
		q.metrics.Record("failed")
		return
	}
	q.metrics.Record("stored")
}
