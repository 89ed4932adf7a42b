package app

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/skillswap/relay/internal/core"
	"github.com/skillswap/relay/internal/domain"
)

// ChatRecorder receives every routed chat line. Record must not block.
type ChatRecorder interface {
	Record(from, to domain.UserID, content string)
}

// Relay forwards envelopes from one session to the session bound to the
// destination user. Delivery is best effort and never acknowledged.
type Relay struct {
	Registry *Registry
	Recorder ChatRecorder
	Policy   Policy
	Metrics  *Metrics
}

// Route handles one raw inbound frame from sender. The sender field is
// always taken from the session, never from the frame.
func (r *Relay) Route(sender *core.Session, data []byte) {
	env, err := core.DecodeEnvelope(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Str("sid", string(sender.ID())).Msg("drop malformed envelope")
		r.Metrics.Envelope("", OutcomeMalformed)
		return
	}

	switch env.Type {
	case core.KindChat:
		r.routeChat(sender, env)
	case core.KindSignal:
		r.routeSignal(sender, env)
	default:
		log.Debug().Str("module", "app.relay").Str("sid", string(sender.ID())).Str("type", string(env.Type)).Msg("drop unknown envelope type")
		r.Metrics.Envelope(env.Type, OutcomeUnknown)
	}
}

func (r *Relay) routeChat(sender *core.Session, env core.Envelope) {
	if env.To == "" {
		log.Warn().Str("module", "app.relay").Str("sid", string(sender.ID())).Msg("drop chat without recipient")
		r.Metrics.Envelope(core.KindChat, OutcomeMalformed)
		return
	}
	out := core.Envelope{
		Type:    core.KindChat,
		From:    sender.User(),
		To:      env.To,
		Content: env.Content,
	}

	if dst, ok := r.Registry.Lookup(env.To); ok {
		r.forward(dst, out)
	} else {
		r.Metrics.Envelope(core.KindChat, OutcomeOffline)
	}

	if r.Recorder != nil {
		r.Recorder.Record(out.From, out.To, out.Content)
	}
}

func (r *Relay) routeSignal(sender *core.Session, env core.Envelope) {
	if env.To == "" {
		log.Warn().Str("module", "app.relay").Str("sid", string(sender.ID())).Msg("drop signal without recipient")
		r.Metrics.Envelope(core.KindSignal, OutcomeMalformed)
		return
	}
	dst, ok := r.Registry.Lookup(env.To)
	if !ok {
		log.Debug().Str("module", "app.relay").Str("from", string(sender.User())).Str("to", string(env.To)).Msg("signal recipient offline")
		r.Metrics.Envelope(core.KindSignal, OutcomeOffline)
		return
	}
	r.forward(dst, core.Envelope{
		Type:   core.KindSignal,
		From:   sender.User(),
		Signal: env.Signal,
	})
}

func (r *Relay) forward(dst *core.Session, env core.Envelope) {
	frame, err := env.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("encode outbound")
		r.Metrics.Envelope(env.Type, OutcomeDropped)
		return
	}

	err = dst.Signal().TrySend(frame)
	switch {
	case err == nil:
		r.Metrics.Envelope(env.Type, OutcomeDelivered)
	case errors.Is(err, core.ErrBackpressure):
		r.onBackpressure(dst, env.Type, frame)
	default:
		// Recipient is tearing down; its unregister is on the way.
		r.Metrics.Envelope(env.Type, OutcomeOffline)
	}
}

func (r *Relay) onBackpressure(dst *core.Session, kind core.Kind, frame core.Frame) {
	action := DropFrame
	if r.Policy != nil {
		action = r.Policy.OnBackPressure(dst)
	}
	logger := log.Debug().Str("module", "app.relay").Str("to", string(dst.User())).Str("sid", string(dst.ID())).Stringer("action", action)

	switch action {
	case DropOldest:
		if d, ok := dst.Signal().(core.OldestDropper); ok && d.DropOldest() {
			if dst.Signal().TrySend(frame) == nil {
				logger.Msg("evicted oldest queued frame")
				r.Metrics.Envelope(kind, OutcomeDelivered)
				return
			}
		}
	case KickMember:
		dst.Close()
	case DropFrame:
	}
	logger.Msg("recipient queue full, frame dropped")
	r.Metrics.Envelope(kind, OutcomeDropped)
}
