package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/skillswap/relay/internal/app"
	"github.com/skillswap/relay/internal/core"
)

// writePump is the only writer of data frames and pings for p.
func (ctl *SignalWSController) writePump(ctx context.Context, p *peer) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		p.close("write")
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", string(p.sess.ID())).Msg("writePump ctx done")
			return
		case data, ok := <-p.conn.send:
			if !ok {
				return
			}
			if err := p.ws.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := p.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(p.sess.ID())).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := ctl.ping(p); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(p.sess.ID())).Msg("ping failed")
				return
			}
		}
	}
}

// readPump feeds inbound frames to the relay, one at a time, which keeps
// per-sender ordering. Any read error ends the connection.
func (ctl *SignalWSController) readPump(p *peer) {
	defer p.close("read")

	ctl.armKeepalive(p)
	for {
		_, data, err := p.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(p.sess.ID())).Msg("readPump read error")
			}
			return
		}
		if !p.sess.Alive() {
			return
		}
		if !p.limiter.Allow() {
			ctl.Metrics.Envelope(core.Kind(""), app.OutcomeLimited)
			log.Debug().Str("module", "signal").Str("sid", string(p.sess.ID())).Msg("inbound rate exceeded, frame dropped")
			continue
		}
		ctl.Relay.Route(p.sess, data)
	}
}
