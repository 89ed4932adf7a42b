package signal

import (
	"time"

	"github.com/gorilla/websocket"
)

// armKeepalive bounds frame size and expects a pong within PongWait of
// every ping.
func (ctl *SignalWSController) armKeepalive(p *peer) {
	if ctl.opts.ReadLimit > 0 {
		p.ws.SetReadLimit(ctl.opts.ReadLimit)
	}
	_ = p.ws.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	p.ws.SetPongHandler(func(string) error {
		return p.ws.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})
}

func (ctl *SignalWSController) ping(p *peer) error {
	if err := p.ws.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
		return err
	}
	return p.ws.WriteMessage(websocket.PingMessage, nil)
}
