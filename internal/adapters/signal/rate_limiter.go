package signal

import (
	"golang.org/x/time/rate"
)

// inboundLimiter caps how fast one connection may push envelopes.
// Frames over the limit are dropped, never queued.
type inboundLimiter struct {
	lim *rate.Limiter
}

func newInboundLimiter(perSecond float64, burst int) *inboundLimiter {
	if perSecond <= 0 {
		return &inboundLimiter{}
	}
	if burst <= 0 {
		burst = 1
	}
	return &inboundLimiter{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *inboundLimiter) Allow() bool {
	if l.lim == nil {
		return true
	}
	return l.lim.Allow()
}
