package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/skillswap/relay/internal/domain"
)

type Kind string

const (
	KindChat   Kind = "chat"
	KindSignal Kind = "webrtc-signal"
)

var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is the JSON unit exchanged over a signal connection.
// From is never decoded from input; the relay sets it on output.
// Signal holds an offer, answer or candidate blob and is never inspected.
type Envelope struct {
	Type    Kind            `json:"type"`
	From    domain.UserID   `json:"from,omitempty"`
	To      domain.UserID   `json:"to,omitempty"`
	Content string          `json:"content,omitempty"`
	Signal  json.RawMessage `json:"signal,omitempty"`
}

// inbound is what a client may send. It has no from field, so whatever the
// client puts there is neither trusted nor able to break decoding.
type inbound struct {
	Type    Kind            `json:"type"`
	To      domain.UserID   `json:"to"`
	Content string          `json:"content"`
	Signal  json.RawMessage `json:"signal"`
}

type chatFrame struct {
	Type    Kind          `json:"type"`
	From    domain.UserID `json:"from"`
	To      domain.UserID `json:"to"`
	Content string        `json:"content"`
}

type signalFrame struct {
	Type   Kind            `json:"type"`
	From   domain.UserID   `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	return Envelope{Type: in.Type, To: in.To, Content: in.Content, Signal: in.Signal}, nil
}

// Encode renders the outbound shape for e.Type: chat always carries
// content, a signal never carries to.
func (e Envelope) Encode() (Frame, error) {
	var v any = e
	switch e.Type {
	case KindChat:
		v = chatFrame{Type: e.Type, From: e.From, To: e.To, Content: e.Content}
	case KindSignal:
		v = signalFrame{Type: e.Type, From: e.From, Signal: e.Signal}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}
