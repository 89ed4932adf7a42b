package core

import (
	"context"

	"github.com/skillswap/relay/internal/domain"
)

// MessageWriter is the persistence collaborator the relay records chat into.
type MessageWriter interface {
	RecordMessage(ctx context.Context, msg domain.Message) error
}

// MessageReader serves conversation history, oldest first.
type MessageReader interface {
	History(ctx context.Context, a, b domain.UserID, limit int) ([]domain.Message, error)
}

type MessageStore interface {
	MessageWriter
	MessageReader
	Close() error
}
