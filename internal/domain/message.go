package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is one persisted chat line between two users.
type Message struct {
	ID        string    `json:"id"`
	From      UserID    `json:"from"`
	To        UserID    `json:"to"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func NewMessage(from, to UserID, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}
