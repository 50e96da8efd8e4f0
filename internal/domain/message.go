package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrMessageEmpty = errors.New("message empty")

type MessageID string

// Message is a persisted chat message record. The relay only ever sees a
// message after the store has durably accepted it.
type Message struct {
	ID         MessageID `json:"id"`
	SenderID   UserID    `json:"senderId"`
	ReceiverID UserID    `json:"receiverId"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

func NewMessage(sender, receiver UserID, text string) (*Message, error) {
	if text == "" {
		return nil, ErrMessageEmpty
	}
	return &Message{
		ID:         MessageID(uuid.NewString()),
		SenderID:   sender,
		ReceiverID: receiver,
		Text:       text,
		CreatedAt:  time.Now().UTC(),
	}, nil
}
