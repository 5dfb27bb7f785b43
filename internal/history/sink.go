// Package history stores chat and voice messages for later replay.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultLimit is how many messages a store keeps per conversation.
const DefaultLimit = 100

var ErrEmptyAddress = errors.New("message needs a sender and a target")

// Message is an immutable text message record.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"content"`
	IsGroup   bool      `json:"is_group"`
	Timestamp time.Time `json:"timestamp"`
}

// AudioMessage is an immutable voice message record.
type AudioMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	IsGroup   bool      `json:"is_group"`
	Data      []byte    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink persists messages and replays them by conversation.
type Sink interface {
	SaveTextMessage(ctx context.Context, msg Message) error
	SaveAudioMessage(ctx context.Context, from, to string, isGroup bool, data []byte) error
	// LoadMessages returns the messages sent to a group, or sent by or to a
	// user, oldest first.
	LoadMessages(ctx context.Context, target string, isGroup bool) ([]Message, error)
}

// NewMessage stamps a new text message with an id and the current time.
func NewMessage(from, to, content string, isGroup bool) Message {
	return Message{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Content:   content,
		IsGroup:   isGroup,
		Timestamp: time.Now(),
	}
}

func newAudioMessage(from, to string, isGroup bool, data []byte) AudioMessage {
	return AudioMessage{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		IsGroup:   isGroup,
		Data:      append([]byte(nil), data...),
		Timestamp: time.Now(),
	}
}

// Between keeps only the private messages exchanged by a and b.
func Between(msgs []Message, a, b string) []Message {
	var out []Message
	for _, m := range msgs {
		if m.IsGroup {
			continue
		}
		if (m.From == a && m.To == b) || (m.From == b && m.To == a) {
			out = append(out, m)
		}
	}
	return out
}

func validate(from, to string) error {
	if from == "" || to == "" {
		return ErrEmptyAddress
	}
	return nil
}
