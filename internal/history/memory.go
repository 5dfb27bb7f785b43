package history

import (
	"context"
	"sync"
)

// MemoryStore keeps the most recent messages of each conversation in
// memory.
type MemoryStore struct {
	mu    sync.RWMutex
	limit int
	texts map[string][]Message
	audio []AudioMessage
}

var _ Sink = (*MemoryStore)(nil)

// NewMemoryStore creates a store that keeps limit messages per
// conversation; limit <= 0 selects DefaultLimit.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &MemoryStore{
		limit: limit,
		texts: make(map[string][]Message),
	}
}

func (s *MemoryStore) SaveTextMessage(ctx context.Context, msg Message) error {
	if err := validate(msg.From, msg.To); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.IsGroup {
		s.append(groupKey(msg.To), msg)
		return nil
	}
	s.append(userKey(msg.From), msg)
	if msg.To != msg.From {
		s.append(userKey(msg.To), msg)
	}
	return nil
}

func (s *MemoryStore) append(key string, msg Message) {
	msgs := append(s.texts[key], msg)
	if len(msgs) > s.limit {
		msgs = msgs[len(msgs)-s.limit:]
	}
	s.texts[key] = msgs
}

func (s *MemoryStore) SaveAudioMessage(ctx context.Context, from, to string, isGroup bool, data []byte) error {
	if err := validate(from, to); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.audio = append(s.audio, newAudioMessage(from, to, isGroup, data))
	if len(s.audio) > s.limit {
		s.audio = s.audio[len(s.audio)-s.limit:]
	}
	return nil
}

func (s *MemoryStore) LoadMessages(ctx context.Context, target string, isGroup bool) ([]Message, error) {
	key := userKey(target)
	if isGroup {
		key = groupKey(target)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.texts[key]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// AudioMessages returns the retained voice messages, oldest first.
func (s *MemoryStore) AudioMessages() []AudioMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]AudioMessage, len(s.audio))
	copy(out, s.audio)
	return out
}

func groupKey(name string) string { return "group:" + name }
func userKey(name string) string  { return "user:" + name }
