package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long Redis keeps a message.
const DefaultTTL = 7 * 24 * time.Hour

const (
	msgPrefix   = "history:msg:"   // history:msg:{id} - JSON message
	audioPrefix = "history:audio:" // history:audio:{id} - JSON voice message
	queuePrefix = "history:queue:" // history:queue:{group:name|user:name} - message ids
	audioQueue  = "history:audio"  // list of voice message ids
)

// RedisStore keeps history in Redis: each message under its own key with a
// TTL, plus one capped id list per conversation.
type RedisStore struct {
	rdb   redis.Cmdable
	limit int
	ttl   time.Duration
}

var _ Sink = (*RedisStore)(nil)

func NewRedisStore(rdb redis.Cmdable, limit int, ttl time.Duration) *RedisStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, limit: limit, ttl: ttl}
}

func (s *RedisStore) SaveTextMessage(ctx context.Context, msg Message) error {
	if err := validate(msg.From, msg.To); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	keys := []string{queuePrefix + groupKey(msg.To)}
	if !msg.IsGroup {
		keys = []string{queuePrefix + userKey(msg.From)}
		if msg.To != msg.From {
			keys = append(keys, queuePrefix+userKey(msg.To))
		}
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, msgPrefix+msg.ID, data, s.ttl)
		for _, k := range keys {
			s.push(ctx, p, k, msg.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	return nil
}

func (s *RedisStore) push(ctx context.Context, p redis.Pipeliner, key, id string) {
	p.RPush(ctx, key, id)
	p.LTrim(ctx, key, int64(-s.limit), -1)
	p.Expire(ctx, key, s.ttl)
}

func (s *RedisStore) SaveAudioMessage(ctx context.Context, from, to string, isGroup bool, data []byte) error {
	if err := validate(from, to); err != nil {
		return err
	}
	m := newAudioMessage(from, to, isGroup, data)
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal audio message: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, audioPrefix+m.ID, payload, s.ttl)
		s.push(ctx, p, audioQueue, m.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store audio message: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadMessages(ctx context.Context, target string, isGroup bool) ([]Message, error) {
	key := queuePrefix + userKey(target)
	if isGroup {
		key = queuePrefix + groupKey(target)
	}

	ids, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get message queue: %w", err)
	}

	msgs := make([]Message, 0, len(ids))
	for _, id := range ids {
		data, err := s.rdb.Get(ctx, msgPrefix+id).Result()
		if errors.Is(err, redis.Nil) {
			// Expired; drop the dangling id.
			s.rdb.LRem(ctx, key, 1, id)
			continue
		} else if err != nil {
			return nil, fmt.Errorf("failed to get message: %w", err)
		}

		var m Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// AudioMessages returns the retained voice messages, oldest first.
func (s *RedisStore) AudioMessages(ctx context.Context) ([]AudioMessage, error) {
	ids, err := s.rdb.LRange(ctx, audioQueue, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get audio queue: %w", err)
	}

	out := make([]AudioMessage, 0, len(ids))
	for _, id := range ids {
		data, err := s.rdb.Get(ctx, audioPrefix+id).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("failed to get audio message: %w", err)
		}
		var m AudioMessage
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
