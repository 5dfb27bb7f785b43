package history

import (
	"context"
	"fmt"
	"slices"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// textRecord is the gorm model for a text message.
type textRecord struct {
	ID        string    `gorm:"primarykey;size:36"`
	Sender    string    `gorm:"size:100;not null;index"`
	Recipient string    `gorm:"size:100;not null;index"`
	Content   string    `gorm:"not null"`
	IsGroup   bool      `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"index"`
}

func (textRecord) TableName() string {
	return "messages"
}

// audioRecord is the gorm model for a voice message.
type audioRecord struct {
	ID        string `gorm:"primarykey;size:36"`
	Sender    string `gorm:"size:100;not null;index"`
	Recipient string `gorm:"size:100;not null;index"`
	IsGroup   bool   `gorm:"not null"`
	Data      []byte
	CreatedAt time.Time `gorm:"index"`
}

func (audioRecord) TableName() string {
	return "audio_messages"
}

// SQLStore persists history through gorm.
type SQLStore struct {
	db    *gorm.DB
	limit int
}

var _ Sink = (*SQLStore)(nil)

// OpenSQLite opens (or creates) a SQLite database at path.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// SQLite allows one writer; ":memory:" databases are per connection.
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// NewSQLStore migrates the schema and returns a store that replays up to
// limit messages per conversation.
func NewSQLStore(db *gorm.DB, limit int) (*SQLStore, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if err := db.AutoMigrate(&textRecord{}, &audioRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history schema: %w", err)
	}
	return &SQLStore{db: db, limit: limit}, nil
}

func (s *SQLStore) SaveTextMessage(ctx context.Context, msg Message) error {
	if err := validate(msg.From, msg.To); err != nil {
		return err
	}
	rec := textRecord{
		ID:        msg.ID,
		Sender:    msg.From,
		Recipient: msg.To,
		Content:   msg.Content,
		IsGroup:   msg.IsGroup,
		CreatedAt: msg.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (s *SQLStore) SaveAudioMessage(ctx context.Context, from, to string, isGroup bool, data []byte) error {
	if err := validate(from, to); err != nil {
		return err
	}
	m := newAudioMessage(from, to, isGroup, data)
	rec := audioRecord{
		ID:        m.ID,
		Sender:    m.From,
		Recipient: m.To,
		IsGroup:   m.IsGroup,
		Data:      m.Data,
		CreatedAt: m.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to save audio message: %w", err)
	}
	return nil
}

func (s *SQLStore) LoadMessages(ctx context.Context, target string, isGroup bool) ([]Message, error) {
	q := s.db.WithContext(ctx).Model(&textRecord{})
	if isGroup {
		q = q.Where("is_group = ? AND recipient = ?", true, target)
	} else {
		q = q.Where("is_group = ? AND (recipient = ? OR sender = ?)", false, target, target)
	}

	var recs []textRecord
	if err := q.Order("created_at DESC").Order("id DESC").Limit(s.limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	slices.Reverse(recs)

	msgs := make([]Message, 0, len(recs))
	for _, r := range recs {
		msgs = append(msgs, Message{
			ID:        r.ID,
			From:      r.Sender,
			To:        r.Recipient,
			Content:   r.Content,
			IsGroup:   r.IsGroup,
			Timestamp: r.CreatedAt,
		})
	}
	return msgs, nil
}

// AudioMessages returns up to limit voice messages addressed to target,
// oldest first.
func (s *SQLStore) AudioMessages(ctx context.Context, target string) ([]AudioMessage, error) {
	var recs []audioRecord
	err := s.db.WithContext(ctx).
		Where("recipient = ?", target).
		Order("created_at DESC").
		Limit(s.limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load audio messages: %w", err)
	}
	slices.Reverse(recs)

	out := make([]AudioMessage, 0, len(recs))
	for _, r := range recs {
		out = append(out, AudioMessage{
			ID:        r.ID,
			From:      r.Sender,
			To:        r.Recipient,
			IsGroup:   r.IsGroup,
			Data:      r.Data,
			Timestamp: r.CreatedAt,
		})
	}
	return out, nil
}
