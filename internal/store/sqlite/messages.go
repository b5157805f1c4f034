package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/inboxd/internal/store"
)

// MessageStore implements store.MessageStore on SQLite.
type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) InsertMessage(ctx context.Context, row *store.MessageRow) (string, error) {
	if row.ID == "" {
		row.ID = uuid.Must(uuid.NewV7()).String()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, external_id, reply_to, channel, tenant_channel_id, conversation_key,
		                       direction, sender, recipient, type, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, nullString(row.ExternalID), nullString(row.ReplyTo), row.Channel, row.TenantChannelID,
		row.ConversationKey, row.Direction, row.Sender, row.Recipient, row.Type, row.Content, toMillis(row.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", store.ErrDuplicateExternalID
		}
		return "", fmt.Errorf("insert message: %w", err)
	}
	return row.ID, nil
}

func (s *MessageStore) ExistsExternalID(ctx context.Context, externalID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE external_id = ?)`, externalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check external_id: %w", err)
	}
	return exists == 1, nil
}

func (s *MessageStore) ListConversation(ctx context.Context, conversationKey string, limit int) ([]store.MessageRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, external_id, reply_to, channel, tenant_channel_id, conversation_key,
		        direction, sender, recipient, type, content, created_at
		 FROM (
		   SELECT * FROM messages WHERE conversation_key = ?
		   ORDER BY seq DESC LIMIT ?
		 )
		 ORDER BY seq ASC`,
		conversationKey, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	defer rows.Close()

	var result []store.MessageRow
	for rows.Next() {
		var (
			m                   store.MessageRow
			externalID, replyTo sql.NullString
			createdAt           int64
		)
		if err := rows.Scan(&m.ID, &externalID, &replyTo, &m.Channel, &m.TenantChannelID, &m.ConversationKey,
			&m.Direction, &m.Sender, &m.Recipient, &m.Type, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ExternalID = externalID.String
		m.ReplyTo = replyTo.String
		m.CreatedAt = fromMillis(createdAt)
		result = append(result, m)
	}
	return result, rows.Err()
}

// Ping verifies the database connection.
func (s *MessageStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
