package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"teamlink/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository owns the persisted conversation aggregates.
// RecordIncoming and MarkRead are the only unread-count writers; the
// ingestion pipeline is the sole caller of RecordIncoming.
type ConversationRepository interface {
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	UpsertConversation(ctx context.Context, conversation models.Conversation) error
	// RecordIncoming bumps the unread counter and advances the latest
	// snapshot when the new message is at least as recent.
	RecordIncoming(ctx context.Context, id string, latest models.LatestMessage) error
	MarkRead(ctx context.Context, id string) error
}

// ConversationRepo is a sqlx-backed repository. The latest-message snapshot
// is stored as JSON through explicit encode/decode so the column format is
// swappable.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

func encodeLatest(latest *models.LatestMessage) ([]byte, error) {
	if latest == nil {
		return nil, nil
	}
	return json.Marshal(latest)
}

func decodeLatest(raw []byte) (*models.LatestMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var latest models.LatestMessage
	if err := json.Unmarshal(raw, &latest); err != nil {
		return nil, err
	}
	return &latest, nil
}

func scanConversation(row interface {
	Scan(dest ...any) error
}) (models.Conversation, error) {
	var (
		conversation     models.Conversation
		conversationType string
		latestRaw        []byte
		createdAt        time.Time
	)
	err := row.Scan(
		&conversation.ID,
		&conversation.TeamID,
		&conversation.TeamSize,
		&conversation.Name,
		&conversationType,
		&createdAt,
		&latestRaw,
		&conversation.UnreadCount,
	)
	if err != nil {
		return models.Conversation{}, err
	}
	conversation.Type = models.ConversationType(conversationType)
	conversation.CreatedAt = createdAt
	conversation.Latest, err = decodeLatest(latestRaw)
	return conversation, err
}

const conversationColumns = `id, team_id, team_size, name, type, created_at, latest_message, unread_count`

// GetConversation retrieves one conversation.
func (r *ConversationRepo) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, id)
	conversation, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conversation, err
}

// ListConversations returns every conversation, newest activity first.
func (r *ConversationRepo) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT `+conversationColumns+` FROM conversations ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conversation)
	}
	return conversations, rows.Err()
}

// UpsertConversation creates or refreshes a conversation shell. Unread count
// and latest snapshot are left untouched on conflict; only the pipeline
// advances those.
func (r *ConversationRepo) UpsertConversation(ctx context.Context, conversation models.Conversation) error {
	latestRaw, err := encodeLatest(conversation.Latest)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO conversations (id, team_id, team_size, name, type, created_at, latest_message, unread_count)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (id) DO UPDATE SET team_id=EXCLUDED.team_id, team_size=EXCLUDED.team_size, name=EXCLUDED.name, type=EXCLUDED.type`,
		conversation.ID, conversation.TeamID, conversation.TeamSize, conversation.Name, string(conversation.Type), conversation.CreatedAt, latestRaw, conversation.UnreadCount)
	return err
}

// RecordIncoming applies one ingested message to the aggregate: unread goes
// up by one, the snapshot advances only when the message is not older than
// the current one.
func (r *ConversationRepo) RecordIncoming(ctx context.Context, id string, latest models.LatestMessage) error {
	latestRaw, err := encodeLatest(&latest)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE conversations
        SET unread_count = unread_count + 1,
            latest_message = CASE WHEN latest_sent_at IS NULL OR latest_sent_at <= $3 THEN $2 ELSE latest_message END,
            latest_sent_at = CASE WHEN latest_sent_at IS NULL OR latest_sent_at <= $3 THEN $3 ELSE latest_sent_at END
        WHERE id=$1`, id, latestRaw, latest.SentAt)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// MarkRead zeroes the unread counter. This is the explicit user action, not
// part of the ingestion pipeline.
func (r *ConversationRepo) MarkRead(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET unread_count = 0 WHERE id=$1`, id)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}
