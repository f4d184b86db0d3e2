package repositories

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"teamlink/internal/models"
)

// MessageRepository is the durable message log, keyed by
// (conversation id, message id).
type MessageRepository interface {
	// InsertMessage appends a message. It reports false when a message
	// with the same server-assigned id already exists in the
	// conversation; device-originated messages (the reserved id) always
	// append.
	InsertMessage(ctx context.Context, msg models.Message) (bool, error)
	// InsertHistory appends a synced history page, skipping duplicates.
	InsertHistory(ctx context.Context, msgs []models.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// The conflict target matches the partial unique index in internal/db: the
// reserved device id is exempt from uniqueness, so every device frame lands
// as a new row.
const insertMessageQuery = `INSERT INTO messages
    (id, conversation_id, sender_id, sender_nickname, sender_avatar, sender_phone, content, sent_at, kind, longitude, latitude, reported_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    ON CONFLICT (conversation_id, id) WHERE id <> '-1' DO NOTHING`

// InsertMessage appends one message.
func (r *MessageRepo) InsertMessage(ctx context.Context, msg models.Message) (bool, error) {
	var longitude, latitude sql.NullFloat64
	var reportedAt sql.NullInt64
	if msg.Location != nil {
		longitude = sql.NullFloat64{Float64: msg.Location.Longitude, Valid: true}
		latitude = sql.NullFloat64{Float64: msg.Location.Latitude, Valid: true}
		reportedAt = sql.NullInt64{Int64: msg.Location.ReportedAt, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, insertMessageQuery,
		msg.ID, msg.ConversationID,
		msg.Sender.ID, msg.Sender.Nickname, msg.Sender.Avatar, msg.Sender.Phone,
		msg.Content, msg.SentAt, int(msg.Kind),
		longitude, latitude, reportedAt)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// InsertHistory stores a page of synced messages.
func (r *MessageRepo) InsertHistory(ctx context.Context, msgs []models.Message) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, msg := range msgs {
		var longitude, latitude sql.NullFloat64
		var reportedAt sql.NullInt64
		if msg.Location != nil {
			longitude = sql.NullFloat64{Float64: msg.Location.Longitude, Valid: true}
			latitude = sql.NullFloat64{Float64: msg.Location.Latitude, Valid: true}
			reportedAt = sql.NullInt64{Int64: msg.Location.ReportedAt, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, insertMessageQuery,
			msg.ID, msg.ConversationID,
			msg.Sender.ID, msg.Sender.Nickname, msg.Sender.Avatar, msg.Sender.Phone,
			msg.Content, msg.SentAt, int(msg.Kind),
			longitude, latitude, reportedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListMessages returns a conversation's messages ordered by send time.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT id, conversation_id, sender_id, sender_nickname, sender_avatar, sender_phone, content, sent_at, kind, longitude, latitude, reported_at
        FROM messages WHERE conversation_id=$1 ORDER BY sent_at ASC LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var (
			msg        models.Message
			kind       int
			longitude  sql.NullFloat64
			latitude   sql.NullFloat64
			reportedAt sql.NullInt64
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID,
			&msg.Sender.ID, &msg.Sender.Nickname, &msg.Sender.Avatar, &msg.Sender.Phone,
			&msg.Content, &msg.SentAt, &kind,
			&longitude, &latitude, &reportedAt); err != nil {
			return nil, err
		}
		msg.Kind = models.MessageKind(kind)
		if longitude.Valid {
			msg.Location = &models.Location{
				Longitude:  longitude.Float64,
				Latitude:   latitude.Float64,
				ReportedAt: reportedAt.Int64,
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
