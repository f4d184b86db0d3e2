package models

import "time"

// ConversationType classifies a conversation.
type ConversationType string

const (
	ConversationSingle  ConversationType = "single"
	ConversationGroup   ConversationType = "group"
	ConversationSystem  ConversationType = "system"
	ConversationService ConversationType = "service"
)

// LatestMessage is the denormalized projection of the newest message in a
// conversation, kept for cheap list rendering.
type LatestMessage struct {
	MessageID  string `json:"message_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Content    string `json:"content"`
	SentAt     int64  `json:"sent_at"`
}

// Conversation is the per-conversation aggregate. UnreadCount and Latest are
// written only by the ingestion pipeline and the explicit mark-read action.
type Conversation struct {
	ID          string           `db:"id" json:"id"`
	TeamID      string           `db:"team_id" json:"team_id"`
	TeamSize    int              `db:"team_size" json:"team_size"`
	Name        string           `db:"name" json:"name"`
	Type        ConversationType `db:"type" json:"type"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	Latest      *LatestMessage   `json:"latest_message,omitempty"`
	UnreadCount int              `db:"unread_count" json:"unread_count"`
}

// LatestFromMessage builds the snapshot projection of msg.
func LatestFromMessage(msg Message) LatestMessage {
	return LatestMessage{
		MessageID:  msg.ID,
		SenderID:   msg.Sender.ID,
		SenderName: msg.Sender.Nickname,
		Content:    msg.Content,
		SentAt:     msg.SentAt,
	}
}
