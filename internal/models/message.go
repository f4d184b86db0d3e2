package models

// MessageKind discriminates message payloads. The numeric values are shared
// with the device wire format and must not be reordered.
type MessageKind int

const (
	KindChat MessageKind = iota
	KindSOS
	KindSafety
	KindSystem
	KindPlatform
	KindQuickCommand
	KindLocation
)

// CarriesLocation reports whether messages of this kind always carry a
// location payload.
func (k MessageKind) CarriesLocation() bool {
	return k == KindSOS || k == KindSafety || k == KindLocation
}

func (k MessageKind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindSOS:
		return "sos"
	case KindSafety:
		return "safety"
	case KindSystem:
		return "system"
	case KindPlatform:
		return "platform"
	case KindQuickCommand:
		return "quick_command"
	case KindLocation:
		return "location"
	default:
		return "unknown"
	}
}

// DeviceMessageID is the reserved id assigned to every device-originated
// message; the tracker cannot mint server ids. Repeated delivery of the same
// physical frame is therefore not deduplicatable by id.
const DeviceMessageID = "-1"

// SenderSnapshot is the sender identity captured at ingestion time.
type SenderSnapshot struct {
	ID       string `db:"sender_id" json:"sender_id"`
	Nickname string `db:"sender_nickname" json:"sender_nickname"`
	Avatar   string `db:"sender_avatar" json:"sender_avatar"`
	Phone    string `db:"sender_phone" json:"sender_phone"`
}

// Location is an optional coordinate payload. ReportedAt is unix seconds.
type Location struct {
	Longitude  float64 `json:"longitude"`
	Latitude   float64 `json:"latitude"`
	ReportedAt int64   `json:"reported_at"`
}

// Message is the canonical, immutable record of one team message. SentAt is
// unix milliseconds.
type Message struct {
	ID             string         `db:"id" json:"id"`
	ConversationID string         `db:"conversation_id" json:"conversation_id"`
	Sender         SenderSnapshot `json:"sender"`
	Content        string         `db:"content" json:"content"`
	SentAt         int64          `db:"sent_at" json:"sent_at"`
	Kind           MessageKind    `db:"kind" json:"kind"`
	Location       *Location      `json:"location,omitempty"`
}
