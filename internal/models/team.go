package models

import "time"

// Member is read-only roster data. ShortID is the compact numeric id used
// only inside device frames.
type Member struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	Avatar    string `json:"avatar"`
	Phone     string `json:"phone"`
	ShortID   uint64 `json:"short_id"`
	IsCaptain bool   `json:"is_captain"`
}

// Team is the roster a conversation belongs to. Lifecycle is owned by the
// roster service; this core only reads it.
type Team struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Members   []Member  `json:"members"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// MemberByShortID returns the member carrying the given device short id.
func (t Team) MemberByShortID(shortID uint64) (Member, bool) {
	for _, m := range t.Members {
		if m.ShortID == shortID {
			return m, true
		}
	}
	return Member{}, false
}
