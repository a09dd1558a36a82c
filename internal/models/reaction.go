package models

import "time"

// Reaction is the authoritative ledger row for one user's emoji on one message.
type Reaction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MessageID string    `gorm:"size:36;not null;uniqueIndex:idx_reaction_actor" json:"message_id"`
	UserID    string    `gorm:"size:64;not null;uniqueIndex:idx_reaction_actor" json:"user_id"`
	Emoji     string    `gorm:"size:32;not null;uniqueIndex:idx_reaction_actor" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}
