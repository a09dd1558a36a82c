package models

import "time"

// User is the chat-side read model of an identity. Profile fields are owned by the
// identity provider; the chat core only writes Online and LastSeen.
type User struct {
	ID          string     `gorm:"primaryKey;size:64" json:"id"`
	DisplayName string     `gorm:"size:128" json:"display_name"`
	AvatarURL   string     `gorm:"size:512" json:"avatar_url"`
	Online      bool       `gorm:"not null;default:false;index" json:"online"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
