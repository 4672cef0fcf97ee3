package model

import "time"

// ProfileSummary is the denormalized slice of a user profile attached to
// messages at read time via a join. Optimistic entries carry a placeholder
// summary until the server echo replaces them.
type ProfileSummary struct {
	ID        string `bson:"_id,omitempty" json:"id,omitempty"`
	FullName  string `bson:"full_name" json:"full_name"`
	AvatarURL string `bson:"avatar_url" json:"avatar_url"`
	Email     string `bson:"email,omitempty" json:"email,omitempty"`
}

// Message is a direct message row. Immutable once persisted except for the
// is_read flag, which only the recipient may flip.
type Message struct {
	ID          int64     `bson:"_id" json:"id"`
	Content     string    `bson:"content" json:"content"`
	UserID      string    `bson:"user_id" json:"user_id"`
	RecipientID *string   `bson:"recipient_id" json:"recipient_id"`
	IsRead      bool      `bson:"is_read" json:"is_read"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`

	// Joined at read time; nil for optimistic entries until the echo lands.
	Author    *ProfileSummary `bson:"author,omitempty" json:"user_profiles,omitempty"`
	Recipient *ProfileSummary `bson:"recipient,omitempty" json:"recipient_profile,omitempty"`
}

// RecipientOrEmpty returns the recipient id, or "" for broadcast/legacy rows
// with a null recipient.
func (m *Message) RecipientOrEmpty() string {
	if m.RecipientID == nil {
		return ""
	}
	return *m.RecipientID
}
