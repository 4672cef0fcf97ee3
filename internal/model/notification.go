package model

import "time"

// Notification is created once by a publishing action and mutated only via
// the read flag.
type Notification struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	UserID    string    `bson:"user_id" json:"user_id"`
	ActorID   *string   `bson:"actor_id" json:"actor_id"`
	ActorName *string   `bson:"actor_name" json:"actor_name"`
	ActorRole *string   `bson:"actor_role" json:"actor_role"`
	Type      string    `bson:"type" json:"type"`
	Title     string    `bson:"title" json:"title"`
	Message   string    `bson:"message" json:"message"`
	Link      *string   `bson:"link" json:"link"`
	Read      bool      `bson:"read" json:"read"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Conversation is derived state, never persisted: one entry per correspondent,
// keyed by the other participant's id.
type Conversation struct {
	User        ProfileSummary `json:"user"`
	LastMessage Message        `json:"last_message"`
	UnreadCount int            `json:"unread_count"`
}
