package model

// UserProfile is owned by the identity store; read-only here.
type UserProfile struct {
	ID        string `bson:"_id" json:"id"`
	FullName  string `bson:"full_name" json:"full_name"`
	AvatarURL string `bson:"avatar_url" json:"avatar_url"`
	Email     string `bson:"email" json:"email"`
	Role      string `bson:"role" json:"role"`
}

// Summary projects the profile down to the shape joined onto messages.
func (u *UserProfile) Summary() ProfileSummary {
	return ProfileSummary{ID: u.ID, FullName: u.FullName, AvatarURL: u.AvatarURL, Email: u.Email}
}
