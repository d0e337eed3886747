package model

import "time"

// Account is a User as the backend stores it.
type Account struct {
	User
	PasswordHash string
}

type RefreshSession struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
	UserAgent *string
	IPAddress *string
}

// Active reports whether the session can still be exchanged at now.
func (s RefreshSession) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
