package domain

import "time"

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID          string
	Email       string
	Username    string
	DisplayName string
	Role        string
	Status      UserStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLoginAt *time.Time
}

// UserWithPassword never leaves the store/authenticator boundary.
type UserWithPassword struct {
	User
	PasswordHash string
}

// RateLimitEntry is active only while now is before ExpiresAt.
type RateLimitEntry struct {
	Key       string
	Attempts  int
	ExpiresAt time.Time
}

func (e RateLimitEntry) Active(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}
