package domain

import "time"

type ActivityAction string

const (
	ActivityLogin          ActivityAction = "login"
	ActivityLoginFailed    ActivityAction = "login_failed"
	ActivityLoginThrottled ActivityAction = "login_throttled"
	ActivityLogout         ActivityAction = "logout"
)

type Activity struct {
	ID        int64          `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	Action    ActivityAction `json:"action"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
