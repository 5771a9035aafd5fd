package model

import "time"

// Session is an audit record of a token handed out at login or registration.
// Rows are written once and never updated.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
}
