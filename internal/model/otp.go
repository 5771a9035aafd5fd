package model

import "time"

// OTPCode is a one-time numeric code sent to an email address.
//
// For a given Email at most one row has Used == false.
type OTPCode struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Code      string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	Used      bool      `json:"used"`
}
