// Package model defines the data structures used throughout the application.
package model

import "time"

// Default values written into new identity rows.
const (
	DefaultStudentRole  = "student"
	DefaultAdminRole    = "admin"
	AccountStatusActive = "active"
)

// User is a student account from the users table.
//
// Role is the account's stored role ("student" by default) and is distinct
// from the token Role enum: every student logs in with RoleUser.
type User struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	PhoneNumber   string     `json:"phone_number"`
	Email         string     `json:"email,omitempty"` // optional; unique when set
	ParentNumber  string     `json:"parent_number"`
	BirthDate     time.Time  `json:"birth_date"`
	Governorate   string     `json:"governorate"`
	Password      Credential `json:"-"`
	Role          string     `json:"role"`
	AccountStatus string     `json:"account_status"`
	Grade         string     `json:"grade"`
	Section       string     `json:"section"`
	LangType      string     `json:"lang_type"`
	Points        int        `json:"points"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Admin is a staff account from the admins table.
type Admin struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	PhoneNumber   string     `json:"phone_number"`
	Password      Credential `json:"-"`
	Role          string     `json:"role"`
	AccountStatus string     `json:"account_status"`
	CreatedAt     time.Time  `json:"created_at"`
}
