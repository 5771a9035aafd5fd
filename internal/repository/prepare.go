package repository

import (
	"time"

	"github.com/rs/xid"

	"github.com/naqwa/academy/internal/model"
)

// PrepareUser fills the server-assigned fields of a user about to be
// inserted. CreatedAt is truncated to milliseconds, the coarsest precision
// any backing store keeps, so the value in a freshly minted token matches
// what a later read returns.
func PrepareUser(user *model.User) {
	if user.ID == "" {
		user.ID = xid.New().String()
	}
	user.CreatedAt = storedTime(user.CreatedAt)
	if user.Role == "" {
		user.Role = model.DefaultStudentRole
	}
	if user.AccountStatus == "" {
		user.AccountStatus = model.AccountStatusActive
	}
}

func PrepareAdmin(admin *model.Admin) {
	if admin.ID == "" {
		admin.ID = xid.New().String()
	}
	admin.CreatedAt = storedTime(admin.CreatedAt)
	if admin.Role == "" {
		admin.Role = model.DefaultAdminRole
	}
	if admin.AccountStatus == "" {
		admin.AccountStatus = model.AccountStatusActive
	}
}

func storedTime(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Truncate(time.Millisecond)
}
