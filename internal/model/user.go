package model

import (
	"time"
)

// User is a clinician account.
type User struct {
	Base
	Email        string     `db:"email" json:"email"`
	Name         string     `db:"name" json:"name"`
	PasswordHash string     `db:"password_hash" json:"-"`
	MonthlyQuota int        `db:"monthly_quota" json:"monthly_quota"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
}
