package users

import (
	"strings"
	"time"
)

// Account is a username/password login owning stories.
type Account struct {
	ID           string    `gorm:"column:account_id;primaryKey;size:190;not null"`
	Username     string    `gorm:"column:username;size:64;not null;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;size:128;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	LastLoginAt  time.Time `gorm:"column:last_login_at"`
}

// TableName exposes the table backing accounts.
func (Account) TableName() string {
	return "user_accounts"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
