package models

import (
	"strings"
	"time"
)

// AccountRole enumerates the roles an account may hold.
type AccountRole string

const (
	RoleUser  AccountRole = "user"
	RoleAdmin AccountRole = "admin"
)

// Account is a registered member of the network. Username and Email are
// stored lowercased so the unique indexes enforce case-insensitive uniqueness.
type Account struct {
	BaseModel

	Name     string      `gorm:"not null" json:"name"`
	Username string      `gorm:"uniqueIndex;not null;size:64" json:"username"`
	Email    string      `gorm:"uniqueIndex;not null;size:320" json:"email"`
	Password string      `gorm:"not null" json:"-"`
	Role     AccountRole `gorm:"not null;default:user;size:16;index" json:"role"`
	Avatar   string      `json:"avatar"`

	Verified   bool       `gorm:"not null;default:false" json:"verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`

	// PendingToken mirrors the last verification token issued. It is empty
	// once the account is verified.
	PendingToken          string     `gorm:"size:2048" json:"-"`
	PendingTokenExpiresAt *time.Time `gorm:"index" json:"-"`
}

// IsAdmin reports whether the account bypasses domain and verification gating.
func (a *Account) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}

// EmailDomain returns the lowercased domain part of email, or "" when the
// address has none.
func EmailDomain(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return email[at+1:]
}

// AccountSummary is the public projection embedded in posts and comments.
type AccountSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Summary projects the account to its public fields.
func (a *Account) Summary() *AccountSummary {
	if a == nil || a.ID == "" {
		return nil
	}
	return &AccountSummary{ID: a.ID, Name: a.Name, Username: a.Username, Avatar: a.Avatar}
}
