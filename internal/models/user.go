package models

import (
	"time"
)

type User struct {
	ID        string `gorm:"primaryKey"`
	Username  string `gorm:"uniqueIndex;not null"` // Normalized: lowercase, [a-z0-9._@+-]
	Email     string
	FirstName string
	LastName  string

	// PasswordHash is empty for directory-backed users; the directory
	// remains the authority for their credentials.
	PasswordHash string

	IsActive bool `gorm:"not null;default:true"`

	// AuthSource is the id of the backend that created this user
	// ("standard", "ldap", "ad", "nis", "x509", "digest").
	AuthSource string `gorm:"default:'standard'"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasUsablePassword returns true if the user can authenticate against
// the local credential store.
func (u *User) HasUsablePassword() bool {
	return u.PasswordHash != ""
}

// IsExternal returns true if the user was provisioned from a directory
// or other external identity source.
func (u *User) IsExternal() bool {
	return u.AuthSource != "standard" && u.AuthSource != ""
}

// FullName joins the first and last name, skipping empty parts.
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}
