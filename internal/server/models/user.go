// Package models holds the server-side domain records shared by repositories,
// services and the HTTP layer.
package models

import (
	"strings"
	"time"
)

// Role is the enumerated view of User.SuperAdmin.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleUser       Role = "user"
)

// Status is the enumerated view of User.Disabled.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// User is an account row. Email is the login name and unique business key;
// PasswordHash only ever holds a bcrypt hash.
type User struct {
	ID           int64
	FirstName    string
	LastName     string
	Email        string
	PasswordHash string
	SuperAdmin   bool
	Disabled     bool
	CreatedAt    time.Time
}

// DisplayName is "First Last", falling back to the email when both are empty.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

func (u *User) Role() Role {
	if u.SuperAdmin {
		return RoleSuperAdmin
	}
	return RoleUser
}

func (u *User) Status() Status {
	if u.Disabled {
		return StatusDisabled
	}
	return StatusActive
}
