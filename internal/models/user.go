package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleStudent    UserRole = "student"
	RoleInstructor UserRole = "instructor"
	RoleAdmin      UserRole = "admin"
	RoleSuperuser  UserRole = "superuser"
)

// ParseRole maps free text onto a known role.
func ParseRole(raw string) (UserRole, bool) {
	switch UserRole(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleStudent:
		return RoleStudent, true
	case RoleInstructor:
		return RoleInstructor, true
	case RoleAdmin:
		return RoleAdmin, true
	case RoleSuperuser:
		return RoleSuperuser, true
	}
	return "", false
}

// NormalizeRole is applied once when a user row is written. Unknown or empty
// roles become student, so read sites never need a default.
func NormalizeRole(raw string) UserRole {
	if role, ok := ParseRole(raw); ok {
		return role
	}
	return RoleStudent
}

// IsStaff reports whether the role may manage the catalog.
func (r UserRole) IsStaff() bool {
	return r == RoleAdmin || r == RoleSuperuser || r == RoleInstructor
}

// IsAdmin reports whether the role may manage users and purchases.
func (r UserRole) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperuser
}

// UserStatus is the account state.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
)

// UserProfile is the self-service part of an account, stored as JSONB.
type UserProfile struct {
	Headline  string `json:"headline,omitempty"`
	Bio       string `json:"bio,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Website   string `json:"website,omitempty"`
}

// Value marshals the profile for storage.
func (p UserProfile) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal user profile: %w", err)
	}
	return data, nil
}

// Scan unmarshals the stored profile.
func (p *UserProfile) Scan(value interface{}) error {
	*p = UserProfile{}
	return scanJSON(value, p, "UserProfile")
}

// User represents an application user stored in the users table.
type User struct {
	ID           string      `db:"id" json:"id"`
	Email        string      `db:"email" json:"email"`
	PasswordHash string      `db:"password_hash" json:"-"`
	DisplayName  string      `db:"display_name" json:"display_name"`
	Role         UserRole    `db:"role" json:"role"`
	Status       UserStatus  `db:"status" json:"status"`
	Profile      UserProfile `db:"profile" json:"profile"`
	LastLogin    *time.Time  `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

// Active reports whether the account may sign in.
func (u *User) Active() bool {
	return u.Status == UserStatusActive
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Status    *UserStatus
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
