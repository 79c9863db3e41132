package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin    UserRole = "ADMIN"
	RoleGuardian UserRole = "GUARDIAN"
	RoleStudent  UserRole = "STUDENT"
)

// User represents an account stored in the users table. Guardians log in with
// their email, students with their username and PIN.
type User struct {
	ID                 string     `db:"id" json:"id"`
	Email              *string    `db:"email" json:"email,omitempty"`
	Username           string     `db:"username" json:"username"`
	PasswordHash       string     `db:"password_hash" json:"-"`
	FullName           string     `db:"full_name" json:"full_name"`
	Role               UserRole   `db:"role" json:"role"`
	Active             bool       `db:"active" json:"active"`
	MustChangePassword bool       `db:"must_change_password" json:"must_change_password"`
	LastLogin          *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// EmailValue returns the email or an empty string.
func (u *User) EmailValue() string {
	if u == nil || u.Email == nil {
		return ""
	}
	return *u.Email
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
