package models

import "time"

// StaffRole distinguishes front-line agents from administrators.
type StaffRole string

const (
	RoleAgent StaffRole = "AGENT"
	RoleAdmin StaffRole = "ADMIN"
)

// Staff is an agent or admin who can own sessions.
type Staff struct {
	ID          string     `json:"id" db:"id"`
	Username    string     `json:"username" db:"username"`
	Role        StaffRole  `json:"role" db:"role"`
	IsOnline    bool       `json:"isOnline" db:"is_online"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty" db:"last_login_at"`
}

// IsStaffRole reports whether role may handle sessions.
func IsStaffRole(role StaffRole) bool {
	return role == RoleAgent || role == RoleAdmin
}
