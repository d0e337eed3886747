package model

import (
	"strings"
	"time"
)

type Role string

const (
	RoleCommuter Role = "commuter"
	RoleDriver   Role = "driver"
	RoleAdmin    Role = "admin"
	RoleParent   Role = "parent"
	RoleStaff    Role = "staff"
)

// ParseRole normalises the role spellings used across the apps.
// Unknown values are returned unchanged and fail Valid.
func ParseRole(value string) Role {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "passenger", "customer":
		return RoleCommuter
	case "guardian":
		return RoleParent
	case "employee":
		return RoleStaff
	}
	return Role(normalized)
}

func (r Role) Valid() bool {
	switch r {
	case RoleCommuter, RoleDriver, RoleAdmin, RoleParent, RoleStaff:
		return true
	default:
		return false
	}
}

type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone,omitempty"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	Role       Role      `json:"role"`
	IsVerified bool      `json:"isVerified"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterData struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone,omitempty"`
	Role      Role   `json:"role,omitempty"`
}

type AuthResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
}
