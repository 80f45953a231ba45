package model

import (
	"time"

	"github.com/google/uuid"
)

// Role distinguishes ordinary members from organization admins.
type Role string

const (
	RoleMember   Role = "member"
	RoleOrgAdmin Role = "org_admin"
)

// User is a registered account.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Identity is the current user behind a request, registered or anonymous.
type Identity struct {
	UserID    string `json:"user_id"`
	Anonymous bool   `json:"anonymous"`
	Role      Role   `json:"role"`
}

// RegisterRequest is the payload for creating a member account.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Name     string `json:"name" binding:"required,min=2,max=100"`
	Password string `json:"password" binding:"required,min=6,max=128"`
}

// LoginRequest is the payload for authenticating a registered user.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=128"`
}

// TokenResponse is returned by every token-issuing endpoint.
type TokenResponse struct {
	Token    string   `json:"token"`
	Identity Identity `json:"identity"`
	User     *User    `json:"user,omitempty"`
}
