package user

import (
	"errors"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // never expose hash in JSON
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	IsActive     bool      `json:"is_active"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

var (
	ErrNotFound         = errors.New("user not found")
	ErrEmailAlreadyUsed = errors.New("email already in use")
)

// CreateUserRequest is the self-registration payload. Write endpoints accept
// JSON, urlencoded forms and multipart, so fields carry both tag sets.
type CreateUserRequest struct {
	Email      string `json:"email" form:"email" binding:"required,email,max=255"`
	FirstName  string `json:"first_name" form:"first_name" binding:"required,max=255"`
	LastName   string `json:"last_name" form:"last_name" binding:"required,max=255"`
	Password   string `json:"password" form:"password" binding:"required,min=8"`
	RePassword string `json:"re_password" form:"re_password" binding:"required"`
}

// UpdateUserRequest is the PUT payload. Email and id are read-only; email
// changes go through the reset_email flow.
type UpdateUserRequest struct {
	FirstName string `json:"first_name" form:"first_name" binding:"required,max=255"`
	LastName  string `json:"last_name" form:"last_name" binding:"required,max=255"`
}

// PatchUserRequest is the PATCH payload; either field may be omitted.
type PatchUserRequest struct {
	FirstName *string `json:"first_name" form:"first_name" binding:"omitempty,max=255"`
	LastName  *string `json:"last_name" form:"last_name" binding:"omitempty,max=255"`
}
