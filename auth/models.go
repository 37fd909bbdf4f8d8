package auth

import "time"

// Kind classifies platform accounts. Agents list and search on their own
// mandates; apporteurs (lead providers) only bring deals and are capped on
// percentage splits; admins run the back office.
type Kind string

const (
	KindAgent     Kind = "agent"
	KindApporteur Kind = "apporteur"
	KindAdmin     Kind = "admin"
)

// User is the domain representation of an authenticated user. It mirrors the
// users table and carries no JSON annotations so it can be reused by
// different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Phone        *string
	Kind         Kind
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Kind     Kind   `json:"kind"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
