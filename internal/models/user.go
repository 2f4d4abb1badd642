// Package models defines the shared domain types of the intervention client:
// users and roles, tickets and their message threads, derived notifications,
// and the tagged frame variants carried by the chat and notification channels.
package models

// Role is the platform role of a principal.
type Role string

// Known platform roles.
const (
	RoleClient   Role = "client"
	RoleEmployee Role = "employee"
	RoleAdmin    Role = "admin"
)

// CanChat reports whether the role is allowed to send chat messages.
// Other roles (admin included) participate view-only.
func (r Role) CanChat() bool {
	return r == RoleClient || r == RoleEmployee
}

// User is the current-principal descriptor persisted alongside the auth token.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"user_type"`
}
