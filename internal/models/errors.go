package models

import "errors"

// Sentinel errors shared across the client core. They map onto the error
// taxonomy the UI distinguishes: missing credentials, role gating, session
// lifecycle, and rating validation.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrRoleForbidden   = errors.New("only clients and employees can send chat messages")
	ErrSessionClosed   = errors.New("chat session is closed")
	ErrNotConnected    = errors.New("chat channel is not connected")
	ErrInvalidRating   = errors.New("rating must be between 1 and 5")
)
