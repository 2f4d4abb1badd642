package models

import "time"

// NotificationSource records which feed produced a notification entry.
type NotificationSource string

// Notification sources.
const (
	SourcePoll NotificationSource = "poll"
	SourcePush NotificationSource = "push"
)

// Notification is the ephemeral per-ticket unread entry. The reconciliation
// engine holds at most one per TicketID at any time.
type Notification struct {
	TicketID  int64              `json:"ticket_id"`
	Title     string             `json:"title"`
	FromUser  string             `json:"from_user"`
	Message   string             `json:"message"`
	Timestamp string             `json:"timestamp"`
	Source    NotificationSource `json:"-"`
}

// Instant parses the notification timestamp, zero time when malformed.
func (n Notification) Instant() time.Time {
	return ParseInstant(n.Timestamp)
}
