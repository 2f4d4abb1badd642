package models

import "time"

// MessageKind distinguishes user chat lines from server-generated notices.
type MessageKind string

// Known message kinds.
const (
	KindChat   MessageKind = "chat"
	KindSystem MessageKind = "system"
)

// Message is one entry in a ticket's thread. Timestamp keeps the original
// instant string from the wire; Instant parses it for comparisons and
// display formatting.
type Message struct {
	TicketID  int64       `json:"ticket_id"`
	Kind      MessageKind `json:"type"`
	AuthorID  int64       `json:"user_id"`
	Author    string      `json:"user"`
	Content   string      `json:"message"`
	Timestamp string      `json:"timestamp"`
}

// Instant parses the message timestamp. Malformed timestamps collapse to the
// zero time, which compares older than any real marker.
func (m Message) Instant() time.Time {
	return ParseInstant(m.Timestamp)
}

// FromOther reports whether the message was authored by someone other than
// the given user. System messages carry no author and never count.
func (m Message) FromOther(userID int64) bool {
	return m.Kind != KindSystem && m.AuthorID != 0 && m.AuthorID != userID
}

// Ticket is an intervention as returned by the backend, with its embedded
// message thread. Status and priority are carried opaquely for display.
type Ticket struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Status         string    `json:"status,omitempty"`
	Priority       string    `json:"priority,omitempty"`
	AssignedUserID *int64    `json:"assigned_user_id,omitempty"`
	ChatRating     *int      `json:"chat_rating,omitempty"`
	Messages       []Message `json:"messages,omitempty"`
}

// LastMessage returns the newest message of the thread, or false when the
// thread is empty.
func (t Ticket) LastMessage() (Message, bool) {
	if len(t.Messages) == 0 {
		return Message{}, false
	}

	return t.Messages[len(t.Messages)-1], true
}

// ParseInstant parses an ISO instant string, returning the zero time when it
// does not parse.
func ParseInstant(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}

	return time.Time{}
}
