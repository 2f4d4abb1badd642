package client

import (
	"context"
	"fmt"

	"github.com/assistio/intervene/internal/models"
)

// TicketService handles intervention (ticket) read operations.
type TicketService struct {
	c *Client
}

// Author is the nested user object on a REST message.
type Author struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Message is the REST wire shape of one thread entry. The channel shape
// differs (flat user fields); Normalize converts to the shared model.
type Message struct {
	ID        int64  `json:"id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	User      Author `json:"user"`
}

// Normalize converts the REST wire shape into the shared message model.
func (m Message) Normalize(ticketID int64) models.Message {
	return models.Message{
		TicketID:  ticketID,
		Kind:      models.KindChat,
		AuthorID:  m.User.ID,
		Author:    m.User.Username,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
}

// Ticket is the REST wire shape of an intervention with its embedded thread.
type Ticket struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Status         string    `json:"status,omitempty"`
	Priority       string    `json:"priority,omitempty"`
	AssignedUserID *int64    `json:"assigned_user_id,omitempty"`
	ChatRating     *int      `json:"chat_rating,omitempty"`
	Messages       []Message `json:"messages,omitempty"`
}

// Normalize converts the REST ticket into the shared model.
func (t Ticket) Normalize() models.Ticket {
	ticket := models.Ticket{
		ID:             t.ID,
		Title:          t.Title,
		Status:         t.Status,
		Priority:       t.Priority,
		AssignedUserID: t.AssignedUserID,
		ChatRating:     t.ChatRating,
	}
	for _, m := range t.Messages {
		ticket.Messages = append(ticket.Messages, m.Normalize(t.ID))
	}
	return ticket
}

// List returns all interventions visible to the authenticated user, each
// with its embedded message thread.
func (s *TicketService) List(ctx context.Context) ([]Ticket, error) {
	var tickets []Ticket
	if err := s.c.get(ctx, "/api/interventions/", nil, &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

// Get returns a single intervention, including its final chat rating when
// the chat has been closed and rated.
func (s *TicketService) Get(ctx context.Context, id int64) (*Ticket, error) {
	var ticket Ticket
	if err := s.c.get(ctx, fmt.Sprintf("/api/interventions/%d/", id), nil, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// Messages returns the full message history of an intervention in
// server-given order.
func (s *TicketService) Messages(ctx context.Context, id int64) ([]Message, error) {
	var msgs []Message
	if err := s.c.get(ctx, fmt.Sprintf("/api/interventions/%d/messages/", id), nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}
