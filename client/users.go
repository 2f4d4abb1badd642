package client

import (
	"context"

	"github.com/assistio/intervene/internal/models"
)

// UserService handles principal lookups.
type UserService struct {
	c *Client
}

// Me returns the user the client's token authenticates as. Used at login to
// learn the principal's id and role before opening any channel.
func (s *UserService) Me(ctx context.Context) (*models.User, error) {
	var u models.User
	if err := s.c.get(ctx, "/api/users/me/", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
