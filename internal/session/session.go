// Package session holds the explicit session context: the auth token and the
// current-user descriptor every component receives at construction. It is
// read-only after creation except for Refresh, which re-reads the durable
// store (e.g. after a login in another tab).
package session

import (
	"sync"

	"github.com/assistio/intervene/internal/config"
	"github.com/assistio/intervene/internal/models"
	"github.com/assistio/intervene/internal/statestore"
)

// Context carries the current principal and token.
type Context struct {
	mu    sync.RWMutex
	token config.Secret
	user  models.User
	store *statestore.Store
}

// New creates a context from an explicit token and user, detached from any
// store. Refresh is a no-op on such a context.
func New(token config.Secret, user models.User) *Context {
	return &Context{token: token, user: user}
}

// FromStore creates a context backed by the device's saved credentials.
// Returns models.ErrUnauthenticated when no login is saved.
func FromStore(store *statestore.Store) (*Context, error) {
	ctx := &Context{store: store}
	if err := ctx.Refresh(); err != nil {
		return nil, err
	}

	return ctx, nil
}

// Token returns the auth token.
func (c *Context) Token() config.Secret {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.token
}

// User returns the current-user descriptor.
func (c *Context) User() models.User {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.user
}

// Authenticated reports whether a non-empty token is present.
func (c *Context) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.token.Value() != ""
}

// Refresh re-reads credentials from the backing store. Contexts created with
// New keep their original values.
func (c *Context) Refresh() error {
	if c.store == nil {
		return nil
	}

	token, user, ok := c.store.Credentials()
	if !ok {
		return models.ErrUnauthenticated
	}

	c.mu.Lock()
	c.token = config.Secret(token)
	c.user = user
	c.mu.Unlock()

	return nil
}
