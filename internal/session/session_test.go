package session_test

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/assistio/intervene/internal/models"
	"github.com/assistio/intervene/internal/session"
	"github.com/assistio/intervene/internal/statestore"
)

func openTestStore(t *testing.T) *statestore.Store {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	s, err := statestore.Open(":memory:", log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() }) //nolint:errcheck

	return s
}

func TestFromStore_NoCredentials(t *testing.T) {
	store := openTestStore(t)

	_, err := session.FromStore(store)
	if !errors.Is(err, models.ErrUnauthenticated) {
		t.Errorf("got %v, want ErrUnauthenticated", err)
	}
}

func TestFromStore_RefreshPicksUpNewLogin(t *testing.T) {
	store := openTestStore(t)

	alice := models.User{ID: 1, Username: "alice", Role: models.RoleClient}
	if err := store.SaveCredentials("tok-1", alice); err != nil {
		t.Fatalf("save: %v", err)
	}

	ctx, err := session.FromStore(store)
	if err != nil {
		t.Fatalf("FromStore: %v", err)
	}

	if !ctx.Authenticated() || ctx.User() != alice {
		t.Fatalf("unexpected context: user=%#v", ctx.User())
	}

	bob := models.User{ID: 2, Username: "bob", Role: models.RoleEmployee}
	if err := store.SaveCredentials("tok-2", bob); err != nil {
		t.Fatalf("re-save: %v", err)
	}

	if err := ctx.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if ctx.User() != bob || ctx.Token().Value() != "tok-2" {
		t.Errorf("refresh did not pick up new login: %#v", ctx.User())
	}
}

func TestNew_DetachedContext(t *testing.T) {
	ctx := session.New("tok", models.User{ID: 1, Role: models.RoleAdmin})

	if err := ctx.Refresh(); err != nil {
		t.Errorf("detached Refresh should be a no-op, got %v", err)
	}

	if !ctx.Authenticated() {
		t.Error("expected authenticated context")
	}

	if session.New("", models.User{}).Authenticated() {
		t.Error("empty token must not count as authenticated")
	}
}
