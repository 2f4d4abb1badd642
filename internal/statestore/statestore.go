// Package statestore is the durable per-device store: read-markers and the
// current credentials, kept in a single sqlite file so they survive process
// restarts. Marker operations are best-effort; a lost marker only causes a
// spurious re-notification.
package statestore

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/assistio/intervene/internal/models"
)

// readMarker maps (user, ticket) to the newest instant the user has seen.
type readMarker struct {
	UserID    int64  `gorm:"primaryKey"`
	TicketID  int64  `gorm:"primaryKey"`
	LastSeen  string `gorm:"not null"`
	UpdatedAt time.Time
}

// credential is the singleton auth row for the device.
type credential struct {
	ID       int    `gorm:"primaryKey"`
	Token    string `gorm:"not null"`
	UserID   int64
	Username string
	Role     string
}

const credentialRowID = 1

// Store wraps the sqlite state database.
type Store struct {
	db  *gorm.DB
	log *logrus.Logger
}

// Open opens (or creates) the state database at path. Use ":memory:" in tests.
func Open(path string, log *logrus.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("statestore: open %s: %w", path, err)
	}

	if err := db.AutoMigrate(&readMarker{}, &credential{}); err != nil {
		return nil, fmt.Errorf("statestore: migrate: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("statestore: close: %w", err)
	}

	return sqlDB.Close()
}

// LastSeen returns the read-marker for (userID, ticketID). The second return
// is false when no marker exists or the store is unreadable; an absent marker
// counts as older than any message.
func (s *Store) LastSeen(userID, ticketID int64) (time.Time, bool) {
	var m readMarker

	err := s.db.First(&m, "user_id = ? AND ticket_id = ?", userID, ticketID).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.WithError(err).Warn("statestore: read-marker lookup failed")
		}

		return time.Time{}, false
	}

	ts := models.ParseInstant(m.LastSeen)
	if ts.IsZero() {
		return time.Time{}, false
	}

	return ts, true
}

// SetLastSeen overwrites the read-marker for (userID, ticketID). Callers
// always supply a value at least as new as the current marker, so a plain
// upsert suffices. Failures are swallowed with a warning.
func (s *Store) SetLastSeen(userID, ticketID int64, ts time.Time) {
	m := readMarker{
		UserID:   userID,
		TicketID: ticketID,
		LastSeen: ts.UTC().Format(time.RFC3339Nano),
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "ticket_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"user_id":   userID,
			"ticket_id": ticketID,
		}).Warn("statestore: read-marker write failed")
	}
}

// SaveCredentials stores the auth token and current-user descriptor.
func (s *Store) SaveCredentials(token string, user models.User) error {
	c := credential{
		ID:       credentialRowID,
		Token:    token,
		UserID:   user.ID,
		Username: user.Username,
		Role:     string(user.Role),
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "user_id", "username", "role"}),
	}).Create(&c).Error
	if err != nil {
		return fmt.Errorf("statestore: save credentials: %w", err)
	}

	return nil
}

// Credentials returns the stored token and user, or false when the device
// has no saved login.
func (s *Store) Credentials() (string, models.User, bool) {
	var c credential

	err := s.db.First(&c, "id = ?", credentialRowID).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.WithError(err).Warn("statestore: credential lookup failed")
		}

		return "", models.User{}, false
	}

	user := models.User{
		ID:       c.UserID,
		Username: c.Username,
		Role:     models.Role(c.Role),
	}

	return c.Token, user, true
}

// ClearCredentials removes the saved login, if any.
func (s *Store) ClearCredentials() error {
	err := s.db.Delete(&credential{}, "id = ?", credentialRowID).Error
	if err != nil {
		return fmt.Errorf("statestore: clear credentials: %w", err)
	}

	return nil
}
