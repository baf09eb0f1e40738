// Package store provides storage backends for AtendeBot.
//
// It defines the Store interface over the five persisted entities and ships
// SQLite, PostgreSQL and in-memory implementations. The SQL backends share
// the same schema, applied from embedded migration files.
package store

import (
	"strings"
	"time"

	"github.com/cajulimao/atendebot/internal/models"
)

// Store is the durable persistence contract consumed by the conversation
// cache, the handoff arbitrator and the dashboard API.
type Store interface {
	// UpsertContact looks up a contact by phone, refreshing the display name
	// when present and creating the row when absent. The returned id is
	// stable across calls and is the foreign key for interactions and
	// feedback.
	UpsertContact(phone, name string) (int64, error)
	// GetContact returns the contact for the phone, or nil when unknown.
	GetContact(phone string) (*models.Contact, error)

	// SaveConversationState inserts or replaces the contact's state row.
	SaveConversationState(state models.ConversationState) error
	// GetConversationState returns the state row, or nil when absent.
	GetConversationState(phone string) (*models.ConversationState, error)
	// DeleteConversationState removes the state row if present.
	DeleteConversationState(phone string) error
	// ListConversationStates returns every state row, used once at startup
	// to rehydrate the in-memory cache.
	ListConversationStates() ([]models.ConversationState, error)

	// AddInteraction appends a conversation log row and returns its id.
	AddInteraction(in models.Interaction) (int64, error)
	// ClearHandedOff resets the handed-off flag on every interaction row of
	// the contact, used when a handoff ends.
	ClearHandedOff(phone string) error
	// HasRecentHandedOff reports whether the contact has a handed-off
	// interaction row newer than the window.
	HasRecentHandedOff(phone string, window time.Duration) (bool, error)
	// ListHandedOffSince returns the distinct phones with handed-off rows
	// newer than the window, used to rebuild handoff records after restart.
	ListHandedOffSince(window time.Duration) ([]string, error)
	// ListActiveHandoffRows returns the dashboard projection of handed-off
	// contacts with their latest protocol and operator within the window.
	ListActiveHandoffRows(window time.Duration) ([]models.ActiveHandoff, error)

	// AddFeedback appends a feedback entry and returns its id.
	AddFeedback(f models.FeedbackEntry) (int64, error)
	// ListFeedback returns all feedback entries joined with their contact,
	// newest first.
	ListFeedback() ([]models.FeedbackReport, error)

	// Close releases the underlying database resources.
	Close() error
}

// Opts holds configuration options for the SQL-backed stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store constructors.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite" so callers can
// pick the matching backend without a separate driver setting.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
