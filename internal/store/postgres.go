// Package store provides storage backends for AtendeBot.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/cajulimao/atendebot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// UpsertContact looks up a contact by phone, creating it on first sight and
// refreshing the stored name when a real one is observed.
func (s *PostgresStore) UpsertContact(phone, name string) (int64, error) {
	if name == "" {
		name = models.DefaultContactName
	}

	var id int64
	var current string
	err := s.db.QueryRow(`SELECT id, nome FROM contatos WHERE telefone = $1`, phone).Scan(&id, &current)
	if err == nil {
		if name != current && name != models.DefaultContactName {
			if _, uerr := s.db.Exec(`UPDATE contatos SET nome = $1 WHERE telefone = $2`, name, phone); uerr != nil {
				slog.Error("PostgresStore UpsertContact name refresh failed", "error", uerr, "phone", phone)
				return 0, fmt.Errorf("failed to refresh contact name for %s: %w", phone, uerr)
			}
		}
		return id, nil
	}
	if err != sql.ErrNoRows {
		slog.Error("PostgresStore UpsertContact lookup failed", "error", err, "phone", phone)
		return 0, fmt.Errorf("failed to look up contact %s: %w", phone, err)
	}

	err = s.db.QueryRow(
		`INSERT INTO contatos (telefone, nome) VALUES ($1, $2)
		 ON CONFLICT (telefone) DO UPDATE SET nome = contatos.nome
		 RETURNING id`, phone, name).Scan(&id)
	if err != nil {
		slog.Error("PostgresStore UpsertContact insert failed", "error", err, "phone", phone)
		return 0, fmt.Errorf("failed to insert contact %s: %w", phone, err)
	}
	slog.Debug("PostgresStore UpsertContact created", "phone", phone, "id", id)
	return id, nil
}

// GetContact retrieves a contact by phone, or nil if unknown.
func (s *PostgresStore) GetContact(phone string) (*models.Contact, error) {
	var c models.Contact
	var name sql.NullString
	err := s.db.QueryRow(`SELECT id, telefone, nome, data_criacao FROM contatos WHERE telefone = $1`, phone).
		Scan(&c.ID, &c.Phone, &name, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetContact failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query contact %s: %w", phone, err)
	}
	c.Name = name.String
	return &c, nil
}

// SaveConversationState inserts or replaces the contact's state row.
func (s *PostgresStore) SaveConversationState(state models.ConversationState) error {
	_, err := s.db.Exec(
		`INSERT INTO estados (telefone, estado, filial, dados, atualizado_em) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (telefone) DO UPDATE SET estado = $2, filial = $3, dados = $4, atualizado_em = $5`,
		state.Phone, string(state.State), nilIfEmpty(string(state.Branch)), nilIfEmpty(state.Payload), state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState failed", "error", err, "phone", state.Phone)
		return fmt.Errorf("failed to save state for %s: %w", state.Phone, err)
	}
	return nil
}

// GetConversationState retrieves the state row for a contact, or nil if absent.
func (s *PostgresStore) GetConversationState(phone string) (*models.ConversationState, error) {
	row := s.db.QueryRow(`SELECT telefone, estado, filial, dados, atualizado_em FROM estados WHERE telefone = $1`, phone)
	st, err := scanConversationStateRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversationState failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query state for %s: %w", phone, err)
	}
	return st, nil
}

// DeleteConversationState removes the state row for a contact.
func (s *PostgresStore) DeleteConversationState(phone string) error {
	_, err := s.db.Exec(`DELETE FROM estados WHERE telefone = $1`, phone)
	if err != nil {
		slog.Error("PostgresStore DeleteConversationState failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to delete state for %s: %w", phone, err)
	}
	return nil
}

// ListConversationStates returns every persisted state row.
func (s *PostgresStore) ListConversationStates() ([]models.ConversationState, error) {
	rows, err := s.db.Query(`SELECT telefone, estado, filial, dados, atualizado_em FROM estados`)
	if err != nil {
		slog.Error("PostgresStore ListConversationStates query failed", "error", err)
		return nil, fmt.Errorf("failed to query states: %w", err)
	}
	defer rows.Close()

	var states []models.ConversationState
	for rows.Next() {
		st, err := scanConversationState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, *st)
	}
	return states, rows.Err()
}

// AddInteraction appends a conversation log row.
func (s *PostgresStore) AddInteraction(in models.Interaction) (int64, error) {
	var id int64
	err := s.db.QueryRow(
		`INSERT INTO interacoes (telefone, contato_id, mensagem, remetente, data, atendido, protocolo, atendente)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		in.Phone, nilIfZero(in.ContactID), in.Body, string(in.Sender), in.CreatedAt, in.HandedOff,
		nilIfEmpty(in.Protocol), nilIfEmpty(in.Operator)).Scan(&id)
	if err != nil {
		slog.Error("PostgresStore AddInteraction failed", "error", err, "phone", in.Phone)
		return 0, fmt.Errorf("failed to insert interaction for %s: %w", in.Phone, err)
	}
	return id, nil
}

// ClearHandedOff resets the handed-off flag for every interaction of a contact.
func (s *PostgresStore) ClearHandedOff(phone string) error {
	_, err := s.db.Exec(`UPDATE interacoes SET atendido = FALSE WHERE telefone = $1 AND atendido = TRUE`, phone)
	if err != nil {
		slog.Error("PostgresStore ClearHandedOff failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to clear handed-off rows for %s: %w", phone, err)
	}
	return nil
}

// HasRecentHandedOff reports whether the contact has a handed-off interaction
// newer than the window.
func (s *PostgresStore) HasRecentHandedOff(phone string, window time.Duration) (bool, error) {
	cutoff := time.Now().Add(-window)
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM interacoes WHERE telefone = $1 AND atendido = TRUE AND data > $2 LIMIT 1`,
		phone, cutoff).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("PostgresStore HasRecentHandedOff failed", "error", err, "phone", phone)
		return false, fmt.Errorf("failed to query handed-off rows for %s: %w", phone, err)
	}
	return true, nil
}

// ListHandedOffSince returns the distinct phones with handed-off interactions
// newer than the window that still have a persisted conversation state.
func (s *PostgresStore) ListHandedOffSince(window time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-window)
	rows, err := s.db.Query(
		`SELECT DISTINCT interacoes.telefone FROM interacoes
		 JOIN estados ON interacoes.telefone = estados.telefone
		 WHERE interacoes.atendido = TRUE AND interacoes.data > $1`, cutoff)
	if err != nil {
		slog.Error("PostgresStore ListHandedOffSince query failed", "error", err)
		return nil, fmt.Errorf("failed to query handed-off phones: %w", err)
	}
	defer rows.Close()

	var phones []string
	for rows.Next() {
		var phone string
		if err := rows.Scan(&phone); err != nil {
			return nil, fmt.Errorf("failed to scan handed-off phone: %w", err)
		}
		phones = append(phones, phone)
	}
	return phones, rows.Err()
}

// ListActiveHandoffRows returns the dashboard projection of handed-off
// contacts within the window, newest first.
func (s *PostgresStore) ListActiveHandoffRows(window time.Duration) ([]models.ActiveHandoff, error) {
	cutoff := time.Now().Add(-window)
	rows, err := s.db.Query(
		`SELECT telefone, MAX(protocolo), MAX(data), MAX(atendente) FROM interacoes
		 WHERE atendido = TRUE AND data > $1
		 GROUP BY telefone ORDER BY MAX(data) DESC`, cutoff)
	if err != nil {
		slog.Error("PostgresStore ListActiveHandoffRows query failed", "error", err)
		return nil, fmt.Errorf("failed to query active handoffs: %w", err)
	}
	defer rows.Close()

	var out []models.ActiveHandoff
	for rows.Next() {
		h, err := scanActiveHandoff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// AddFeedback appends a feedback entry.
func (s *PostgresStore) AddFeedback(f models.FeedbackEntry) (int64, error) {
	var id int64
	err := s.db.QueryRow(
		`INSERT INTO feedback (contato_id, tipo, texto, data) VALUES ($1, $2, $3, $4) RETURNING id`,
		f.ContactID, string(f.Kind), f.Text, f.CreatedAt).Scan(&id)
	if err != nil {
		slog.Error("PostgresStore AddFeedback failed", "error", err, "contactID", f.ContactID)
		return 0, fmt.Errorf("failed to insert feedback: %w", err)
	}
	return id, nil
}

// ListFeedback returns every feedback entry joined with its contact, newest first.
func (s *PostgresStore) ListFeedback() ([]models.FeedbackReport, error) {
	rows, err := s.db.Query(
		`SELECT f.id, f.contato_id, f.tipo, f.texto, f.data, c.telefone, c.nome
		 FROM feedback f JOIN contatos c ON f.contato_id = c.id
		 ORDER BY f.data DESC`)
	if err != nil {
		slog.Error("PostgresStore ListFeedback query failed", "error", err)
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	var out []models.FeedbackReport
	for rows.Next() {
		r, err := scanFeedbackReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
