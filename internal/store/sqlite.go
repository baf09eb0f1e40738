// Package store provides storage backends for AtendeBot.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/cajulimao/atendebot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// UpsertContact looks up a contact by phone, creating it on first sight and
// refreshing the stored name when a real one is observed. The placeholder
// name never overwrites a previously captured name.
func (s *SQLiteStore) UpsertContact(phone, name string) (int64, error) {
	if name == "" {
		name = models.DefaultContactName
	}

	var id int64
	var current string
	err := s.db.QueryRow(`SELECT id, nome FROM contatos WHERE telefone = ?`, phone).Scan(&id, &current)
	if err == nil {
		if name != current && name != models.DefaultContactName {
			if _, uerr := s.db.Exec(`UPDATE contatos SET nome = ? WHERE telefone = ?`, name, phone); uerr != nil {
				slog.Error("SQLiteStore UpsertContact name refresh failed", "error", uerr, "phone", phone)
				return 0, fmt.Errorf("failed to refresh contact name for %s: %w", phone, uerr)
			}
		}
		return id, nil
	}
	if err != sql.ErrNoRows {
		slog.Error("SQLiteStore UpsertContact lookup failed", "error", err, "phone", phone)
		return 0, fmt.Errorf("failed to look up contact %s: %w", phone, err)
	}

	res, err := s.db.Exec(`INSERT INTO contatos (telefone, nome) VALUES (?, ?)`, phone, name)
	if err != nil {
		// A concurrent first-contact insert can beat us; the unique constraint
		// on telefone makes re-reading safe.
		if serr := s.db.QueryRow(`SELECT id FROM contatos WHERE telefone = ?`, phone).Scan(&id); serr == nil {
			return id, nil
		}
		slog.Error("SQLiteStore UpsertContact insert failed", "error", err, "phone", phone)
		return 0, fmt.Errorf("failed to insert contact %s: %w", phone, err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read contact id for %s: %w", phone, err)
	}
	slog.Debug("SQLiteStore UpsertContact created", "phone", phone, "id", id)
	return id, nil
}

// GetContact retrieves a contact by phone, or nil if unknown.
func (s *SQLiteStore) GetContact(phone string) (*models.Contact, error) {
	var c models.Contact
	var name sql.NullString
	err := s.db.QueryRow(`SELECT id, telefone, nome, data_criacao FROM contatos WHERE telefone = ?`, phone).
		Scan(&c.ID, &c.Phone, &name, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetContact failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query contact %s: %w", phone, err)
	}
	c.Name = name.String
	return &c, nil
}

// SaveConversationState inserts or replaces the contact's state row.
func (s *SQLiteStore) SaveConversationState(state models.ConversationState) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO estados (telefone, estado, filial, dados, atualizado_em) VALUES (?, ?, ?, ?, ?)`,
		state.Phone, string(state.State), nilIfEmpty(string(state.Branch)), nilIfEmpty(state.Payload), state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState failed", "error", err, "phone", state.Phone)
		return fmt.Errorf("failed to save state for %s: %w", state.Phone, err)
	}
	slog.Debug("SQLiteStore SaveConversationState succeeded", "phone", state.Phone, "state", state.State)
	return nil
}

// GetConversationState retrieves the state row for a contact, or nil if absent.
func (s *SQLiteStore) GetConversationState(phone string) (*models.ConversationState, error) {
	row := s.db.QueryRow(`SELECT telefone, estado, filial, dados, atualizado_em FROM estados WHERE telefone = ?`, phone)
	st, err := scanConversationStateRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversationState failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query state for %s: %w", phone, err)
	}
	return st, nil
}

// DeleteConversationState removes the state row for a contact.
func (s *SQLiteStore) DeleteConversationState(phone string) error {
	_, err := s.db.Exec(`DELETE FROM estados WHERE telefone = ?`, phone)
	if err != nil {
		slog.Error("SQLiteStore DeleteConversationState failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to delete state for %s: %w", phone, err)
	}
	return nil
}

// ListConversationStates returns every persisted state row.
func (s *SQLiteStore) ListConversationStates() ([]models.ConversationState, error) {
	rows, err := s.db.Query(`SELECT telefone, estado, filial, dados, atualizado_em FROM estados`)
	if err != nil {
		slog.Error("SQLiteStore ListConversationStates query failed", "error", err)
		return nil, fmt.Errorf("failed to query states: %w", err)
	}
	defer rows.Close()

	var states []models.ConversationState
	for rows.Next() {
		st, err := scanConversationState(rows)
		if err != nil {
			slog.Error("SQLiteStore ListConversationStates scan failed", "error", err)
			return nil, err
		}
		states = append(states, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate state rows: %w", err)
	}
	slog.Debug("SQLiteStore ListConversationStates succeeded", "count", len(states))
	return states, nil
}

// AddInteraction appends a conversation log row.
func (s *SQLiteStore) AddInteraction(in models.Interaction) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO interacoes (telefone, contato_id, mensagem, remetente, data, atendido, protocolo, atendente) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.Phone, nilIfZero(in.ContactID), in.Body, string(in.Sender), in.CreatedAt, in.HandedOff,
		nilIfEmpty(in.Protocol), nilIfEmpty(in.Operator))
	if err != nil {
		slog.Error("SQLiteStore AddInteraction failed", "error", err, "phone", in.Phone)
		return 0, fmt.Errorf("failed to insert interaction for %s: %w", in.Phone, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read interaction id for %s: %w", in.Phone, err)
	}
	return id, nil
}

// ClearHandedOff resets the handed-off flag for every interaction of a contact.
func (s *SQLiteStore) ClearHandedOff(phone string) error {
	_, err := s.db.Exec(`UPDATE interacoes SET atendido = 0 WHERE telefone = ? AND atendido = 1`, phone)
	if err != nil {
		slog.Error("SQLiteStore ClearHandedOff failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to clear handed-off rows for %s: %w", phone, err)
	}
	return nil
}

// HasRecentHandedOff reports whether the contact has a handed-off interaction
// newer than the window.
func (s *SQLiteStore) HasRecentHandedOff(phone string, window time.Duration) (bool, error) {
	cutoff := time.Now().Add(-window)
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM interacoes WHERE telefone = ? AND atendido = 1 AND data > ? LIMIT 1`,
		phone, cutoff).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore HasRecentHandedOff failed", "error", err, "phone", phone)
		return false, fmt.Errorf("failed to query handed-off rows for %s: %w", phone, err)
	}
	return true, nil
}

// ListHandedOffSince returns the distinct phones with handed-off interactions
// newer than the window that still have a persisted conversation state.
func (s *SQLiteStore) ListHandedOffSince(window time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-window)
	rows, err := s.db.Query(
		`SELECT DISTINCT interacoes.telefone FROM interacoes
		 JOIN estados ON interacoes.telefone = estados.telefone
		 WHERE interacoes.atendido = 1 AND interacoes.data > ?`, cutoff)
	if err != nil {
		slog.Error("SQLiteStore ListHandedOffSince query failed", "error", err)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate handed-off phones: %w", err)
	}
	return phones, rows.Err()
}

// ListActiveHandoffRows returns the dashboard projection of handed-off
// contacts within the window, newest first.
func (s *SQLiteStore) ListActiveHandoffRows(window time.Duration) ([]models.ActiveHandoff, error) {
	cutoff := time.Now().Add(-window)
	rows, err := s.db.Query(
		`SELECT telefone, MAX(protocolo), MAX(data), MAX(atendente) FROM interacoes
		 WHERE atendido = 1 AND data > ?
		 GROUP BY telefone ORDER BY MAX(data) DESC`, cutoff)
	if err != nil {
		slog.Error("SQLiteStore ListActiveHandoffRows query failed", "error", err)
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
func (s *SQLiteStore) AddFeedback(f models.FeedbackEntry) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO feedback (contato_id, tipo, texto, data) VALUES (?, ?, ?, ?)`,
		f.ContactID, string(f.Kind), f.Text, f.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddFeedback failed", "error", err, "contactID", f.ContactID)
		return 0, fmt.Errorf("failed to insert feedback: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read feedback id: %w", err)
	}
	return id, nil
}

// ListFeedback returns every feedback entry joined with its contact, newest first.
func (s *SQLiteStore) ListFeedback() ([]models.FeedbackReport, error) {
	rows, err := s.db.Query(
		`SELECT f.id, f.contato_id, f.tipo, f.texto, f.data, c.telefone, c.nome
		 FROM feedback f JOIN contatos c ON f.contato_id = c.id
		 ORDER BY f.data DESC`)
	if err != nil {
		slog.Error("SQLiteStore ListFeedback query failed", "error", err)
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

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
