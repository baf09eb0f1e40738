// Package handoff implements the arbitration between the automated menu
// machine and human operators.
//
// The Arbitrator owns the per-contact handoff records and is the single
// source of truth for who may speak for the bot. Records live in memory for
// latency; the interaction log's handed-off flag is the durable trace used
// to reconstruct them after a restart.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cajulimao/atendebot/internal/conversation"
	"github.com/cajulimao/atendebot/internal/models"
	"github.com/cajulimao/atendebot/internal/store"
)

const (
	// VisitorProtocolPrefix marks tickets opened by a visitor's help request.
	VisitorProtocolPrefix = "AT"
	// OperatorProtocolPrefix marks tickets opened by an operator takeover.
	OperatorProtocolPrefix = "MAN-"
	// SystemOperator is recorded when no specific operator is assigned yet.
	SystemOperator = "Sistema"
	// DefaultRecoveryWindow bounds the startup scan for handed-off
	// interaction rows. Recovery is a best-effort heuristic, not a complete
	// reconstruction.
	DefaultRecoveryWindow = 30 * 24 * time.Hour
)

// ErrNoHandoff is returned when ending a handoff that does not exist.
var ErrNoHandoff = errors.New("no active handoff for contact")

// Opts holds configuration options for the Arbitrator.
type Opts struct {
	RecoveryWindow time.Duration
}

// Option defines a configuration option for the Arbitrator.
type Option func(*Opts)

// WithRecoveryWindow overrides the startup recovery scan window.
func WithRecoveryWindow(d time.Duration) Option {
	return func(o *Opts) {
		o.RecoveryWindow = d
	}
}

// Arbitrator tracks, per contact, whether a human has taken over.
type Arbitrator struct {
	store store.Store
	cache *conversation.Cache

	mu             sync.Mutex
	records        map[string]models.HandoffRecord
	recoveryWindow time.Duration
}

// NewArbitrator creates an Arbitrator over the given store and state cache.
func NewArbitrator(st store.Store, cache *conversation.Cache, opts ...Option) *Arbitrator {
	cfg := Opts{RecoveryWindow: DefaultRecoveryWindow}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Arbitrator{
		store:          st,
		cache:          cache,
		records:        make(map[string]models.HandoffRecord),
		recoveryWindow: cfg.RecoveryWindow,
	}
}

// newProtocol builds a short human-readable ticket id from the timestamp
// tail. Collisions are acceptable only at negligible probability.
func newProtocol(prefix string) string {
	millis := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return prefix + millis[len(millis)-6:]
}

// RequestHuman registers a visitor-requested handoff. It is idempotent: when
// a record already exists the existing record is returned with already=true
// and no duplicate is created.
func (a *Arbitrator) RequestHuman(ctx context.Context, phone, name, text string) (models.HandoffRecord, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if rec, ok := a.records[phone]; ok {
		slog.Debug("Arbitrator RequestHuman already pending", "phone", phone, "protocol", rec.Protocol)
		return rec, true, nil
	}

	contactID, err := a.store.UpsertContact(phone, name)
	if err != nil {
		slog.Error("Arbitrator RequestHuman contact upsert failed", "error", err, "phone", phone)
		return models.HandoffRecord{}, false, fmt.Errorf("failed to register contact for handoff: %w", err)
	}

	rec := models.HandoffRecord{
		Phone:             phone,
		OperatorInitiated: false,
		Protocol:          newProtocol(VisitorProtocolPrefix),
		StartedAt:         time.Now(),
		Operator:          SystemOperator,
	}

	rowID, err := a.store.AddInteraction(models.Interaction{
		Phone:     phone,
		ContactID: contactID,
		Body:      text,
		Sender:    models.SenderRoleUser,
		HandedOff: true,
		Protocol:  rec.Protocol,
		Operator:  rec.Operator,
		CreatedAt: rec.StartedAt,
	})
	if err != nil {
		slog.Error("Arbitrator RequestHuman interaction write failed", "error", err, "phone", phone)
		return models.HandoffRecord{}, false, fmt.Errorf("failed to persist handoff request: %w", err)
	}
	rec.InteractionID = rowID

	a.records[phone] = rec
	slog.Info("Arbitrator handoff requested by visitor", "phone", phone, "protocol", rec.Protocol)
	return rec, false, nil
}

// OperatorTakesOver registers an operator-initiated handoff. It is valid from
// any state and overwrites a pending visitor request. The contact's
// conversation state is cleared since the human now drives the conversation
// free-form.
func (a *Arbitrator) OperatorTakesOver(ctx context.Context, phone, operator, text string) (models.HandoffRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	contactID, err := a.store.UpsertContact(phone, "")
	if err != nil {
		slog.Error("Arbitrator OperatorTakesOver contact upsert failed", "error", err, "phone", phone)
		return models.HandoffRecord{}, fmt.Errorf("failed to register contact for takeover: %w", err)
	}

	rec := models.HandoffRecord{
		Phone:             phone,
		OperatorInitiated: true,
		Protocol:          newProtocol(OperatorProtocolPrefix),
		StartedAt:         time.Now(),
		Operator:          operator,
	}
	if prev, ok := a.records[phone]; ok {
		// A pending visitor request keeps its ticket so the visitor's
		// confirmation message stays correlatable.
		rec.Protocol = prev.Protocol
	}

	body := text
	if body == "" {
		body = "Atendimento assumido pelo atendente"
	}
	rowID, err := a.store.AddInteraction(models.Interaction{
		Phone:     phone,
		ContactID: contactID,
		Body:      body,
		Sender:    models.SenderRoleUser,
		HandedOff: true,
		Protocol:  rec.Protocol,
		Operator:  operator,
		CreatedAt: rec.StartedAt,
	})
	if err != nil {
		slog.Error("Arbitrator OperatorTakesOver interaction write failed", "error", err, "phone", phone)
		return models.HandoffRecord{}, fmt.Errorf("failed to persist takeover: %w", err)
	}
	rec.InteractionID = rowID

	if err := a.cache.Clear(ctx, phone); err != nil {
		slog.Error("Arbitrator OperatorTakesOver state clear failed", "error", err, "phone", phone)
		return models.HandoffRecord{}, err
	}

	a.records[phone] = rec
	slog.Info("Arbitrator operator took over", "phone", phone, "operator", operator, "protocol", rec.Protocol)
	return rec, nil
}

// EndHandoff removes the contact's handoff record, sweeps the handed-off
// flags in the interaction log and clears the conversation state, returning
// the contact to automatic mode. Returns ErrNoHandoff when there is nothing
// to end.
func (a *Arbitrator) EndHandoff(ctx context.Context, phone string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.records[phone]; !ok {
		return ErrNoHandoff
	}

	if err := a.store.ClearHandedOff(phone); err != nil {
		slog.Error("Arbitrator EndHandoff log sweep failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to end handoff for %s: %w", phone, err)
	}
	if err := a.cache.Clear(ctx, phone); err != nil {
		slog.Error("Arbitrator EndHandoff state clear failed", "error", err, "phone", phone)
		return err
	}

	delete(a.records, phone)
	slog.Info("Arbitrator handoff ended", "phone", phone)
	return nil
}

// Status returns the contact's handoff record, if any.
func (a *Arbitrator) Status(phone string) (models.HandoffRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[phone]
	return rec, ok
}

// IsHandedOff reports whether the contact is under an active or pending handoff.
func (a *Arbitrator) IsHandedOff(phone string) bool {
	_, ok := a.Status(phone)
	return ok
}

// ActiveHandoffs returns all current handoff records.
func (a *Arbitrator) ActiveHandoffs() []models.HandoffRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.HandoffRecord, 0, len(a.records))
	for _, rec := range a.records {
		out = append(out, rec)
	}
	return out
}

// HandoffsByOperator returns the records assigned to the given operator.
func (a *Arbitrator) HandoffsByOperator(operator string) []models.HandoffRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.HandoffRecord
	for _, rec := range a.records {
		if rec.Operator == operator {
			out = append(out, rec)
		}
	}
	return out
}

// RecoverActiveOnStartup reconstructs in-memory handoff records from the
// interaction log for contacts handed off within the recovery window. It
// must run after the conversation cache is rehydrated and before any inbound
// message is processed.
func (a *Arbitrator) RecoverActiveOnStartup(ctx context.Context) error {
	phones, err := a.store.ListHandedOffSince(a.recoveryWindow)
	if err != nil {
		slog.Error("Arbitrator recovery scan failed", "error", err)
		return fmt.Errorf("failed to scan handed-off interactions: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	recovered := 0
	for _, phone := range phones {
		if _, ok := a.records[phone]; ok {
			continue
		}
		a.records[phone] = models.HandoffRecord{
			Phone:             phone,
			OperatorInitiated: true,
			Protocol:          newProtocol(OperatorProtocolPrefix),
			StartedAt:         time.Now(),
			Operator:          SystemOperator,
		}
		recovered++
		slog.Info("Arbitrator recovered handoff", "phone", phone)
	}
	slog.Info("Arbitrator startup recovery finished", "recovered", recovered, "window", a.recoveryWindow)
	return nil
}
