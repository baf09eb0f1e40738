// Package store provides storage backends for AtendeBot.
//
// This file implements an in-memory store used by tests and as a fallback
// when no database DSN is configured.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/cajulimao/atendebot/internal/models"
)

// InMemoryStore is a mutex-guarded Store implementation with no durability.
type InMemoryStore struct {
	mu           sync.RWMutex
	contacts     map[string]models.Contact
	states       map[string]models.ConversationState
	interactions []models.Interaction
	feedback     []models.FeedbackEntry
	nextContact  int64
	nextRow      int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		contacts:    make(map[string]models.Contact),
		states:      make(map[string]models.ConversationState),
		nextContact: 1,
		nextRow:     1,
	}
}

func (s *InMemoryStore) UpsertContact(phone, name string) (int64, error) {
	if name == "" {
		name = models.DefaultContactName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contacts[phone]; ok {
		if name != models.DefaultContactName && name != c.Name {
			c.Name = name
			s.contacts[phone] = c
		}
		return c.ID, nil
	}
	c := models.Contact{ID: s.nextContact, Phone: phone, Name: name, CreatedAt: time.Now()}
	s.nextContact++
	s.contacts[phone] = c
	return c.ID, nil
}

func (s *InMemoryStore) GetContact(phone string) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.contacts[phone]; ok {
		out := c
		return &out, nil
	}
	return nil, nil
}

func (s *InMemoryStore) SaveConversationState(state models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Phone] = state
	return nil
}

func (s *InMemoryStore) GetConversationState(phone string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[phone]; ok {
		out := st
		return &out, nil
	}
	return nil, nil
}

func (s *InMemoryStore) DeleteConversationState(phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, phone)
	return nil
}

func (s *InMemoryStore) ListConversationStates() ([]models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ConversationState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	return out, nil
}

func (s *InMemoryStore) AddInteraction(in models.Interaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in.ID = s.nextRow
	s.nextRow++
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}
	s.interactions = append(s.interactions, in)
	return in.ID, nil
}

func (s *InMemoryStore) ClearHandedOff(phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.interactions {
		if s.interactions[i].Phone == phone {
			s.interactions[i].HandedOff = false
		}
	}
	return nil
}

func (s *InMemoryStore) HasRecentHandedOff(phone string, window time.Duration) (bool, error) {
	cutoff := time.Now().Add(-window)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, in := range s.interactions {
		if in.Phone == phone && in.HandedOff && in.CreatedAt.After(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) ListHandedOffSince(window time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-window)
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var phones []string
	for _, in := range s.interactions {
		if !in.HandedOff || !in.CreatedAt.After(cutoff) || seen[in.Phone] {
			continue
		}
		if _, hasState := s.states[in.Phone]; !hasState {
			continue
		}
		seen[in.Phone] = true
		phones = append(phones, in.Phone)
	}
	return phones, nil
}

func (s *InMemoryStore) ListActiveHandoffRows(window time.Duration) ([]models.ActiveHandoff, error) {
	cutoff := time.Now().Add(-window)
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := make(map[string]models.ActiveHandoff)
	for _, in := range s.interactions {
		if !in.HandedOff || !in.CreatedAt.After(cutoff) {
			continue
		}
		h, ok := latest[in.Phone]
		if !ok || in.CreatedAt.After(h.Since) {
			cur := models.ActiveHandoff{Phone: in.Phone, Since: in.CreatedAt}
			if in.Protocol != "" {
				cur.Protocol = in.Protocol
			} else {
				cur.Protocol = h.Protocol
			}
			if in.Operator != "" {
				cur.Operator = in.Operator
			} else {
				cur.Operator = h.Operator
			}
			latest[in.Phone] = cur
		}
	}
	out := make([]models.ActiveHandoff, 0, len(latest))
	for _, h := range latest {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Since.After(out[j].Since) })
	return out, nil
}

func (s *InMemoryStore) AddFeedback(f models.FeedbackEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.ID = s.nextRow
	s.nextRow++
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	s.feedback = append(s.feedback, f)
	return f.ID, nil
}

func (s *InMemoryStore) ListFeedback() ([]models.FeedbackReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := make(map[int64]models.Contact, len(s.contacts))
	for _, c := range s.contacts {
		byID[c.ID] = c
	}
	out := make([]models.FeedbackReport, 0, len(s.feedback))
	for _, f := range s.feedback {
		r := models.FeedbackReport{FeedbackEntry: f}
		if c, ok := byID[f.ContactID]; ok {
			r.Phone = c.Phone
			r.Name = c.Name
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Interactions returns a copy of the interaction log (for tests).
func (s *InMemoryStore) Interactions() []models.Interaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Interaction, len(s.interactions))
	copy(out, s.interactions)
	return out
}

func (s *InMemoryStore) Close() error {
	return nil
}
