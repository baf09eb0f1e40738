// Package conversation implements the dual-layer conversation state cache.
//
// The in-memory map is authoritative while the process is alive; the store
// is authoritative across restarts. Every mutation is written through to the
// store before the cache is updated, so the two layers never diverge for
// longer than one transition.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cajulimao/atendebot/internal/models"
	"github.com/cajulimao/atendebot/internal/store"
)

// DefaultMenuCooldown is how long the main menu is suppressed for a contact
// after it was last sent, to avoid menu spam from rapid repeated messages.
const DefaultMenuCooldown = 2 * time.Minute

// Opts holds configuration options for the cache.
type Opts struct {
	MenuCooldown time.Duration
}

// Option defines a configuration option for the cache.
type Option func(*Opts)

// WithMenuCooldown overrides the main-menu debounce window.
func WithMenuCooldown(d time.Duration) Option {
	return func(o *Opts) {
		o.MenuCooldown = d
	}
}

// Cache is the cache-aside conversation state manager.
type Cache struct {
	store store.Store

	mu           sync.RWMutex
	states       map[string]models.ConversationState
	menuSent     map[string]time.Time
	menuCooldown time.Duration
}

// NewCache creates a cache backed by the given store. LoadAll must be called
// before the cache is trusted for returning contacts.
func NewCache(st store.Store, opts ...Option) *Cache {
	cfg := Opts{MenuCooldown: DefaultMenuCooldown}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Cache{
		store:        st,
		states:       make(map[string]models.ConversationState),
		menuSent:     make(map[string]time.Time),
		menuCooldown: cfg.MenuCooldown,
	}
}

// LoadAll rehydrates the cache from the store. It must complete before any
// inbound message is routed, otherwise returning contacts would be treated
// as brand-new.
func (c *Cache) LoadAll(ctx context.Context) error {
	states, err := c.store.ListConversationStates()
	if err != nil {
		slog.Error("Cache LoadAll failed", "error", err)
		return fmt.Errorf("failed to rehydrate conversation states: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range states {
		c.states[st.Phone] = st
	}
	slog.Info("Cache rehydrated from store", "count", len(states))
	return nil
}

// Get returns the contact's conversation state, or nil when absent. A cache
// miss falls back to the store and populates the cache.
func (c *Cache) Get(ctx context.Context, phone string) (*models.ConversationState, error) {
	c.mu.RLock()
	st, ok := c.states[phone]
	c.mu.RUnlock()
	if ok {
		out := st
		return &out, nil
	}

	stored, err := c.store.GetConversationState(phone)
	if err != nil {
		slog.Error("Cache Get store fallback failed", "error", err, "phone", phone)
		return nil, err
	}
	if stored == nil {
		return nil, nil
	}

	c.mu.Lock()
	c.states[phone] = *stored
	c.mu.Unlock()
	slog.Debug("Cache Get populated from store", "phone", phone, "state", stored.State)
	out := *stored
	return &out, nil
}

// Set persists the contact's state, branch and payload. The store write must
// succeed (with one immediate retry) before the cache is updated; a failed
// write leaves the cache untouched so the transition is not committed.
// Repeated identical writes are no-ops.
func (c *Cache) Set(ctx context.Context, phone string, state models.StateType, branch models.Branch, payload string) error {
	c.mu.RLock()
	cur, ok := c.states[phone]
	c.mu.RUnlock()
	if ok && cur.State == state && cur.Branch == branch && cur.Payload == payload {
		slog.Debug("Cache Set skipped identical write", "phone", phone, "state", state)
		return nil
	}

	st := models.ConversationState{
		Phone:     phone,
		State:     state,
		Branch:    branch,
		Payload:   payload,
		UpdatedAt: time.Now(),
	}

	if err := c.store.SaveConversationState(st); err != nil {
		slog.Warn("Cache Set store write failed, retrying once", "error", err, "phone", phone)
		if err = c.store.SaveConversationState(st); err != nil {
			slog.Error("Cache Set store write failed after retry", "error", err, "phone", phone, "state", state)
			return fmt.Errorf("state transition not committed for %s: %w", phone, err)
		}
	}

	c.mu.Lock()
	c.states[phone] = st
	c.mu.Unlock()
	slog.Debug("Cache Set committed", "phone", phone, "state", state, "branch", branch)
	return nil
}

// Clear removes the contact's state from both layers and resets the menu
// debounce window.
func (c *Cache) Clear(ctx context.Context, phone string) error {
	if err := c.store.DeleteConversationState(phone); err != nil {
		slog.Warn("Cache Clear store delete failed, retrying once", "error", err, "phone", phone)
		if err = c.store.DeleteConversationState(phone); err != nil {
			slog.Error("Cache Clear store delete failed after retry", "error", err, "phone", phone)
			return fmt.Errorf("state reset not committed for %s: %w", phone, err)
		}
	}

	c.mu.Lock()
	delete(c.states, phone)
	delete(c.menuSent, phone)
	c.mu.Unlock()
	slog.Debug("Cache Clear committed", "phone", phone)
	return nil
}

// MenuRecentlySent reports whether the main menu was sent to the contact
// within the cooldown window.
func (c *Cache) MenuRecentlySent(phone string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sent, ok := c.menuSent[phone]
	return ok && time.Since(sent) < c.menuCooldown
}

// MarkMenuSent records that the main menu was just sent to the contact.
func (c *Cache) MarkMenuSent(phone string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.menuSent[phone] = time.Now()
}

// ClearMenuDebounce forgets the contact's menu cooldown.
func (c *Cache) ClearMenuDebounce(phone string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.menuSent, phone)
}
