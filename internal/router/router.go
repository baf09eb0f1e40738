// Package router connects the messaging transport to the conversation engine.
//
// Every inbound event flows through Route, which decides who owns the
// conversation (bot, operator or nobody yet) and dispatches to the menu
// machine, the admin processor or the handoff arbitrator. Events for the same
// contact are serialized with a per-contact lock so two rapid messages cannot
// read the same pre-transition state; events for different contacts run
// concurrently.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/cajulimao/atendebot/internal/admin"
	"github.com/cajulimao/atendebot/internal/conversation"
	"github.com/cajulimao/atendebot/internal/dialog"
	"github.com/cajulimao/atendebot/internal/handoff"
	"github.com/cajulimao/atendebot/internal/messaging"
	"github.com/cajulimao/atendebot/internal/models"
	"github.com/cajulimao/atendebot/internal/store"
)

// DefaultOperatorAlertDelay spaces out operator fan-out notifications to stay
// under transport rate limits.
const DefaultOperatorAlertDelay = 1 * time.Second

// alertTimeLayout is the pt-BR timestamp format used in operator alerts.
const alertTimeLayout = "02/01/2006 15:04:05"

// Opts holds configuration options for the Router.
type Opts struct {
	OperatorAlertDelay time.Duration
}

// Option defines a configuration option for the Router.
type Option func(*Opts)

// WithOperatorAlertDelay overrides the inter-send delay of the operator
// notification fan-out.
func WithOperatorAlertDelay(d time.Duration) Option {
	return func(o *Opts) {
		o.OperatorAlertDelay = d
	}
}

// Router is the inbound event pipeline.
type Router struct {
	svc     messaging.Service
	store   store.Store
	cache   *conversation.Cache
	arb     *handoff.Arbitrator
	admin   *admin.Processor
	machine *dialog.Machine

	alertDelay time.Duration

	// lockMu guards the locks map; the inner locks serialize per contact.
	// The map grows with distinct contacts and is never pruned; entries are
	// a few words each.
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	wg sync.WaitGroup
}

// NewRouter creates a Router over the given collaborators.
func NewRouter(svc messaging.Service, st store.Store, cache *conversation.Cache, arb *handoff.Arbitrator, adm *admin.Processor, machine *dialog.Machine, opts ...Option) *Router {
	cfg := Opts{OperatorAlertDelay: DefaultOperatorAlertDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Router{
		svc:        svc,
		store:      st,
		cache:      cache,
		arb:        arb,
		admin:      adm,
		machine:    machine,
		alertDelay: cfg.OperatorAlertDelay,
		locks:      make(map[string]*sync.Mutex),
	}
}

// Start consumes the transport's message and receipt streams until ctx is
// cancelled or the streams close. Each message is routed on its own goroutine;
// per-contact ordering is enforced by the contact locks, not by the consumer
// loop.
func (r *Router) Start(ctx context.Context) {
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-r.svc.Messages():
				if !ok {
					return
				}
				r.wg.Add(1)
				go func(m models.Message) {
					defer r.wg.Done()
					r.Route(ctx, m)
				}(msg)
			}
		}
	}()
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case rcpt, ok := <-r.svc.Receipts():
				if !ok {
					return
				}
				slog.Debug("Router receipt", "to", rcpt.To, "status", rcpt.Status)
			}
		}
	}()
	slog.Info("Router started")
}

// Wait blocks until the consumer loops and all in-flight events finish.
func (r *Router) Wait() {
	r.wg.Wait()
}

// contactLock returns the serialization lock for a contact.
func (r *Router) contactLock(phone string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	l, ok := r.locks[phone]
	if !ok {
		l = &sync.Mutex{}
		r.locks[phone] = l
	}
	return l
}

// Route processes one inbound event end to end. Panics and errors stop here:
// they are logged and, unless the contact is under an active human handoff,
// answered with a generic apology.
func (r *Router) Route(ctx context.Context, msg models.Message) {
	if msg.Group {
		slog.Debug("Router dropping group/broadcast message", "from", msg.From)
		return
	}

	from := admin.CanonicalPhone(msg.From)
	if from == "" {
		slog.Debug("Router dropping message without a usable sender", "from", msg.From)
		return
	}

	if msg.FromSelf {
		// Echoes of our own sends, unless a human is driving the business
		// account and it is on the operator allow-list.
		if !r.admin.IsOperator(from) {
			return
		}
		target := admin.CanonicalPhone(msg.To)
		if target == "" || target == from {
			return
		}
		r.operatorDirect(ctx, from, target, msg.Body)
		return
	}

	if r.admin.IsOperator(from) {
		reply, handled := r.admin.HandleCommand(ctx, from, msg.Body)
		if !handled {
			slog.Debug("Router ignoring non-command operator message", "from", from)
			return
		}
		if reply != "" {
			if err := r.svc.SendMessage(ctx, from, reply); err != nil {
				slog.Error("Router operator reply failed", "error", err, "operator", from)
			}
		}
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Router recovered from panic", "panic", rec, "from", from, "stack", string(debug.Stack()))
			if rec2, ok := r.arb.Status(from); !ok || !rec2.OperatorInitiated {
				if err := r.svc.SendMessage(ctx, from, dialog.GenericApology); err != nil {
					slog.Error("Router apology send failed", "error", err, "to", from)
				}
			}
		}
	}()

	lock := r.contactLock(from)
	lock.Lock()
	defer lock.Unlock()
	r.handleVisitor(ctx, from, msg.Name, msg.Body)
}

// operatorDirect handles a human typing to a contact from the business
// account. A message to a contact with no handoff record is itself a takeover;
// with one already present it only refreshes the menu debounce so the bot
// stays quiet while the human types.
func (r *Router) operatorDirect(ctx context.Context, operator, target, body string) {
	lock := r.contactLock(target)
	lock.Lock()
	defer lock.Unlock()

	if r.arb.IsHandedOff(target) {
		r.cache.MarkMenuSent(target)
		return
	}

	rec, err := r.arb.OperatorTakesOver(ctx, target, operator, body)
	if err != nil {
		slog.Error("Router implicit takeover failed", "error", err, "operator", operator, "target", target)
		return
	}
	r.cache.MarkMenuSent(target)

	confirmation := fmt.Sprintf("✅ Você iniciou um atendimento com %s\n📋 Protocolo: %s", target, rec.Protocol)
	if err := r.svc.SendMessage(ctx, operator, confirmation); err != nil {
		slog.Error("Router takeover confirmation failed", "error", err, "operator", operator)
	}
}

// handleVisitor runs the visitor pipeline. The caller holds the contact lock.
func (r *Router) handleVisitor(ctx context.Context, phone, name, body string) {
	state, err := r.cache.Get(ctx, phone)
	if err != nil {
		// Treated as an unknown contact; the menu machine recovers from a
		// missing state by re-offering the main menu.
		slog.Error("Router state rehydration failed", "error", err, "phone", phone)
		state = nil
	}

	if rec, ok := r.arb.Status(phone); ok {
		command := strings.ToLower(strings.TrimSpace(body))
		allowed := command == "sair" || command == "menu" || command == "unidade"
		if !allowed || rec.OperatorInitiated {
			slog.Debug("Router suppressed autonomous reply during handoff", "phone", phone, "protocol", rec.Protocol)
			return
		}
	}

	if name == "" {
		if c, err := r.store.GetContact(phone); err == nil && c != nil {
			name = c.Name
		}
	}
	r.logInteraction(phone, name, body, models.SenderRoleUser)

	if state == nil && !r.arb.IsHandedOff(phone) {
		r.showMainMenu(ctx, phone, name)
		return
	}

	var cur models.StateType
	var branch models.Branch
	if state != nil {
		cur = state.State
		branch = state.Branch
	}

	d := r.machine.Decide(cur, branch, body, name)
	r.apply(ctx, phone, name, body, d)
}

// apply commits a decision: the state transition first, then effects, then
// replies. A failed state or feedback write suppresses the visitor-facing
// replies, since cache/store divergence is worse than a dropped message.
func (r *Router) apply(ctx context.Context, phone, name, body string, d dialog.Decision) {
	if d.SetState {
		if err := r.cache.Set(ctx, phone, d.NextState, d.NextBranch, ""); err != nil {
			slog.Error("Router state transition not committed, replies suppressed", "error", err, "phone", phone)
			return
		}
	}

	for _, ef := range d.Effects {
		switch ef.Kind {
		case dialog.EffectSaveFeedback:
			if !r.saveFeedback(phone, name, ef) {
				return
			}
		case dialog.EffectResetConversation:
			if err := r.cache.Clear(ctx, phone); err != nil {
				slog.Error("Router conversation reset not committed, replies suppressed", "error", err, "phone", phone)
				return
			}
		case dialog.EffectShowMainMenu:
			r.showMainMenu(ctx, phone, name)
		case dialog.EffectRequestHandoff:
			r.requestHandoff(ctx, phone, name, body)
		}
	}

	for _, reply := range d.Replies {
		if err := r.sendToVisitor(ctx, phone, reply); err != nil {
			return
		}
	}
}

// saveFeedback persists a captured feedback text, retrying the write once.
// Returns false when the write could not be committed.
func (r *Router) saveFeedback(phone, name string, ef dialog.Effect) bool {
	contactID, err := r.store.UpsertContact(phone, name)
	if err != nil {
		slog.Error("Router feedback contact upsert failed", "error", err, "phone", phone)
		return false
	}
	entry := models.FeedbackEntry{
		ContactID: contactID,
		Kind:      ef.FeedbackKind,
		Text:      ef.FeedbackText,
		CreatedAt: time.Now(),
	}
	if _, err := r.store.AddFeedback(entry); err != nil {
		slog.Warn("Router feedback write failed, retrying once", "error", err, "phone", phone)
		if _, err = r.store.AddFeedback(entry); err != nil {
			slog.Error("Router feedback write failed after retry", "error", err, "phone", phone)
			return false
		}
	}
	slog.Info("Router feedback recorded", "phone", phone, "kind", ef.FeedbackKind)
	return true
}

// requestHandoff opens a visitor-requested handoff, confirms to the visitor
// and fans out the operator notifications.
func (r *Router) requestHandoff(ctx context.Context, phone, name, body string) {
	// The cooldown must not suppress the menu re-display right after the
	// handoff ends.
	r.cache.ClearMenuDebounce(phone)

	rec, already, err := r.arb.RequestHuman(ctx, phone, name, body)
	if err != nil {
		// Silent to the visitor, loud in the logs.
		slog.Error("Router handoff request not committed", "error", err, "phone", phone)
		return
	}
	if already {
		_ = r.sendToVisitor(ctx, phone, dialog.HandoffAlreadyPending(rec.Protocol))
		return
	}

	if err := r.sendToVisitor(ctx, phone, dialog.HandoffConfirmation(rec.Protocol)); err != nil {
		// The record exists either way; operators still need to know.
		slog.Warn("Router handoff confirmation failed", "error", err, "phone", phone)
	}
	alert := dialog.OperatorAlert(name, phone, rec.Protocol, rec.StartedAt.Format(alertTimeLayout))
	r.notifyOperators(ctx, alert)
}

// notifyOperators sends the alert to every configured operator sequentially
// with an inter-send delay. A failure for one operator never aborts the rest.
func (r *Router) notifyOperators(ctx context.Context, text string) {
	for i, op := range r.admin.Operators() {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.alertDelay):
			}
		}
		if err := r.svc.SendMessage(ctx, op, text); err != nil {
			slog.Error("Router operator notification failed", "error", err, "operator", op)
			continue
		}
		slog.Debug("Router operator notified", "operator", op)
	}
}

// showMainMenu sends the debounced main menu and pins the contact at branch
// selection with a fresh start (no branch).
func (r *Router) showMainMenu(ctx context.Context, phone, name string) {
	if r.cache.MenuRecentlySent(phone) {
		slog.Debug("Router main menu debounced", "phone", phone)
		return
	}
	if err := r.cache.Set(ctx, phone, models.StateMainMenu, models.BranchNone, ""); err != nil {
		slog.Error("Router main menu transition not committed", "error", err, "phone", phone)
		return
	}
	if err := r.sendToVisitor(ctx, phone, dialog.MainMenu(name)); err != nil {
		return
	}
	r.cache.MarkMenuSent(phone)
}

// sendToVisitor sends a bot reply and mirrors it into the interaction log.
func (r *Router) sendToVisitor(ctx context.Context, phone, text string) error {
	if err := r.svc.SendMessage(ctx, phone, text); err != nil {
		slog.Error("Router send to visitor failed", "error", err, "to", phone)
		return err
	}
	r.logInteraction(phone, "", text, models.SenderRoleBot)
	return nil
}

// logInteraction appends a row to the interaction log. Log failures are never
// fatal to the pipeline.
func (r *Router) logInteraction(phone, name, body string, sender models.SenderRole) {
	contactID, err := r.store.UpsertContact(phone, name)
	if err != nil {
		slog.Error("Router interaction contact upsert failed", "error", err, "phone", phone)
		return
	}
	in := models.Interaction{
		Phone:     phone,
		ContactID: contactID,
		Body:      body,
		Sender:    sender,
		CreatedAt: time.Now(),
	}
	if rec, ok := r.arb.Status(phone); ok {
		in.HandedOff = true
		in.Protocol = rec.Protocol
		in.Operator = rec.Operator
	}
	if _, err := r.store.AddInteraction(in); err != nil {
		slog.Error("Router interaction log write failed", "error", err, "phone", phone, "sender", sender)
	}
}
