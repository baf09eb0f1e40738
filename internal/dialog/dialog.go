// Package dialog implements the menu state machine.
//
// Decide is a pure function from (state, branch, input) to a Decision: the
// next state, the replies to send and the side effects to run. I/O is never
// performed here; the router executes the returned effects, which keeps the
// decision table testable without a live transport or database.
package dialog

import (
	"strings"

	"github.com/cajulimao/atendebot/internal/models"
)

// EffectKind identifies a side effect requested by a decision.
type EffectKind string

const (
	// EffectRequestHandoff asks the arbitrator to open a visitor-requested
	// handoff; the machine itself never decides ownership.
	EffectRequestHandoff EffectKind = "request_handoff"
	// EffectSaveFeedback persists a captured feedback text.
	EffectSaveFeedback EffectKind = "save_feedback"
	// EffectResetConversation clears the contact's conversation state.
	EffectResetConversation EffectKind = "reset_conversation"
	// EffectShowMainMenu resets the contact and re-sends the (debounced)
	// main menu.
	EffectShowMainMenu EffectKind = "show_main_menu"
)

// Effect is a side-effect descriptor attached to a Decision.
type Effect struct {
	Kind         EffectKind
	FeedbackKind models.FeedbackKind
	FeedbackText string
}

// Decision is the outcome of one step of the menu state machine.
type Decision struct {
	NextState  models.StateType
	NextBranch models.Branch
	// SetState indicates NextState/NextBranch must be persisted. When false
	// and no reset effect is present, the stored state is left untouched.
	SetState bool
	Replies  []string
	Effects  []Effect
}

// Opts holds configuration options for the Machine.
type Opts struct {
	HRPhone string
	HREmail string
}

// Option defines a configuration option for the Machine.
type Option func(*Opts)

// WithHRContact sets the recruiting contact shown in the jobs option.
func WithHRContact(phone, email string) Option {
	return func(o *Opts) {
		o.HRPhone = phone
		o.HREmail = email
	}
}

// Machine is the configured menu decision table.
type Machine struct {
	hrPhone string
	hrEmail string
}

// NewMachine creates a Machine, applying any provided options.
func NewMachine(opts ...Option) *Machine {
	cfg := Opts{HRPhone: DefaultHRPhone, HREmail: DefaultHREmail}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Machine{hrPhone: cfg.HRPhone, hrEmail: cfg.HREmail}
}

// Decide maps the contact's current position and normalized input to the
// next position, replies and effects.
func (m *Machine) Decide(state models.StateType, branch models.Branch, input, name string) Decision {
	command := strings.ToLower(strings.TrimSpace(input))

	// Feedback text capture consumes the very next message unconditionally,
	// even when it looks like a global command.
	if state.CapturesFreeText() {
		kind := models.FeedbackSuggestion
		if state == models.StateFeedbackComplaint {
			kind = models.FeedbackComplaint
		}
		return Decision{
			NextState:  models.StateBranchMenu,
			NextBranch: branch,
			SetState:   true,
			Replies:    []string{FeedbackThanks(name, kind), BranchMenu(name)},
			Effects:    []Effect{{Kind: EffectSaveFeedback, FeedbackKind: kind, FeedbackText: strings.TrimSpace(input)}},
		}
	}

	if d, ok := m.decideGlobalCommand(command, branch, name); ok {
		return d
	}

	switch state {
	case models.StateFeedbackType:
		return m.decideFeedbackType(command, branch, name)
	case models.StateBranchMenu:
		return m.decideBranchOption(command, branch, name)
	}

	// Main menu (or no saved position): the only recognized inputs are the
	// branch choices; anything else re-triggers the debounced main menu.
	switch command {
	case "1":
		return Decision{
			NextState:  models.StateBranchMenu,
			NextBranch: models.BranchAsaNorte,
			SetState:   true,
			Replies:    []string{BranchMenu(name)},
		}
	case "2":
		return Decision{
			NextState:  models.StateBranchMenu,
			NextBranch: models.BranchAguasClaras,
			SetState:   true,
			Replies:    []string{BranchMenu(name)},
		}
	}
	return Decision{Effects: []Effect{{Kind: EffectShowMainMenu}}}
}

// decideGlobalCommand handles menu/unidade/sair, which are recognized in
// every state outside feedback text capture.
func (m *Machine) decideGlobalCommand(command string, branch models.Branch, name string) (Decision, bool) {
	switch command {
	case "menu":
		if branch == models.BranchNone {
			return Decision{Effects: []Effect{{Kind: EffectShowMainMenu}}}, true
		}
		return Decision{
			NextState:  models.StateBranchMenu,
			NextBranch: branch,
			SetState:   true,
			Replies:    []string{BranchMenu(name)},
		}, true
	case "unidade":
		// Switching branch is an explicit request, so the stored state (and
		// with it the menu cooldown) is dropped before the menu is re-sent.
		return Decision{Effects: []Effect{{Kind: EffectResetConversation}, {Kind: EffectShowMainMenu}}}, true
	case "sair":
		return Decision{
			Replies: []string{Goodbye(name)},
			Effects: []Effect{{Kind: EffectResetConversation}},
		}, true
	}
	return Decision{}, false
}

// decideFeedbackType handles the suggestion/complaint/back selection.
func (m *Machine) decideFeedbackType(command string, branch models.Branch, name string) Decision {
	switch command {
	case "1":
		return Decision{
			NextState:  models.StateFeedbackSuggestion,
			NextBranch: branch,
			SetState:   true,
			Replies:    []string{SuggestionPrompt(name)},
		}
	case "2":
		return Decision{
			NextState:  models.StateFeedbackComplaint,
			NextBranch: branch,
			SetState:   true,
			Replies:    []string{ComplaintPrompt(name)},
		}
	case "3":
		return Decision{
			NextState:  models.StateBranchMenu,
			NextBranch: branch,
			SetState:   true,
			Replies:    []string{BranchMenu(name)},
		}
	}
	return Decision{
		NextState:  models.StateBranchMenu,
		NextBranch: branch,
		SetState:   true,
		Replies:    []string{BranchMenu(name)},
	}
}

// decideBranchOption handles the service options once a unit was chosen.
func (m *Machine) decideBranchOption(command string, branch models.Branch, name string) Decision {
	switch command {
	case "1":
		return Decision{Replies: []string{OpeningHours()}}
	case "2":
		return Decision{Replies: []string{MenuCard()}}
	case "3":
		return Decision{Replies: []string{ReservationInfo(name, branch)}}
	case "4":
		return Decision{Replies: []string{BirthdayBenefits()}}
	case "5":
		return Decision{
			NextState:  models.StateFeedbackType,
			NextBranch: branch,
			SetState:   true,
			Replies:    []string{FeedbackMenu()},
		}
	case "6":
		return Decision{Effects: []Effect{{Kind: EffectRequestHandoff}}}
	case "7":
		return Decision{Replies: []string{JobsInfo(m.hrPhone, m.hrEmail)}}
	case "8":
		return Decision{Replies: []string{PaymentMethods()}}
	}
	// Unrecognized input redisplays the branch menu rather than erroring.
	return Decision{Replies: []string{BranchMenu(name)}}
}
