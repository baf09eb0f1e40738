// Package models defines conversation state identifiers for AtendeBot.
package models

// StateType names a position in the menu state machine. The values match the
// rows historically written to the estados table, so a database produced by
// an older deployment rehydrates cleanly.
type StateType string

const (
	// StateNone is the zero value: a contact with no saved conversation.
	StateNone StateType = ""
	// StateMainMenu means the contact was greeted and must pick a branch.
	StateMainMenu StateType = "main_menu"
	// StateBranchMenu means a branch was chosen and service options apply.
	StateBranchMenu StateType = "branch_menu"
	// StateFeedbackType means the contact must choose suggestion or complaint.
	StateFeedbackType StateType = "awaiting_feedback_type"
	// StateFeedbackSuggestion captures the next message as a suggestion.
	StateFeedbackSuggestion StateType = "awaiting_feedback_text_suggestion"
	// StateFeedbackComplaint captures the next message as a complaint.
	StateFeedbackComplaint StateType = "awaiting_feedback_text_complaint"
)

// CapturesFreeText reports whether the state consumes the next message
// unconditionally, bypassing global command matching.
func (s StateType) CapturesFreeText() bool {
	return s == StateFeedbackSuggestion || s == StateFeedbackComplaint
}

// Branch identifies a restaurant unit selected in the main menu.
type Branch string

const (
	BranchNone        Branch = ""
	BranchAsaNorte    Branch = "asa_norte"
	BranchAguasClaras Branch = "aguas_claras"
)

// BranchLabel returns the human-readable unit name used in menu copy.
func BranchLabel(b Branch) string {
	switch b {
	case BranchAsaNorte:
		return "Asa Norte"
	case BranchAguasClaras:
		return "Águas Claras"
	default:
		return string(b)
	}
}
