// Package models defines the core data structures for AtendeBot.
//
// It includes the five persisted entities (contacts, conversation states,
// interactions, handoff records and feedback) plus the transport-level
// message and receipt events shared across modules.
package models

import (
	"errors"
	"time"
)

// SenderRole identifies who authored an interaction log row.
type SenderRole string

const (
	// SenderRoleBot marks messages sent by the automated menu machine.
	SenderRoleBot SenderRole = "BOT"
	// SenderRoleUser marks messages received from the visitor.
	SenderRoleUser SenderRole = "USER"
)

// FeedbackKind classifies a feedback entry.
type FeedbackKind string

const (
	FeedbackSuggestion FeedbackKind = "sugestao"
	FeedbackComplaint  FeedbackKind = "reclamacao"
)

// StatusType represents the delivery status of an outbound message.
type StatusType string

const (
	StatusTypeSent      StatusType = "sent"
	StatusTypeDelivered StatusType = "delivered"
	StatusTypeRead      StatusType = "read"
)

// DefaultContactName is stored when the transport cannot resolve a display name.
const DefaultContactName = "Não informado"

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyBody      = errors.New("message body cannot be empty")
)

// Contact is a unique conversational counterpart keyed by canonical phone.
type Contact struct {
	ID        int64     `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationState is the persisted menu position of a contact.
// At most one row exists per contact.
type ConversationState struct {
	Phone     string    `json:"phone"`
	State     StateType `json:"state"`
	Branch    Branch    `json:"branch,omitempty"`
	Payload   string    `json:"payload,omitempty"` // opaque JSON blob
	UpdatedAt time.Time `json:"updated_at"`
}

// Interaction is an append-only conversation log row. The HandedOff flag
// records whether the contact was under a handoff when the row was written;
// it is swept back to false when the handoff ends.
type Interaction struct {
	ID        int64      `json:"id"`
	Phone     string     `json:"phone"`
	ContactID int64      `json:"contact_id,omitempty"`
	Body      string     `json:"body"`
	Sender    SenderRole `json:"sender"`
	HandedOff bool       `json:"handed_off"`
	Protocol  string     `json:"protocol,omitempty"`
	Operator  string     `json:"operator,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// HandoffRecord marks a contact as owned by a human operator. While a record
// exists the menu machine must not autonomously reply to that contact.
type HandoffRecord struct {
	Phone             string    `json:"phone"`
	OperatorInitiated bool      `json:"operator_initiated"` // false: visitor requested, pending pickup
	Protocol          string    `json:"protocol"`
	StartedAt         time.Time `json:"started_at"`
	Operator          string    `json:"operator"`
	InteractionID     int64     `json:"interaction_id,omitempty"`
}

// FeedbackEntry is a suggestion or complaint captured by the feedback flow.
type FeedbackEntry struct {
	ID        int64        `json:"id"`
	ContactID int64        `json:"contact_id"`
	Kind      FeedbackKind `json:"kind"`
	Text      string       `json:"text"`
	CreatedAt time.Time    `json:"created_at"`
}

// Message is an inbound transport event handed to the router.
type Message struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Body     string `json:"body"`
	Name     string `json:"name,omitempty"` // sender display name, if known
	Time     int64  `json:"time"`
	FromSelf bool   `json:"from_self,omitempty"`
	Group    bool   `json:"group,omitempty"`
}

// Receipt represents a delivery or read receipt for an outbound message.
type Receipt struct {
	To     string     `json:"to"`
	Status StatusType `json:"status"`
	Time   int64      `json:"time"`
}

// ActiveHandoff is the dashboard projection of a currently handed-off contact.
type ActiveHandoff struct {
	Phone    string    `json:"phone"`
	Protocol string    `json:"protocol"`
	Since    time.Time `json:"since"`
	Operator string    `json:"operator"`
}

// FeedbackReport is the dashboard projection joining feedback with contacts.
type FeedbackReport struct {
	FeedbackEntry
	Phone string `json:"phone"`
	Name  string `json:"name"`
}
