package store

import (
	"database/sql"
	"fmt"

	"github.com/cajulimao/atendebot/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nilIfZero returns nil if id is zero, otherwise returns id.
func nilIfZero(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}

// scanConversationState scans a ConversationState from sql.Rows.
func scanConversationState(rows *sql.Rows) (*models.ConversationState, error) {
	var st models.ConversationState
	var branch, payload sql.NullString
	if err := rows.Scan(&st.Phone, (*string)(&st.State), &branch, &payload, &st.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan state failed: %w", err)
	}
	st.Branch = models.Branch(branch.String)
	st.Payload = payload.String
	return &st, nil
}

// scanConversationStateRow scans a ConversationState from a single sql.Row.
func scanConversationStateRow(row *sql.Row) (*models.ConversationState, error) {
	var st models.ConversationState
	var branch, payload sql.NullString
	if err := row.Scan(&st.Phone, (*string)(&st.State), &branch, &payload, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.Branch = models.Branch(branch.String)
	st.Payload = payload.String
	return &st, nil
}

// scanActiveHandoff scans an ActiveHandoff from sql.Rows.
func scanActiveHandoff(rows *sql.Rows) (models.ActiveHandoff, error) {
	var h models.ActiveHandoff
	var protocol, operator sql.NullString
	if err := rows.Scan(&h.Phone, &protocol, &h.Since, &operator); err != nil {
		return h, fmt.Errorf("scan active handoff failed: %w", err)
	}
	h.Protocol = protocol.String
	h.Operator = operator.String
	return h, nil
}

// scanFeedbackReport scans a FeedbackReport from sql.Rows.
func scanFeedbackReport(rows *sql.Rows) (models.FeedbackReport, error) {
	var r models.FeedbackReport
	var name sql.NullString
	if err := rows.Scan(&r.ID, &r.ContactID, (*string)(&r.Kind), &r.Text, &r.CreatedAt, &r.Phone, &name); err != nil {
		return r, fmt.Errorf("scan feedback failed: %w", err)
	}
	r.Name = name.String
	return r, nil
}
