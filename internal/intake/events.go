package intake

import (
	"fmt"

	"github.com/google/uuid"
)

// Lifecycle event types emitted by the interview subsystem. The engine
// does not validate the underlying interview; it reacts to events the
// subsystem has already validated.
const (
	EventInterviewCreated      = "interview_created"
	EventFeedbackSubmitted     = "feedback_submitted"
	EventInterviewRejected     = "interview_rejected"
	EventInterviewCancelled    = "interview_cancelled"
	EventInterviewNotAttended  = "interview_not_attended"
	EventInterviewNotConducted = "interview_not_conducted"
)

// LifecycleEvent is one external notification. ReferenceID is the interview
// identifier correlating the hold with its terminal outcome. Delivery is
// at-least-once; the engine absorbs redelivery.
type LifecycleEvent struct {
	Type             string    `json:"event_type"`
	ReferenceID      string    `json:"reference_id"`
	SpenderAccountID uuid.UUID `json:"spender_account_id"`
	EarnerAccountID  uuid.UUID `json:"earner_account_id,omitempty"`
	Amount           int64     `json:"amount"`
}

// Validate rejects malformed notifications before they are enqueued.
func (e LifecycleEvent) Validate() error {
	switch e.Type {
	case EventInterviewCreated, EventInterviewRejected, EventInterviewCancelled,
		EventInterviewNotAttended, EventInterviewNotConducted:
	case EventFeedbackSubmitted:
		if e.EarnerAccountID == uuid.Nil {
			return fmt.Errorf("%s event without earner account", e.Type)
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.ReferenceID == "" {
		return fmt.Errorf("%s event without reference id", e.Type)
	}
	if e.SpenderAccountID == uuid.Nil {
		return fmt.Errorf("%s event without spender account", e.Type)
	}
	if e.Amount <= 0 {
		return fmt.Errorf("%s event with non-positive amount %d", e.Type, e.Amount)
	}
	return nil
}
