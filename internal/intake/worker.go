package intake

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/intervia/backend/internal/models"
	"github.com/intervia/backend/internal/services"
)

// ApplyCreditEventArgs is the durable job payload, one per lifecycle event.
type ApplyCreditEventArgs struct {
	Event LifecycleEvent `json:"event"`
}

func (ApplyCreditEventArgs) Kind() string { return "apply_credit_event" }

// CreditEngine is the contract the worker needs from the escrow engine.
type CreditEngine interface {
	Hold(ctx context.Context, accountID uuid.UUID, amount int64, referenceID string) (*models.LedgerEntry, error)
	Release(ctx context.Context, accountID, counterpartyID uuid.UUID, amount int64, referenceID string) (*models.LedgerEntry, error)
	Refund(ctx context.Context, accountID uuid.UUID, amount int64, referenceID string) (*models.LedgerEntry, error)
}

// ApplyCreditEventWorker maps lifecycle events onto escrow transitions.
// Duplicate outcomes are success. Business-rule failures cancel the job:
// retrying cannot change them, an operator has to look at the upstream
// data. Everything else is returned to River for backoff retry.
type ApplyCreditEventWorker struct {
	river.WorkerDefaults[ApplyCreditEventArgs]
	engine CreditEngine
	log    *slog.Logger
}

func NewApplyCreditEventWorker(engine CreditEngine, log *slog.Logger) *ApplyCreditEventWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ApplyCreditEventWorker{engine: engine, log: log}
}

func (w *ApplyCreditEventWorker) Work(ctx context.Context, job *river.Job[ApplyCreditEventArgs]) error {
	ev := job.Args.Event
	if err := ev.Validate(); err != nil {
		w.log.Error("discarding malformed lifecycle event", "error", err)
		return river.JobCancel(err)
	}

	var err error
	switch ev.Type {
	case EventInterviewCreated:
		_, err = w.engine.Hold(ctx, ev.SpenderAccountID, ev.Amount, ev.ReferenceID)
	case EventFeedbackSubmitted:
		_, err = w.engine.Release(ctx, ev.SpenderAccountID, ev.EarnerAccountID, ev.Amount, ev.ReferenceID)
	case EventInterviewRejected, EventInterviewCancelled, EventInterviewNotAttended, EventInterviewNotConducted:
		_, err = w.engine.Refund(ctx, ev.SpenderAccountID, ev.Amount, ev.ReferenceID)
	default:
		return river.JobCancel(fmt.Errorf("unknown event type %q", ev.Type))
	}

	switch {
	case err == nil:
		w.log.Info("lifecycle event applied",
			"event_type", ev.Type, "reference_id", ev.ReferenceID, "amount", ev.Amount)
		return nil
	case services.IsDuplicate(err):
		w.log.Info("lifecycle event already applied",
			"event_type", ev.Type, "reference_id", ev.ReferenceID, "outcome", err.Error())
		return nil
	case services.IsBusinessRuleViolation(err):
		w.log.Error("lifecycle event rejected",
			"event_type", ev.Type, "reference_id", ev.ReferenceID,
			"spender_account_id", ev.SpenderAccountID, "error", err)
		return river.JobCancel(err)
	default:
		// Transient storage failure; River retries with backoff.
		return err
	}
}
