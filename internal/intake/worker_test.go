package intake

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/intervia/backend/internal/models"
	"github.com/intervia/backend/internal/services"
)

type fakeEngine struct {
	holdErr    error
	releaseErr error
	refundErr  error

	holds    []string
	releases []string
	refunds  []string
}

func (f *fakeEngine) Hold(ctx context.Context, accountID uuid.UUID, amount int64, referenceID string) (*models.LedgerEntry, error) {
	f.holds = append(f.holds, referenceID)
	return &models.LedgerEntry{}, f.holdErr
}

func (f *fakeEngine) Release(ctx context.Context, accountID, counterpartyID uuid.UUID, amount int64, referenceID string) (*models.LedgerEntry, error) {
	f.releases = append(f.releases, referenceID)
	return &models.LedgerEntry{}, f.releaseErr
}

func (f *fakeEngine) Refund(ctx context.Context, accountID uuid.UUID, amount int64, referenceID string) (*models.LedgerEntry, error) {
	f.refunds = append(f.refunds, referenceID)
	return &models.LedgerEntry{}, f.refundErr
}

func jobFor(ev LifecycleEvent) *river.Job[ApplyCreditEventArgs] {
	return &river.Job[ApplyCreditEventArgs]{Args: ApplyCreditEventArgs{Event: ev}}
}

func validEvent(eventType string) LifecycleEvent {
	ev := LifecycleEvent{
		Type:             eventType,
		ReferenceID:      "interview-1",
		SpenderAccountID: uuid.New(),
		Amount:           600,
	}
	if eventType == EventFeedbackSubmitted {
		ev.EarnerAccountID = uuid.New()
	}
	return ev
}

func TestWorkerMapsEventsToTransitions(t *testing.T) {
	cases := []struct {
		eventType string
		check     func(*fakeEngine) int
	}{
		{EventInterviewCreated, func(f *fakeEngine) int { return len(f.holds) }},
		{EventFeedbackSubmitted, func(f *fakeEngine) int { return len(f.releases) }},
		{EventInterviewRejected, func(f *fakeEngine) int { return len(f.refunds) }},
		{EventInterviewCancelled, func(f *fakeEngine) int { return len(f.refunds) }},
		{EventInterviewNotAttended, func(f *fakeEngine) int { return len(f.refunds) }},
		{EventInterviewNotConducted, func(f *fakeEngine) int { return len(f.refunds) }},
	}
	for _, tc := range cases {
		t.Run(tc.eventType, func(t *testing.T) {
			engine := &fakeEngine{}
			worker := NewApplyCreditEventWorker(engine, nil)
			if err := worker.Work(context.Background(), jobFor(validEvent(tc.eventType))); err != nil {
				t.Fatalf("Work: %v", err)
			}
			if tc.check(engine) != 1 {
				t.Fatalf("event %s did not reach its transition", tc.eventType)
			}
		})
	}
}

func TestWorkerDuplicateIsSuccess(t *testing.T) {
	engine := &fakeEngine{holdErr: services.ErrAlreadyHeld}
	worker := NewApplyCreditEventWorker(engine, nil)

	if err := worker.Work(context.Background(), jobFor(validEvent(EventInterviewCreated))); err != nil {
		t.Fatalf("duplicate outcome must complete the job, got %v", err)
	}
}

func TestWorkerBusinessRuleCancelsJob(t *testing.T) {
	engine := &fakeEngine{holdErr: services.ErrInsufficientFunds}
	worker := NewApplyCreditEventWorker(engine, nil)

	err := worker.Work(context.Background(), jobFor(validEvent(EventInterviewCreated)))
	if err == nil {
		t.Fatal("business-rule failure must not complete the job")
	}
	// JobCancel wraps the cause, so the sentinel stays inspectable.
	if !errors.Is(err, services.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want wrapped ErrInsufficientFunds", err)
	}
}

func TestWorkerTransientErrorRetries(t *testing.T) {
	transient := errors.New("connection reset")
	engine := &fakeEngine{refundErr: transient}
	worker := NewApplyCreditEventWorker(engine, nil)

	err := worker.Work(context.Background(), jobFor(validEvent(EventInterviewCancelled)))
	if !errors.Is(err, transient) {
		t.Fatalf("err = %v, want the transient error returned for retry", err)
	}
}

func TestWorkerMalformedEventCancelled(t *testing.T) {
	engine := &fakeEngine{}
	worker := NewApplyCreditEventWorker(engine, nil)

	ev := validEvent(EventInterviewCreated)
	ev.Amount = 0
	if err := worker.Work(context.Background(), jobFor(ev)); err == nil {
		t.Fatal("malformed event must not complete the job")
	}
	if len(engine.holds) != 0 {
		t.Fatal("malformed event must not reach the engine")
	}
}
