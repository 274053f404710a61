package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

const (
	// Subject the interview subsystem publishes lifecycle events on.
	Subject = "interviews.events"
	// Queue group: one consumer per event across all API replicas.
	Queue = "credit-intake"
)

// JobInserter enqueues a durable job. Satisfied by *river.Client[pgx.Tx].
type JobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Listener bridges the NATS notification stream into the durable job
// queue. NATS gives fan-in from the interview subsystem; the queue gives
// restarts-survive delivery and bounded-backoff retries. The engine's
// idempotency makes the resulting at-least-once pipeline safe.
type Listener struct {
	nc   *nats.Conn
	jobs JobInserter
	log  *slog.Logger
}

func NewListener(nc *nats.Conn, jobs JobInserter, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{nc: nc, jobs: jobs, log: log}
}

// Start subscribes and blocks until ctx is cancelled, then drains the
// subscription so in-flight messages finish.
func (l *Listener) Start(ctx context.Context) error {
	sub, err := l.nc.QueueSubscribe(Subject, Queue, func(m *nats.Msg) {
		var ev LifecycleEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			l.log.Error("failed to decode lifecycle event", "error", err)
			return
		}
		if err := ev.Validate(); err != nil {
			l.log.Error("dropping invalid lifecycle event", "error", err)
			return
		}
		if _, err := l.jobs.Insert(ctx, ApplyCreditEventArgs{Event: ev}, nil); err != nil {
			// The publisher redelivers; the idempotency record absorbs
			// duplicates once an insert succeeds.
			l.log.Error("failed to enqueue lifecycle event",
				"event_type", ev.Type, "reference_id", ev.ReferenceID, "error", err)
			return
		}
		l.log.Info("lifecycle event enqueued", "event_type", ev.Type, "reference_id", ev.ReferenceID)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", Subject, err)
	}

	l.log.Info("event intake listening", "subject", Subject, "queue", Queue)
	<-ctx.Done()

	l.log.Info("event intake shutting down, draining subscription")
	return sub.Drain()
}
