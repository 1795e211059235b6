// Package webhook turns provider event deliveries into ledger credits.
//
// Every inbound event walks an explicit state machine:
//
//	Received -> SignatureVerified -> Parsed -> Applied | Duplicate
//	                              \> Ignored (event type not relevant)
//	          \> Rejected (bad signature, or unprocessable metadata)
//
// A delivery is left unacknowledged only when a redelivery can still help:
// signature failure (the provider may re-sign), and a credit that did not
// commit (transient failure, or a concurrent holder of the idempotency lease).
// Every other terminal state is acknowledged so the provider stops retrying.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"ledger/internal/metrics"
	"ledger/internal/models"
	"ledger/internal/services"
)

type Outcome string

const (
	// Applied: the event produced a new committed credit.
	Applied Outcome = "applied"
	// Duplicate: the session was already credited (earlier delivery, or the
	// pull-based verify path won). Requires a committed transaction;
	// acknowledged.
	Duplicate Outcome = "duplicate"
	// Ignored: an event type the ledger does not care about. Acknowledged.
	Ignored Outcome = "ignored"
	// Rejected: signature failure, unprocessable payload, or a credit that
	// did not commit. Malformed metadata is acknowledged and flagged for
	// audit; uncommitted credits are not acknowledged so the provider
	// redelivers.
	Rejected Outcome = "rejected"
)

const completedEventType = "checkout.session.completed"

type event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID            string            `json:"id"`
			PaymentStatus string            `json:"payment_status"`
			AmountTotal   int64             `json:"amount_total"`
			Currency      string            `json:"currency"`
			Metadata      map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

type Result struct {
	Outcome Outcome
	// Ack is false only when the provider should retry the delivery.
	Ack    bool
	Reason string
}

type SessionConsumer interface {
	MarkConsumed(ctx context.Context, sessionID string) (int64, error)
}

type AuditLogger interface {
	Log(ctx context.Context, actorID, action, entityType, entityID, data string) error
}

type JobQueue interface {
	Submit(job func())
}

type Reconciler struct {
	secret    string
	tolerance time.Duration
	ledger    services.LedgerAdjuster
	sessions  SessionConsumer
	audit     AuditLogger
	jobs      JobQueue
	log       *slog.Logger
	now       func() time.Time
}

func NewReconciler(secret string, tolerance time.Duration, ledger services.LedgerAdjuster, sessions SessionConsumer, audit AuditLogger, jobs JobQueue, log *slog.Logger) *Reconciler {
	return &Reconciler{
		secret:    secret,
		tolerance: tolerance,
		ledger:    ledger,
		sessions:  sessions,
		audit:     audit,
		jobs:      jobs,
		log:       log,
		now:       time.Now,
	}
}

// Process drives one delivery through the state machine. It must return well
// inside the provider's delivery timeout; anything slow is handed to the job
// queue after the terminal state is decided.
func (r *Reconciler) Process(ctx context.Context, payload []byte, signatureHeader string) Result {
	if err := VerifySignature(payload, signatureHeader, r.secret, r.tolerance, r.now()); err != nil {
		return r.finish(Result{Outcome: Rejected, Ack: false, Reason: "signature verification failed"})
	}

	var ev event
	if err := json.Unmarshal(payload, &ev); err != nil {
		// Authenticated but unparseable. Retrying will not fix it; flag it
		// for manual investigation and acknowledge.
		r.flagForAudit("", payload, "unparseable payload")
		return r.finish(Result{Outcome: Rejected, Ack: true, Reason: "unparseable payload"})
	}

	if ev.Type != completedEventType || ev.Data.Object.PaymentStatus != "paid" {
		return r.finish(Result{Outcome: Ignored, Ack: true, Reason: "event type not relevant"})
	}

	object := ev.Data.Object
	userID := object.Metadata["user_id"]
	amount := object.AmountTotal
	if amount <= 0 {
		if fallback, err := strconv.ParseInt(object.Metadata["requested_amount"], 10, 64); err == nil {
			amount = fallback
		}
	}
	if object.ID == "" || userID == "" || amount <= 0 {
		r.flagForAudit(ev.ID, payload, "missing session, user or amount")
		return r.finish(Result{Outcome: Rejected, Ack: true, Reason: "missing session, user or amount"})
	}

	key := object.ID
	result, err := r.ledger.Credit(ctx, services.AdjustRequest{
		UserID:         userID,
		Amount:         amount,
		Type:           models.TxTopUp,
		Description:    "Balance top-up",
		IdempotencyKey: &key,
	})
	if err != nil {
		if errors.Is(err, services.ErrInProgress) {
			// Another holder has the lease but nothing is committed yet, and
			// the holder may still fail. Let the provider redeliver: the retry
			// lands after the lease is resolved and observes the duplicate, or
			// applies the credit itself.
			return r.finish(Result{Outcome: Rejected, Ack: false, Reason: "credit in progress elsewhere"})
		}
		if errors.Is(err, services.ErrUserNotFound) {
			r.flagForAudit(ev.ID, payload, "unknown user")
			return r.finish(Result{Outcome: Rejected, Ack: true, Reason: "unknown user"})
		}
		// Transient failure (database down, serialization retries exhausted):
		// do not acknowledge, the provider's retry is our recovery path.
		r.log.Error("webhook credit", "session_id", object.ID, "err", err)
		return r.finish(Result{Outcome: Rejected, Ack: false, Reason: "credit failed"})
	}

	r.jobs.Submit(func() {
		if _, err := r.sessions.MarkConsumed(context.Background(), object.ID); err != nil {
			r.log.Error("mark session consumed", "session_id", object.ID, "err", err)
		}
	})

	if result.Duplicate {
		return r.finish(Result{Outcome: Duplicate, Ack: true, Reason: "already credited"})
	}
	return r.finish(Result{Outcome: Applied, Ack: true})
}

func (r *Reconciler) finish(result Result) Result {
	metrics.WebhookEventsTotal.WithLabelValues(string(result.Outcome)).Inc()
	return result
}

func (r *Reconciler) flagForAudit(eventID string, payload []byte, reason string) {
	body := string(payload)
	r.jobs.Submit(func() {
		data, _ := json.Marshal(map[string]string{"reason": reason, "payload": body})
		if err := r.audit.Log(context.Background(), "webhook", "webhook_rejected", "event", eventID, string(data)); err != nil {
			r.log.Error("audit webhook rejection", "event_id", eventID, "err", err)
		}
	})
}
