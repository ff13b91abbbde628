package authorization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/okwareddevnest/Pesa-Bridge/internal/gateway"
	"github.com/okwareddevnest/Pesa-Bridge/internal/metrics"
	"github.com/okwareddevnest/Pesa-Bridge/internal/traces"
)

// Reconcile applies an asynchronous provider result to the transaction it
// correlates with. It is idempotent: redelivery of the same result, or a
// result arriving after the entry was finalized by any path, returns the
// recorded decision without changing anything. Safe to call concurrently.
func (s *Service) Reconcile(ctx context.Context, checkoutRequestID, resultCode, resultDescription, receiptID string) (*Outcome, error) {
	ctx, span := traces.StartSpan(ctx, "authorization.Reconcile", traces.ResultCode(resultCode))
	defer span.End()
	log := s.requestLog(ctx).With("checkout_request_id", checkoutRequestID)

	txn, err := s.store.GetByCheckoutRequestID(ctx, checkoutRequestID)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			metrics.ReconciliationsTotal.WithLabelValues("not_found").Inc()
			log.Warn("result for unknown checkout request", "result_code", resultCode)
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("lookup by checkout request: %w", err)
	}
	span.SetAttributes(traces.Reference(txn.Reference))
	log = log.With("reference", txn.Reference)

	if txn.Status.IsTerminal() {
		metrics.ReconciliationsTotal.WithLabelValues("duplicate").Inc()
		log.Info("duplicate result delivery, returning recorded decision", "status", txn.Status)
		return outcomeFor(txn), nil
	}

	decision := gateway.MapResult(resultCode, resultDescription)
	if decision.Approved {
		return s.finalizeApproval(ctx, log, txn, resultCode, resultDescription, receiptID, decision)
	}
	return s.finalizeDecline(ctx, log, txn, resultCode, resultDescription, decision)
}

func (s *Service) finalizeApproval(ctx context.Context, log *slog.Logger, txn *Transaction, resultCode, resultDescription, receiptID string, decision gateway.Decision) (*Outcome, error) {
	updated, err := s.store.Transition(ctx, txn.ID, StatusApproved, Mutation{
		ResultCode:        resultCode,
		ResultDescription: resultDescription,
		ReceiptID:         receiptID,
		AuthorizationCode: decision.AuthorizationCode,
	})
	if errors.Is(err, ErrAlreadyFinalized) {
		return s.recordedDecision(ctx, log, txn.Reference)
	}
	if err != nil {
		return nil, fmt.Errorf("transition to approved: %w", err)
	}

	// Only the transition winner reaches this point, and ApplyApprovedSpend
	// is keyed by entry ID, so counters move exactly once per transaction.
	applied, err := s.accounts.ApplyApprovedSpend(ctx,
		updated.CardholderID, updated.CardID, updated.SettlementAmount, updated.ID, time.Now())
	if err != nil {
		// The approval stands; counters catch up on a later delivery or
		// manual reconciliation. Never fail the holder's approved payment.
		log.Error("applying approved spend failed", "error", err)
	} else if !applied {
		log.Warn("approved spend was already applied for this entry")
	}

	metrics.ReconciliationsTotal.WithLabelValues("approved").Inc()
	observeCompletion(updated)
	log.Info("transaction approved",
		"authorization_code", updated.AuthorizationCode,
		"receipt_id", updated.ReceiptID,
		"settlement_amount", updated.SettlementAmount)
	return outcomeFor(updated), nil
}

func (s *Service) finalizeDecline(ctx context.Context, log *slog.Logger, txn *Transaction, resultCode, resultDescription string, decision gateway.Decision) (*Outcome, error) {
	updated, err := s.store.Transition(ctx, txn.ID, StatusDeclined, Mutation{
		ResultCode:        resultCode,
		ResultDescription: resultDescription,
		DeclineCode:       decision.DeclineCode,
		DeclineReason:     decision.DeclineReason,
	})
	if errors.Is(err, ErrAlreadyFinalized) {
		return s.recordedDecision(ctx, log, txn.Reference)
	}
	if err != nil {
		return nil, fmt.Errorf("transition to declined: %w", err)
	}

	metrics.ReconciliationsTotal.WithLabelValues("declined").Inc()
	metrics.DeclinesTotal.WithLabelValues(decision.DeclineCode).Inc()
	observeCompletion(updated)
	log.Info("transaction declined",
		"result_code", resultCode,
		"decline_code", decision.DeclineCode,
		"decline_reason", decision.DeclineReason)
	return outcomeFor(updated), nil
}

// recordedDecision re-reads an entry after losing a transition race and
// returns whatever decision won.
func (s *Service) recordedDecision(ctx context.Context, log *slog.Logger, reference string) (*Outcome, error) {
	metrics.ReconciliationsTotal.WithLabelValues("duplicate").Inc()
	recorded, err := s.store.GetByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("re-read after lost race: %w", err)
	}
	log.Info("lost finalization race, returning recorded decision", "status", recorded.Status)
	return outcomeFor(recorded), nil
}

// QueryAndReconcile answers a status query for a transaction, polling the
// provider when the entry is still open. It is the fallback for lost
// callbacks: a terminal provider answer is fed through Reconcile so both
// paths converge on identical state.
func (s *Service) QueryAndReconcile(ctx context.Context, reference string) (*Outcome, error) {
	ctx, span := traces.StartSpan(ctx, "authorization.QueryAndReconcile", traces.Reference(reference))
	defer span.End()
	log := s.requestLog(ctx).With("reference", reference)

	txn, err := s.store.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if txn.Status.IsTerminal() {
		return outcomeFor(txn), nil
	}

	// Past the deadline the entry expires locally; the provider is not
	// consulted so an expired decision can never be un-expired by a late
	// provider answer.
	if txn.Expired(time.Now()) {
		return s.expireEntry(ctx, log, txn)
	}

	if txn.CheckoutRequestID == "" {
		// Push never got recorded as sent; nothing to query yet.
		return outcomeFor(txn), nil
	}

	status, err := s.gateway.QueryStatus(ctx, txn.CheckoutRequestID)
	if err != nil {
		log.Warn("status query failed, reporting stored state", "error", err)
		return outcomeFor(txn), nil
	}
	if status.ResultCode == gateway.ResultPending {
		return outcomeFor(txn), nil
	}
	return s.Reconcile(ctx, txn.CheckoutRequestID, status.ResultCode, status.ResultDescription, "")
}

// expireEntry transitions a past-deadline entry to expired, absorbing races
// with callbacks and the sweeper.
func (s *Service) expireEntry(ctx context.Context, log *slog.Logger, txn *Transaction) (*Outcome, error) {
	updated, err := s.store.Transition(ctx, txn.ID, StatusExpired, Mutation{
		DeclineCode:   gateway.DeclineDoNotHonor,
		DeclineReason: "authorization timed out waiting for holder",
	})
	if errors.Is(err, ErrAlreadyFinalized) {
		return s.recordedDecision(ctx, log, txn.Reference)
	}
	if err != nil {
		return nil, fmt.Errorf("transition to expired: %w", err)
	}
	metrics.ExpiredTotal.Inc()
	observeCompletion(updated)
	log.Info("transaction expired", "expired_at", updated.ExpiresAt)
	return outcomeFor(updated), nil
}
