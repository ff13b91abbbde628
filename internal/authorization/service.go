package authorization

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/okwareddevnest/Pesa-Bridge/internal/account"
	"github.com/okwareddevnest/Pesa-Bridge/internal/gateway"
	"github.com/okwareddevnest/Pesa-Bridge/internal/idgen"
	"github.com/okwareddevnest/Pesa-Bridge/internal/limits"
	"github.com/okwareddevnest/Pesa-Bridge/internal/logging"
	"github.com/okwareddevnest/Pesa-Bridge/internal/metrics"
	"github.com/okwareddevnest/Pesa-Bridge/internal/rates"
	"github.com/okwareddevnest/Pesa-Bridge/internal/traces"
	"github.com/okwareddevnest/Pesa-Bridge/internal/validation"
)

// ChargeRequest is an inbound card authorization attempt from a merchant.
type ChargeRequest struct {
	CardNumber       string  `json:"cardNumber" binding:"required"`
	CVV              string  `json:"cvv" binding:"required"`
	ExpMonth         int     `json:"expMonth" binding:"required"`
	ExpYear          int     `json:"expYear" binding:"required"`
	Amount           float64 `json:"amount" binding:"required"`
	Currency         string  `json:"currency" binding:"required"`
	MerchantName     string  `json:"merchantName" binding:"required"`
	MerchantID       string  `json:"merchantId"`
	MerchantCategory string  `json:"merchantCategory"`
}

// Outcome is the caller-visible result of an authorization step: an immediate
// decline, a pending prompt, or (after reconciliation) the recorded decision.
type Outcome struct {
	Approved          bool   `json:"approved"`
	Pending           bool   `json:"pending"`
	Status            Status `json:"status,omitempty"`
	Reference         string `json:"reference,omitempty"`
	CheckoutRequestID string `json:"checkoutRequestId,omitempty"`
	AuthorizationCode string `json:"authorizationCode,omitempty"`
	ReceiptID         string `json:"receiptId,omitempty"`
	DeclineCode       string `json:"declineCode,omitempty"`
	DeclineReason     string `json:"declineReason,omitempty"`
}

// Service orchestrates authorizations end to end.
type Service struct {
	store    Store
	accounts account.Store
	gateway  gateway.Port

	authTimeout time.Duration
	logger      *slog.Logger
}

// NewService creates the authorization orchestrator. authTimeout is how long
// a push prompt may stay unanswered before the entry expires.
func NewService(store Store, accounts account.Store, gw gateway.Port, authTimeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		accounts:    accounts,
		gateway:     gw,
		authTimeout: authTimeout,
		logger:      logger,
	}
}

// Authorize runs a charge request through instrument validation, limit
// evaluation, ledger entry creation, and push initiation. It returns either a
// pending outcome (the holder now has a prompt) or a decline; it never blocks
// waiting for the holder. Declines before entry creation leave no trace in
// the ledger. The returned error is non-nil only for infrastructure faults
// that also could not be recorded.
func (s *Service) Authorize(ctx context.Context, req ChargeRequest) (*Outcome, error) {
	ctx, span := traces.StartSpan(ctx, "authorization.Authorize", traces.Amount(req.Amount))
	defer span.End()
	log := s.requestLog(ctx)
	now := time.Now()

	// Steps 1-2: resolve and vet the instrument and its holder. All
	// failures here are indistinguishable "14"/"15" declines to the caller
	// so the API cannot be used to probe which PANs exist.
	pan := validation.NormalizePAN(req.CardNumber)
	if !validation.IsValidPAN(pan) || !validation.IsValidCVV(req.CVV) {
		return s.preEntryDecline(log, gateway.DeclineInvalidCard, "invalid card details"), nil
	}
	card, err := s.accounts.GetCardByPANHash(ctx, account.HashPAN(pan))
	if err != nil {
		if err == account.ErrCardNotFound {
			return s.preEntryDecline(log, gateway.DeclineInvalidCard, "invalid card details"), nil
		}
		return s.preEntryDecline(log, gateway.DeclineSystemMalfunction, "card lookup failed"), fmt.Errorf("card lookup: %w", err)
	}
	if card.CVVHash != account.HashCVV(req.CVV, pan) ||
		card.ExpMonth != req.ExpMonth || card.ExpYear != req.ExpYear {
		return s.preEntryDecline(log, gateway.DeclineInvalidCard, "invalid card details"), nil
	}
	span.SetAttributes(traces.CardID(card.ID), traces.CardholderID(card.CardholderID))

	holder, err := s.accounts.GetCardholder(ctx, card.CardholderID)
	if err != nil {
		if err == account.ErrCardholderNotFound {
			return s.preEntryDecline(log, gateway.DeclineInactiveAccount, "cardholder not found"), nil
		}
		return s.preEntryDecline(log, gateway.DeclineSystemMalfunction, "cardholder lookup failed"), fmt.Errorf("cardholder lookup: %w", err)
	}

	// Step 3: settle the amount. A missing rate degrades to treating the
	// amount as already in settlement currency.
	settled, known := rates.Convert(req.Amount, req.Currency)
	if !known {
		log.Warn("no reference rate for currency, treating as settlement currency",
			"currency", req.Currency, "amount", req.Amount)
	}

	// Step 4: freshen counter windows, then evaluate limits and fraud
	// indicators against the settled amount.
	if err := s.accounts.FreshenWindows(ctx, holder.ID, card.ID, now); err != nil {
		return s.preEntryDecline(log, gateway.DeclineSystemMalfunction, "limit state unavailable"), fmt.Errorf("freshen windows: %w", err)
	}
	holder, err = s.accounts.GetCardholder(ctx, holder.ID)
	if err != nil {
		return s.preEntryDecline(log, gateway.DeclineSystemMalfunction, "limit state unavailable"), fmt.Errorf("reload cardholder: %w", err)
	}
	card, err = s.accounts.GetCard(ctx, card.ID)
	if err != nil {
		return s.preEntryDecline(log, gateway.DeclineSystemMalfunction, "limit state unavailable"), fmt.Errorf("reload card: %w", err)
	}
	history, err := s.recentHistory(ctx, card.ID)
	if err != nil {
		log.Warn("recent history unavailable, evaluating without indicators", "error", err)
	}
	decision := limits.Evaluate(holder, card, settled, history, now)
	for _, ind := range decision.Indicators {
		metrics.FraudIndicatorsTotal.WithLabelValues(ind).Inc()
		log.Info("fraud indicator", "indicator", ind, "card_id", card.ID)
	}
	if !decision.Allowed {
		return s.preEntryDecline(log, decision.DeclineCode, decision.Reason), nil
	}

	// Steps 5-6: mint the reference and create the ledger entry with its
	// expiry deadline fixed up front.
	txn := &Transaction{
		ID:                 idgen.WithPrefix("txn"),
		Reference:          idgen.Reference(),
		CardholderID:       holder.ID,
		CardID:             card.ID,
		Amount:             req.Amount,
		Currency:           strings.ToUpper(req.Currency),
		SettlementAmount:   settled,
		SettlementCurrency: rates.SettlementCurrency,
		MerchantName:       req.MerchantName,
		MerchantID:         req.MerchantID,
		MerchantCategory:   req.MerchantCategory,
		Status:             StatusPendingAuthorization,
		CreatedAt:          now,
		ExpiresAt:          now.Add(s.authTimeout),
		UpdatedAt:          now,
	}
	if len(decision.Indicators) > 0 {
		txn.Metadata = map[string]string{
			"fraudIndicators": strings.Join(decision.Indicators, ","),
		}
	}
	if err := s.store.Create(ctx, txn); err != nil {
		return s.preEntryDecline(log, gateway.DeclineSystemMalfunction, "could not record transaction"), fmt.Errorf("create transaction: %w", err)
	}
	span.SetAttributes(traces.Reference(txn.Reference))
	log = log.With("reference", txn.Reference)

	// Steps 7-8: initiate the push. From here every failure is recorded on
	// the entry before the decline is returned.
	pushStart := time.Now()
	push, err := s.gateway.InitiatePush(ctx, holder.Phone, settled, txn.Reference, req.MerchantName)
	metrics.PushInitiationDuration.Observe(time.Since(pushStart).Seconds())
	if err != nil {
		log.Error("push initiation failed", "error", err)
		return s.failEntry(ctx, log, txn, "gateway unreachable", map[string]string{"gatewayError": err.Error()}), nil
	}
	if !push.Accepted {
		log.Warn("push refused by provider", "provider_error", push.Error)
		return s.failEntry(ctx, log, txn, "push refused by provider", map[string]string{"gatewayError": push.Error}), nil
	}

	updated, err := s.store.Transition(ctx, txn.ID, StatusPushSent, Mutation{
		MerchantRequestID: push.MerchantRequestID,
		CheckoutRequestID: push.CheckoutRequestID,
	})
	if err != nil {
		// The prompt is on the holder's phone but we could not record it;
		// the entry will expire on its deadline.
		log.Error("recording push_sent failed", "error", err)
		return s.failEntry(ctx, log, txn, "could not record push", nil), nil
	}

	metrics.AuthorizationsTotal.WithLabelValues("pending").Inc()
	log.Info("push sent, awaiting holder",
		"checkout_request_id", push.CheckoutRequestID,
		"settlement_amount", settled,
		"expires_at", updated.ExpiresAt)
	return &Outcome{
		Pending:           true,
		Status:            StatusPushSent,
		Reference:         updated.Reference,
		CheckoutRequestID: push.CheckoutRequestID,
	}, nil
}

// requestLog returns the service logger tagged with the request ID when the
// context carries one.
func (s *Service) requestLog(ctx context.Context) *slog.Logger {
	if reqID := logging.RequestID(ctx); reqID != "" {
		return s.logger.With("request_id", reqID)
	}
	return s.logger
}

// preEntryDecline builds a decline outcome for failures before any ledger
// entry exists.
func (s *Service) preEntryDecline(log *slog.Logger, code, reason string) *Outcome {
	metrics.AuthorizationsTotal.WithLabelValues("declined").Inc()
	metrics.DeclinesTotal.WithLabelValues(code).Inc()
	log.Info("authorization declined before entry", "decline_code", code, "reason", reason)
	return &Outcome{
		Status:        StatusDeclined,
		DeclineCode:   code,
		DeclineReason: reason,
	}
}

// failEntry records a post-creation fault on the entry and returns a "96"
// decline carrying the reference. A lost transition race means someone else
// already finalized the entry; return that decision instead.
func (s *Service) failEntry(ctx context.Context, log *slog.Logger, txn *Transaction, reason string, meta map[string]string) *Outcome {
	updated, err := s.store.Transition(ctx, txn.ID, StatusFailed, Mutation{
		DeclineCode:   gateway.DeclineSystemMalfunction,
		DeclineReason: reason,
		Metadata:      meta,
	})
	if err == ErrAlreadyFinalized {
		if recorded, gerr := s.store.GetByReference(ctx, txn.Reference); gerr == nil {
			return outcomeFor(recorded)
		}
	} else if err != nil {
		log.Error("recording failure state failed", "error", err)
	}
	metrics.AuthorizationsTotal.WithLabelValues("failed").Inc()
	metrics.DeclinesTotal.WithLabelValues(gateway.DeclineSystemMalfunction).Inc()
	if updated != nil {
		observeCompletion(updated)
	}
	return &Outcome{
		Status:        StatusFailed,
		Reference:     txn.Reference,
		DeclineCode:   gateway.DeclineSystemMalfunction,
		DeclineReason: reason,
	}
}

// recentHistory loads the fraud evaluation window for a card.
func (s *Service) recentHistory(ctx context.Context, cardID string) ([]limits.HistoryEntry, error) {
	txns, err := s.store.ListRecentByCard(ctx, cardID, limits.HistoryWindow)
	if err != nil {
		return nil, err
	}
	history := make([]limits.HistoryEntry, 0, len(txns))
	for _, t := range txns {
		history = append(history, limits.HistoryEntry{
			Amount:    t.SettlementAmount,
			Status:    string(t.Status),
			CreatedAt: t.CreatedAt,
		})
	}
	return history, nil
}

// outcomeFor renders a transaction's recorded state as a caller-visible
// outcome.
func outcomeFor(txn *Transaction) *Outcome {
	out := &Outcome{
		Status:    txn.Status,
		Reference: txn.Reference,
	}
	switch {
	case txn.Status == StatusApproved:
		out.Approved = true
		out.AuthorizationCode = txn.AuthorizationCode
		out.ReceiptID = txn.ReceiptID
	case txn.Status.IsTerminal():
		out.DeclineCode = txn.DeclineCode
		out.DeclineReason = txn.DeclineReason
	default:
		out.Pending = true
		out.CheckoutRequestID = txn.CheckoutRequestID
	}
	return out
}

// observeCompletion records time-to-terminal for a finalized entry.
func observeCompletion(txn *Transaction) {
	if txn.CompletedAt != nil {
		metrics.AuthorizationDuration.Observe(txn.CompletedAt.Sub(txn.CreatedAt).Seconds())
	}
}
