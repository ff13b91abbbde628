// Package authorization is the transaction core: the authorization ledger
// entry, its state machine, the charge orchestrator, reconciliation of
// asynchronous provider results, and the expiry sweeper.
//
// A transaction is created before the push prompt is sent and then only ever
// moves forward through Transition, a single atomic conditional write. Once a
// terminal status is recorded it never changes; every later delivery of the
// same result, status poll, or sweeper pass converges on the recorded
// decision.
package authorization

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDuplicateReference  = errors.New("transaction reference already exists")

	// ErrAlreadyFinalized is returned by Transition when the entry is
	// already terminal. Callers treat it as a benign no-op and re-read the
	// recorded state.
	ErrAlreadyFinalized = errors.New("transaction already finalized")
)

// Status is the authorization lifecycle state.
type Status string

const (
	StatusPendingAuthorization Status = "pending_authorization"
	StatusPushSent             Status = "push_sent"
	StatusAwaitingHolder       Status = "awaiting_holder_response"
	StatusApproved             Status = "approved"
	StatusDeclined             Status = "declined"
	StatusFailed               Status = "failed"
	StatusExpired              Status = "expired"
	// StatusCancelled is reserved for administrative cancellation. No flow
	// in this service produces it.
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether a status is final.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusDeclined, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Transaction is one authorization ledger entry.
type Transaction struct {
	ID                 string            `json:"id"`
	Reference          string            `json:"reference"`
	CardholderID       string            `json:"cardholderId"`
	CardID             string            `json:"cardId"`
	Amount             float64           `json:"amount"`
	Currency           string            `json:"currency"`
	SettlementAmount   float64           `json:"settlementAmount"`
	SettlementCurrency string            `json:"settlementCurrency"`
	MerchantName       string            `json:"merchantName"`
	MerchantID         string            `json:"merchantId,omitempty"`
	MerchantCategory   string            `json:"merchantCategory,omitempty"`
	Status             Status            `json:"status"`
	MerchantRequestID  string            `json:"merchantRequestId,omitempty"`
	CheckoutRequestID  string            `json:"checkoutRequestId,omitempty"`
	ResultCode         string            `json:"resultCode,omitempty"`
	ResultDescription  string            `json:"resultDescription,omitempty"`
	ReceiptID          string            `json:"receiptId,omitempty"`
	AuthorizationCode  string            `json:"authorizationCode,omitempty"`
	DeclineCode        string            `json:"declineCode,omitempty"`
	DeclineReason      string            `json:"declineReason,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
	PushSentAt         *time.Time        `json:"pushSentAt,omitempty"`
	RespondedAt        *time.Time        `json:"respondedAt,omitempty"`
	CompletedAt        *time.Time        `json:"completedAt,omitempty"`
	ExpiresAt          time.Time         `json:"expiresAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

// Expired reports whether the push deadline has passed.
func (t *Transaction) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Mutation carries the fields a transition may set. Zero-valued fields are
// left unchanged; Metadata entries are merged over existing keys.
type Mutation struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        string
	ResultDescription string
	ReceiptID         string
	AuthorizationCode string
	DeclineCode       string
	DeclineReason     string
	Metadata          map[string]string
}

// Store persists authorization ledger entries. Entries are append-and-advance
// only: Transition is the sole mutation path and nothing is ever deleted.
type Store interface {
	Create(ctx context.Context, txn *Transaction) error
	GetByReference(ctx context.Context, reference string) (*Transaction, error)
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*Transaction, error)

	// ListRecentByCard returns up to limit entries for the card, most
	// recent first.
	ListRecentByCard(ctx context.Context, cardID string, limit int) ([]*Transaction, error)

	// ListExpired returns non-terminal entries whose deadline passed before
	// the given instant, capped at limit.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Transaction, error)

	// Transition atomically advances a non-terminal entry to the given
	// status, stamping the lifecycle timestamp that matches the target and
	// merging the mutation. Returns ErrAlreadyFinalized when the stored
	// status is already terminal; the entry is left untouched.
	Transition(ctx context.Context, id string, to Status, mut Mutation) (*Transaction, error)
}

// applyTransition stamps timestamps and merges mutation fields onto a
// transaction already checked to be non-terminal. Shared by both stores so
// the stamping rules cannot drift.
func applyTransition(txn *Transaction, to Status, mut Mutation, now time.Time) {
	txn.Status = to
	switch to {
	case StatusPushSent:
		t := now
		txn.PushSentAt = &t
	case StatusApproved, StatusDeclined:
		t := now
		txn.RespondedAt = &t
		txn.CompletedAt = &t
	case StatusFailed, StatusExpired, StatusCancelled:
		t := now
		txn.CompletedAt = &t
	}
	if mut.MerchantRequestID != "" {
		txn.MerchantRequestID = mut.MerchantRequestID
	}
	if mut.CheckoutRequestID != "" {
		txn.CheckoutRequestID = mut.CheckoutRequestID
	}
	if mut.ResultCode != "" {
		txn.ResultCode = mut.ResultCode
	}
	if mut.ResultDescription != "" {
		txn.ResultDescription = mut.ResultDescription
	}
	if mut.ReceiptID != "" {
		txn.ReceiptID = mut.ReceiptID
	}
	if mut.AuthorizationCode != "" {
		txn.AuthorizationCode = mut.AuthorizationCode
	}
	if mut.DeclineCode != "" {
		txn.DeclineCode = mut.DeclineCode
	}
	if mut.DeclineReason != "" {
		txn.DeclineReason = mut.DeclineReason
	}
	if len(mut.Metadata) > 0 {
		if txn.Metadata == nil {
			txn.Metadata = make(map[string]string, len(mut.Metadata))
		}
		for k, v := range mut.Metadata {
			txn.Metadata[k] = v
		}
	}
	txn.UpdatedAt = now
}
