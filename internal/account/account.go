// Package account manages cardholder and virtual-card records: lookup,
// lifecycle status, spending limits, and the running spent counters that the
// reconciliation path increments on approved transactions.
//
// Counters are only ever incremented through ApplyApprovedSpend, which takes
// the transaction entry ID as an idempotency token — redelivery of the same
// approval never double-applies. Daily and monthly windows reset lazily: the
// first limit check that observes a reset-at stamp from a previous calendar
// window zeroes the counter and advances the stamp.
package account

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	ErrCardholderNotFound = errors.New("cardholder not found")
	ErrCardNotFound       = errors.New("card not found")
	ErrCardholderExists   = errors.New("cardholder already exists")
	ErrCardExists         = errors.New("card already exists")
)

// CardStatus represents the lifecycle state of a virtual card.
type CardStatus string

const (
	CardActive    CardStatus = "active"
	CardSuspended CardStatus = "suspended"
	CardExpired   CardStatus = "expired"
	CardCancelled CardStatus = "cancelled"
)

// Cardholder owns one or more virtual cards. Phone is the MSISDN the payment
// prompt is pushed to.
type Cardholder struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Phone          string     `json:"phone"`
	Active         bool       `json:"active"`
	SingleTxnLimit float64    `json:"singleTxnLimit"`
	DailyLimit     float64    `json:"dailyLimit"`
	DailySpent     float64    `json:"dailySpent"`
	DailyResetAt   time.Time  `json:"dailyResetAt"`
	LastUsedAt     *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Card is a virtual card. The PAN is never stored; only its SHA-256 hash is
// kept for matching presented instruments.
type Card struct {
	ID             string     `json:"id"`
	CardholderID   string     `json:"cardholderId"`
	PANHash        string     `json:"-"`
	CVVHash        string     `json:"-"`
	Last4          string     `json:"last4"`
	ExpMonth       int        `json:"expMonth"`
	ExpYear        int        `json:"expYear"`
	Status         CardStatus `json:"status"`
	DailyLimit     float64    `json:"dailyLimit"`
	MonthlyLimit   float64    `json:"monthlyLimit"`
	DailySpent     float64    `json:"dailySpent"`
	MonthlySpent   float64    `json:"monthlySpent"`
	DailyResetAt   time.Time  `json:"dailyResetAt"`
	MonthlyResetAt time.Time  `json:"monthlyResetAt"`
	LastUsedAt     *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Store persists cardholder and card data.
type Store interface {
	CreateCardholder(ctx context.Context, holder *Cardholder) error
	GetCardholder(ctx context.Context, id string) (*Cardholder, error)
	CreateCard(ctx context.Context, card *Card) error
	GetCard(ctx context.Context, id string) (*Card, error)
	GetCardByPANHash(ctx context.Context, panHash string) (*Card, error)

	// FreshenWindows zeroes any spent counter whose reset-at stamp belongs to
	// a previous calendar window and advances the stamp. Invoked before every
	// limit check so resets happen lazily and deterministically.
	FreshenWindows(ctx context.Context, holderID, cardID string, now time.Time) error

	// ApplyApprovedSpend increments the cardholder's daily counter and the
	// card's daily/monthly counters by amount and stamps last-used, exactly
	// once per entryID. Returns false when the entry was already applied.
	ApplyApprovedSpend(ctx context.Context, holderID, cardID string, amount float64, entryID string, now time.Time) (bool, error)
}

// HashPAN returns the hex SHA-256 of a card number.
func HashPAN(pan string) string {
	sum := sha256.Sum256([]byte(pan))
	return hex.EncodeToString(sum[:])
}

// HashCVV returns the hex SHA-256 of a CVV salted with the PAN, so equal CVVs
// on different cards hash differently.
func HashCVV(cvv, pan string) string {
	sum := sha256.Sum256([]byte(cvv + ":" + pan))
	return hex.EncodeToString(sum[:])
}

// ShouldResetDaily reports whether a daily counter stamped at lastResetAt is
// stale at now. Calendar day comparison, not elapsed hours: a stamp from
// 23:59 is stale one minute later.
func ShouldResetDaily(lastResetAt, now time.Time) bool {
	ly, lm, ld := lastResetAt.Date()
	ny, nm, nd := now.Date()
	return ly != ny || lm != nm || ld != nd
}

// ShouldResetMonthly reports whether a monthly counter stamped at lastResetAt
// is stale at now (calendar month/year comparison).
func ShouldResetMonthly(lastResetAt, now time.Time) bool {
	ly, lm, _ := lastResetAt.Date()
	ny, nm, _ := now.Date()
	return ly != ny || lm != nm
}
