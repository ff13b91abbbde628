// Package limits evaluates spending limits and advisory fraud indicators.
//
// Evaluate is a pure function over a snapshot of cardholder, card, and recent
// history: no clock reads, no store access. Callers freshen counter windows
// and convert the amount to settlement currency before calling. Fraud
// indicators are advisory only and never block an authorization.
package limits

import (
	"fmt"
	"time"

	"github.com/okwareddevnest/Pesa-Bridge/internal/account"
	"github.com/okwareddevnest/Pesa-Bridge/internal/gateway"
)

// Fraud indicator kinds.
const (
	IndicatorRapidTransaction = "rapid_transaction"
	IndicatorUnusualAmount    = "unusual_amount"
	IndicatorRepeatedFailures = "repeated_failures"
)

const (
	// rapidInterval flags a new charge arriving this soon after the
	// previous one on the same card.
	rapidInterval = 30 * time.Second
	// unusualMultiplier flags an amount this many times the recent mean.
	unusualMultiplier = 5.0
	// failureThreshold flags this many declined/failed entries in the
	// history window.
	failureThreshold = 3
	// HistoryWindow is how many recent entries Evaluate expects, most
	// recent first.
	HistoryWindow = 10
)

// HistoryEntry is one recent transaction on the card under evaluation.
// Status carries the transaction's current status string.
type HistoryEntry struct {
	Amount    float64
	Status    string
	CreatedAt time.Time
}

// Decision is the outcome of a limit evaluation. Indicators are populated
// whether or not the charge is allowed.
type Decision struct {
	Allowed     bool
	DeclineCode string
	Reason      string
	Indicators  []string
}

// Evaluate checks a settled amount against holder and card state. Counters in
// holder and card must already be freshened for now's calendar windows.
func Evaluate(holder *account.Cardholder, card *account.Card, amount float64, history []HistoryEntry, now time.Time) Decision {
	indicators := fraudIndicators(amount, history, now)

	decline := func(code, reason string) Decision {
		return Decision{DeclineCode: code, Reason: reason, Indicators: indicators}
	}

	if !holder.Active {
		return decline(gateway.DeclineInactiveAccount, "cardholder account is not active")
	}
	if card.Status != account.CardActive {
		return decline(gateway.DeclineInvalidCard, fmt.Sprintf("card is %s", card.Status))
	}
	if cardExpired(card, now) {
		return decline(gateway.DeclineInvalidCard, "card is past its expiry date")
	}
	if amount > holder.SingleTxnLimit {
		return decline(gateway.DeclineLimitExceeded,
			fmt.Sprintf("amount %.2f exceeds single transaction limit %.2f", amount, holder.SingleTxnLimit))
	}
	if holder.DailySpent+amount > holder.DailyLimit {
		return decline(gateway.DeclineLimitExceeded,
			fmt.Sprintf("amount %.2f exceeds cardholder daily limit (%.2f of %.2f used)",
				amount, holder.DailySpent, holder.DailyLimit))
	}
	if card.DailySpent+amount > card.DailyLimit {
		return decline(gateway.DeclineLimitExceeded,
			fmt.Sprintf("amount %.2f exceeds card daily limit (%.2f of %.2f used)",
				amount, card.DailySpent, card.DailyLimit))
	}
	if card.MonthlySpent+amount > card.MonthlyLimit {
		return decline(gateway.DeclineLimitExceeded,
			fmt.Sprintf("amount %.2f exceeds card monthly limit (%.2f of %.2f used)",
				amount, card.MonthlySpent, card.MonthlyLimit))
	}

	return Decision{Allowed: true, Indicators: indicators}
}

// cardExpired compares the card's expiry month/year against the calendar. A
// card expires at the end of its expiry month.
func cardExpired(card *account.Card, now time.Time) bool {
	y, m, _ := now.Date()
	if card.ExpYear != y {
		return card.ExpYear < y
	}
	return card.ExpMonth < int(m)
}

// fraudIndicators inspects the recent history window (most recent first).
func fraudIndicators(amount float64, history []HistoryEntry, now time.Time) []string {
	if len(history) > HistoryWindow {
		history = history[:HistoryWindow]
	}

	var indicators []string
	if len(history) > 0 && now.Sub(history[0].CreatedAt) < rapidInterval {
		indicators = append(indicators, IndicatorRapidTransaction)
	}
	if len(history) > 0 {
		var sum float64
		for _, e := range history {
			sum += e.Amount
		}
		mean := sum / float64(len(history))
		if mean > 0 && amount > unusualMultiplier*mean {
			indicators = append(indicators, IndicatorUnusualAmount)
		}
	}
	failures := 0
	for _, e := range history {
		if e.Status == "declined" || e.Status == "failed" {
			failures++
		}
	}
	if failures >= failureThreshold {
		indicators = append(indicators, IndicatorRepeatedFailures)
	}
	return indicators
}
