package limits

import (
	"testing"
	"time"

	"github.com/okwareddevnest/Pesa-Bridge/internal/account"
	"github.com/okwareddevnest/Pesa-Bridge/internal/gateway"
)

var evalNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func activeHolder() *account.Cardholder {
	return &account.Cardholder{
		ID:             "ch_1",
		Active:         true,
		SingleTxnLimit: 10000,
		DailyLimit:     50000,
	}
}

func activeCard() *account.Card {
	return &account.Card{
		ID:           "card_1",
		CardholderID: "ch_1",
		Status:       account.CardActive,
		ExpMonth:     12,
		ExpYear:      2028,
		DailyLimit:   30000,
		MonthlyLimit: 200000,
	}
}

func TestEvaluateAllows(t *testing.T) {
	d := Evaluate(activeHolder(), activeCard(), 5000, nil, evalNow)
	if !d.Allowed {
		t.Fatalf("should allow: %s %s", d.DeclineCode, d.Reason)
	}
	if d.DeclineCode != "" || d.Reason != "" {
		t.Error("allowed decision should carry no decline")
	}
}

func TestEvaluateDeclines(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(h *account.Cardholder, c *account.Card) float64
		decline string
	}{
		{
			name: "inactive holder",
			mutate: func(h *account.Cardholder, c *account.Card) float64 {
				h.Active = false
				return 100
			},
			decline: gateway.DeclineInactiveAccount,
		},
		{
			name: "suspended card",
			mutate: func(h *account.Cardholder, c *account.Card) float64 {
				c.Status = account.CardSuspended
				return 100
			},
			decline: gateway.DeclineInvalidCard,
		},
		{
			name: "cancelled card",
			mutate: func(h *account.Cardholder, c *account.Card) float64 {
				c.Status = account.CardCancelled
				return 100
			},
			decline: gateway.DeclineInvalidCard,
		},
		{
			name: "expired card",
			mutate: func(h *account.Cardholder, c *account.Card) float64 {
				c.ExpMonth = 2
				c.ExpYear = 2026
				return 100
			},
			decline: gateway.DeclineInvalidCard,
		},
		{
			name: "single transaction limit",
			mutate: func(h *account.Cardholder, c *account.Card) float64 {
				return h.SingleTxnLimit + 1
			},
			decline: gateway.DeclineLimitExceeded,
		},
		{
			name: "holder daily limit",
			mutate: func(h *account.Cardholder, c *account.Card) float64 {
				h.DailySpent = h.DailyLimit - 50
				return 100
			},
			decline: gateway.DeclineLimitExceeded,
		},
		{
			name: "card daily limit",
			mutate: func(h *account.Cardholder, c *account.Card) float64 {
				c.DailySpent = c.DailyLimit - 50
				return 100
			},
			decline: gateway.DeclineLimitExceeded,
		},
		{
			name: "card monthly limit",
			mutate: func(h *account.Cardholder, c *account.Card) float64 {
				c.MonthlySpent = c.MonthlyLimit - 50
				return 100
			},
			decline: gateway.DeclineLimitExceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			holder, card := activeHolder(), activeCard()
			amount := tt.mutate(holder, card)
			d := Evaluate(holder, card, amount, nil, evalNow)
			if d.Allowed {
				t.Fatal("should decline")
			}
			if d.DeclineCode != tt.decline {
				t.Errorf("decline code = %s, want %s (%s)", d.DeclineCode, tt.decline, d.Reason)
			}
			if d.Reason == "" {
				t.Error("decline should carry a reason")
			}
		})
	}
}

func TestEvaluateLimitBoundaryIsInclusive(t *testing.T) {
	holder, card := activeHolder(), activeCard()
	holder.DailySpent = holder.DailyLimit - 100

	// Exactly reaching the limit is allowed; only exceeding declines.
	if d := Evaluate(holder, card, 100, nil, evalNow); !d.Allowed {
		t.Errorf("spending exactly to the limit should be allowed: %s", d.Reason)
	}
	if d := Evaluate(holder, card, 101, nil, evalNow); d.Allowed {
		t.Error("exceeding the limit by any amount should decline")
	}
}

func TestEvaluateExpiryMonthIsInclusive(t *testing.T) {
	holder, card := activeHolder(), activeCard()
	card.ExpMonth = int(evalNow.Month())
	card.ExpYear = evalNow.Year()

	// A card is valid through the end of its expiry month.
	if d := Evaluate(holder, card, 100, nil, evalNow); !d.Allowed {
		t.Errorf("card in its expiry month should still be valid: %s", d.Reason)
	}
}

func TestFraudIndicators(t *testing.T) {
	holder, card := activeHolder(), activeCard()

	t.Run("rapid transaction", func(t *testing.T) {
		history := []HistoryEntry{
			{Amount: 100, Status: "approved", CreatedAt: evalNow.Add(-10 * time.Second)},
		}
		d := Evaluate(holder, card, 100, history, evalNow)
		if !d.Allowed {
			t.Fatalf("indicators must not block: %s", d.Reason)
		}
		if !hasIndicator(d, IndicatorRapidTransaction) {
			t.Errorf("indicators = %v, want rapid_transaction", d.Indicators)
		}
	})

	t.Run("no rapid indicator after interval", func(t *testing.T) {
		history := []HistoryEntry{
			{Amount: 100, Status: "approved", CreatedAt: evalNow.Add(-2 * time.Minute)},
		}
		d := Evaluate(holder, card, 100, history, evalNow)
		if hasIndicator(d, IndicatorRapidTransaction) {
			t.Error("older entry should not flag rapid_transaction")
		}
	})

	t.Run("unusual amount", func(t *testing.T) {
		history := []HistoryEntry{
			{Amount: 100, Status: "approved", CreatedAt: evalNow.Add(-time.Hour)},
			{Amount: 120, Status: "approved", CreatedAt: evalNow.Add(-2 * time.Hour)},
			{Amount: 80, Status: "approved", CreatedAt: evalNow.Add(-3 * time.Hour)},
		}
		d := Evaluate(holder, card, 5000, history, evalNow)
		if !hasIndicator(d, IndicatorUnusualAmount) {
			t.Errorf("indicators = %v, want unusual_amount", d.Indicators)
		}
		d = Evaluate(holder, card, 150, history, evalNow)
		if hasIndicator(d, IndicatorUnusualAmount) {
			t.Error("ordinary amount should not flag unusual_amount")
		}
	})

	t.Run("repeated failures", func(t *testing.T) {
		history := []HistoryEntry{
			{Amount: 100, Status: "declined", CreatedAt: evalNow.Add(-time.Hour)},
			{Amount: 100, Status: "failed", CreatedAt: evalNow.Add(-2 * time.Hour)},
			{Amount: 100, Status: "approved", CreatedAt: evalNow.Add(-3 * time.Hour)},
			{Amount: 100, Status: "declined", CreatedAt: evalNow.Add(-4 * time.Hour)},
		}
		d := Evaluate(holder, card, 100, history, evalNow)
		if !hasIndicator(d, IndicatorRepeatedFailures) {
			t.Errorf("indicators = %v, want repeated_failures", d.Indicators)
		}
	})

	t.Run("empty history yields none", func(t *testing.T) {
		d := Evaluate(holder, card, 100, nil, evalNow)
		if len(d.Indicators) != 0 {
			t.Errorf("indicators = %v, want none", d.Indicators)
		}
	})

	t.Run("declined decision still carries indicators", func(t *testing.T) {
		inactive := activeHolder()
		inactive.Active = false
		history := []HistoryEntry{
			{Amount: 100, Status: "approved", CreatedAt: evalNow.Add(-5 * time.Second)},
		}
		d := Evaluate(inactive, card, 100, history, evalNow)
		if d.Allowed {
			t.Fatal("should decline")
		}
		if !hasIndicator(d, IndicatorRapidTransaction) {
			t.Error("indicators should be reported on declines too")
		}
	})
}

func hasIndicator(d Decision, want string) bool {
	for _, ind := range d.Indicators {
		if ind == want {
			return true
		}
	}
	return false
}
