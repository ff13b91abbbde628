package authorization

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newOpenTransaction(id string, createdAt time.Time) *Transaction {
	return &Transaction{
		ID:                 id,
		Reference:          "PB-" + id,
		CardholderID:       "ch_1",
		CardID:             "card_1",
		Amount:             100,
		Currency:           "KES",
		SettlementAmount:   100,
		SettlementCurrency: "KES",
		MerchantName:       "Test Merchant",
		Status:             StatusPendingAuthorization,
		CreatedAt:          createdAt,
		ExpiresAt:          createdAt.Add(30 * time.Second),
		UpdatedAt:          createdAt,
	}
}

func TestTransitionGuardsTerminalState(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	txn := newOpenTransaction("txn_1", time.Now())
	if err := store.Create(ctx, txn); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := store.Transition(ctx, txn.ID, StatusDeclined, Mutation{DeclineCode: "05"}); err != nil {
		t.Fatalf("Transition to declined: %v", err)
	}

	for _, to := range []Status{StatusApproved, StatusExpired, StatusFailed, StatusDeclined} {
		if _, err := store.Transition(ctx, txn.ID, to, Mutation{}); !errors.Is(err, ErrAlreadyFinalized) {
			t.Errorf("Transition(%s) after terminal: err = %v, want ErrAlreadyFinalized", to, err)
		}
	}

	got, _ := store.GetByReference(ctx, txn.Reference)
	if got.Status != StatusDeclined || got.DeclineCode != "05" {
		t.Errorf("terminal entry mutated: %+v", got)
	}
}

func TestTransitionConcurrentSingleWinner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	txn := newOpenTransaction("txn_race", time.Now())
	if err := store.Create(ctx, txn); err != nil {
		t.Fatalf("Create: %v", err)
	}

	targets := []Status{StatusApproved, StatusDeclined, StatusExpired, StatusFailed}
	wins := make([]int, len(targets))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for round := 0; round < 10; round++ {
		for i, to := range targets {
			wg.Add(1)
			go func(i int, to Status) {
				defer wg.Done()
				_, err := store.Transition(ctx, txn.ID, to, Mutation{})
				if err == nil {
					mu.Lock()
					wins[i]++
					mu.Unlock()
				} else if !errors.Is(err, ErrAlreadyFinalized) {
					t.Errorf("Transition(%s): %v", to, err)
				}
			}(i, to)
		}
	}
	wg.Wait()

	total := 0
	for _, w := range wins {
		total += w
	}
	if total != 1 {
		t.Fatalf("%d transitions won, want exactly 1 (wins=%v)", total, wins)
	}
	got, _ := store.GetByReference(ctx, txn.Reference)
	if !got.Status.IsTerminal() {
		t.Errorf("final status %s is not terminal", got.Status)
	}
}

func TestTransitionMergesMetadata(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	txn := newOpenTransaction("txn_meta", time.Now())
	txn.Metadata = map[string]string{"fraudIndicators": "rapid_transaction"}
	if err := store.Create(ctx, txn); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Transition(ctx, txn.ID, StatusPushSent, Mutation{
		CheckoutRequestID: "ws_CO_1",
		Metadata:          map[string]string{"providerNote": "queued"},
	})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if got.Metadata["fraudIndicators"] != "rapid_transaction" {
		t.Error("existing metadata lost on transition")
	}
	if got.Metadata["providerNote"] != "queued" {
		t.Error("mutation metadata not merged")
	}

	// Checkout index catches up after the transition.
	byCheckout, err := store.GetByCheckoutRequestID(ctx, "ws_CO_1")
	if err != nil || byCheckout.ID != txn.ID {
		t.Errorf("lookup by checkout request after transition: %v", err)
	}
}

func TestListExpiredFiltersTerminalAndFuture(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	overdue := newOpenTransaction("txn_overdue", now.Add(-2*time.Minute))
	overdue.ExpiresAt = now.Add(-time.Minute)
	fresh := newOpenTransaction("txn_fresh", now)
	fresh.ExpiresAt = now.Add(time.Minute)
	finished := newOpenTransaction("txn_done", now.Add(-2*time.Minute))
	finished.ExpiresAt = now.Add(-time.Minute)

	for _, txn := range []*Transaction{overdue, fresh, finished} {
		if err := store.Create(ctx, txn); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := store.Transition(ctx, finished.ID, StatusApproved, Mutation{}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	expired, err := store.ListExpired(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListExpired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != overdue.ID {
		t.Errorf("ListExpired = %v, want only the overdue open entry", refs(expired))
	}
}

func TestListRecentByCardOrdersAndLimits(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		txn := newOpenTransaction(fmt.Sprintf("txn_%d", i), base.Add(time.Duration(i)*time.Second))
		if err := store.Create(ctx, txn); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	recent, err := store.ListRecentByCard(ctx, "card_1", 3)
	if err != nil {
		t.Fatalf("ListRecentByCard: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("got %d entries, want 3", len(recent))
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].CreatedAt.After(recent[i-1].CreatedAt) {
			t.Error("entries not in most-recent-first order")
		}
	}
	if recent[0].ID != "txn_4" {
		t.Errorf("newest entry = %s, want txn_4", recent[0].ID)
	}
}

func TestCreateDuplicateReference(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	a := newOpenTransaction("txn_a", time.Now())
	b := newOpenTransaction("txn_b", time.Now())
	b.Reference = a.Reference

	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, b); !errors.Is(err, ErrDuplicateReference) {
		t.Errorf("err = %v, want ErrDuplicateReference", err)
	}
}

func refs(txns []*Transaction) []string {
	out := make([]string, len(txns))
	for i, t := range txns {
		out[i] = t.Reference
	}
	return out
}
