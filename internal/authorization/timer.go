package authorization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/okwareddevnest/Pesa-Bridge/internal/gateway"
	"github.com/okwareddevnest/Pesa-Bridge/internal/metrics"
)

// sweepBatchSize caps how many overdue entries one tick processes.
const sweepBatchSize = 100

// Timer is the expiry sweeper: it periodically finalizes transactions whose
// push prompt went unanswered past the deadline. Each entry is transitioned
// independently, so one bad row never stalls the sweep, and races with late
// callbacks are absorbed by the transition guard.
type Timer struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates an expiry sweeper ticking at the given interval.
func NewTimer(store Store, interval time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in expiry sweeper", "panic", fmt.Sprint(r))
		}
	}()
	t.Sweep(ctx)
}

// Sweep expires every overdue open entry it can find, up to the batch size.
// Exported so tests and operational tooling can trigger a pass directly.
func (t *Timer) Sweep(ctx context.Context) {
	now := time.Now()
	overdue, err := t.store.ListExpired(ctx, now, sweepBatchSize)
	if err != nil {
		t.logger.Warn("failed to list overdue transactions", "error", err)
		return
	}

	for _, txn := range overdue {
		_, err := t.store.Transition(ctx, txn.ID, StatusExpired, Mutation{
			DeclineCode:   gateway.DeclineDoNotHonor,
			DeclineReason: "authorization timed out waiting for holder",
		})
		if errors.Is(err, ErrAlreadyFinalized) {
			// A callback or status query finalized it between list and
			// transition. Nothing to do.
			continue
		}
		if err != nil {
			t.logger.Warn("failed to expire transaction",
				"reference", txn.Reference, "error", err)
			continue
		}
		metrics.ExpiredTotal.Inc()
		t.logger.Info("expired unanswered transaction",
			"reference", txn.Reference,
			"card_id", txn.CardID,
			"expired_at", txn.ExpiresAt)
	}
}
