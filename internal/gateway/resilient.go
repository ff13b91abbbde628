package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/okwareddevnest/Pesa-Bridge/internal/circuitbreaker"
	"github.com/okwareddevnest/Pesa-Bridge/internal/retry"
)

// ErrProviderUnavailable is returned when the circuit to the payment provider
// is open and calls are being shed instead of attempted.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// Breaker keys. Push initiation and status queries trip independently: the
// provider's query API staying up while pushes fail is a real failure mode.
const (
	BreakerKeyPush  = "push"
	BreakerKeyQuery = "query"
)

const (
	queryAttempts  = 3
	queryBaseDelay = 200 * time.Millisecond
)

// Resilient wraps a Port with a circuit breaker, and with retries on the
// calls that are safe to repeat.
//
// Push initiation is never retried. A transport error does not prove the
// prompt failed to reach the handset, and re-sending would show the holder
// two prompts for one charge. Status queries are read-only, so those retry.
type Resilient struct {
	inner   Port
	breaker *circuitbreaker.Breaker
}

// NewResilient wraps inner with the default breaker settings: trip after 5
// consecutive failures, probe again after 30 seconds.
func NewResilient(inner Port) *Resilient {
	return &Resilient{
		inner:   inner,
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

var _ Port = (*Resilient)(nil)

// InitiatePush forwards a single push attempt when the circuit allows it.
// A refused push (Accepted=false, no error) is an answer from the provider,
// not an outage, and counts as breaker success.
func (r *Resilient) InitiatePush(ctx context.Context, phone string, amount float64, reference, description string) (*PushResult, error) {
	if !r.breaker.Allow(BreakerKeyPush) {
		return nil, ErrProviderUnavailable
	}

	res, err := r.inner.InitiatePush(ctx, phone, amount, reference, description)
	if err != nil {
		r.breaker.RecordFailure(BreakerKeyPush)
		return nil, err
	}
	r.breaker.RecordSuccess(BreakerKeyPush)
	return res, nil
}

// QueryStatus forwards a status query, retrying transient transport errors.
func (r *Resilient) QueryStatus(ctx context.Context, checkoutRequestID string) (*StatusResult, error) {
	if !r.breaker.Allow(BreakerKeyQuery) {
		return nil, ErrProviderUnavailable
	}

	var res *StatusResult
	err := retry.Do(ctx, queryAttempts, queryBaseDelay, func() error {
		var qerr error
		res, qerr = r.inner.QueryStatus(ctx, checkoutRequestID)
		if qerr != nil {
			if errors.Is(qerr, ErrUnknownCheckoutRequest) {
				return retry.Permanent(qerr)
			}
			return qerr
		}
		return nil
	})
	if err != nil {
		r.breaker.RecordFailure(BreakerKeyQuery)
		return nil, err
	}
	r.breaker.RecordSuccess(BreakerKeyQuery)
	return res, nil
}

// BreakerState reports the circuit state for health checks.
func (r *Resilient) BreakerState(key string) circuitbreaker.State {
	return r.breaker.State(key)
}
