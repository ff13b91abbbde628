package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownCheckoutRequest is returned by the simulator for status queries
// about pushes it never initiated.
var ErrUnknownCheckoutRequest = errors.New("unknown checkout request")

// Simulator is an in-process Port for development and tests. Every push is
// accepted and parked as pending; outcomes are injected with Resolve, or
// automatically after AutoResolveAfter when configured.
//
// Two phone suffixes trigger initiation failures deterministically, mirroring
// the provider sandbox: numbers ending in 00 are refused at initiation, and
// numbers ending in 99 simulate an unreachable provider.
type Simulator struct {
	// AutoResolveAfter, when non-zero, resolves every push with
	// AutoResultCode that long after initiation.
	AutoResolveAfter time.Duration
	// AutoResultCode is the result used by auto-resolution. Defaults to
	// ResultSuccess.
	AutoResultCode string

	mu      sync.Mutex
	prompts map[string]*simPrompt
}

type simPrompt struct {
	phone      string
	amount     float64
	reference  string
	initiated  time.Time
	resolved   bool
	resultCode string
	resultDesc string
}

// NewSimulator creates a simulator with no auto-resolution; tests drive
// outcomes through Resolve.
func NewSimulator() *Simulator {
	return &Simulator{prompts: make(map[string]*simPrompt)}
}

func (s *Simulator) InitiatePush(ctx context.Context, phone string, amount float64, reference, description string) (*PushResult, error) {
	if strings.HasSuffix(phone, "99") {
		return nil, errors.New("simulator: provider unreachable")
	}
	if strings.HasSuffix(phone, "00") {
		return &PushResult{
			Accepted: false,
			Error:    "invalid initiator information",
		}, nil
	}

	checkoutID := "ws_CO_" + uuid.NewString()
	s.mu.Lock()
	s.prompts[checkoutID] = &simPrompt{
		phone:     phone,
		amount:    amount,
		reference: reference,
		initiated: time.Now(),
	}
	s.mu.Unlock()

	if s.AutoResolveAfter > 0 {
		code := s.AutoResultCode
		if code == "" {
			code = ResultSuccess
		}
		go func() {
			select {
			case <-time.After(s.AutoResolveAfter):
				s.Resolve(checkoutID, code, "auto-resolved")
			case <-ctx.Done():
			}
		}()
	}

	return &PushResult{
		Accepted:          true,
		MerchantRequestID: uuid.NewString(),
		CheckoutRequestID: checkoutID,
		Description:       "Success. Request accepted for processing",
	}, nil
}

func (s *Simulator) QueryStatus(ctx context.Context, checkoutRequestID string) (*StatusResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prompt, ok := s.prompts[checkoutRequestID]
	if !ok {
		return nil, ErrUnknownCheckoutRequest
	}
	if !prompt.resolved {
		return &StatusResult{
			ResultCode:        ResultPending,
			ResultDescription: "The transaction is being processed",
		}, nil
	}
	return &StatusResult{
		ResultCode:        prompt.resultCode,
		ResultDescription: prompt.resultDesc,
	}, nil
}

// Resolve records the holder's decision for a pending push. Returns false if
// the checkout request is unknown or already resolved.
func (s *Simulator) Resolve(checkoutRequestID, resultCode, resultDescription string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prompt, ok := s.prompts[checkoutRequestID]
	if !ok || prompt.resolved {
		return false
	}
	prompt.resolved = true
	prompt.resultCode = resultCode
	prompt.resultDesc = resultDescription
	return true
}

// Pending lists checkout request IDs still awaiting a holder decision.
func (s *Simulator) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, p := range s.prompts {
		if !p.resolved {
			ids = append(ids, id)
		}
	}
	return ids
}

var _ Port = (*Simulator)(nil)
