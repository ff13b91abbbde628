package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// flakyPort is a scriptable Port for exercising the resilience wrapper.
type flakyPort struct {
	mu            sync.Mutex
	pushErr       error
	pushRefused   bool
	pushCalls     int
	queryErr      error
	queryFailures int // transient failures before queries start succeeding
	queryCalls    int
}

func (f *flakyPort) InitiatePush(_ context.Context, _ string, _ float64, _, _ string) (*PushResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushCalls++
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	if f.pushRefused {
		return &PushResult{Accepted: false, Error: "invalid phone"}, nil
	}
	return &PushResult{Accepted: true, CheckoutRequestID: "ws_CO_flaky"}, nil
}

func (f *flakyPort) QueryStatus(_ context.Context, _ string) (*StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.queryCalls <= f.queryFailures {
		return nil, errors.New("connection reset")
	}
	return &StatusResult{ResultCode: ResultSuccess, ResultDescription: "processed"}, nil
}

func TestResilientPushIsNeverRetried(t *testing.T) {
	inner := &flakyPort{pushErr: errors.New("timeout")}
	r := NewResilient(inner)

	if _, err := r.InitiatePush(context.Background(), "254712345678", 100, "PB-1", "test"); err == nil {
		t.Fatal("expected push error")
	}
	if inner.pushCalls != 1 {
		t.Errorf("pushCalls = %d, want exactly 1 (pushes must not be retried)", inner.pushCalls)
	}
}

func TestResilientPushBreakerTrips(t *testing.T) {
	inner := &flakyPort{pushErr: errors.New("timeout")}
	r := NewResilient(inner)

	for i := 0; i < 5; i++ {
		if _, err := r.InitiatePush(context.Background(), "254712345678", 100, "PB-1", "test"); err == nil {
			t.Fatal("expected push error")
		}
	}

	_, err := r.InitiatePush(context.Background(), "254712345678", 100, "PB-1", "test")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("error after trip = %v, want ErrProviderUnavailable", err)
	}
	if inner.pushCalls != 5 {
		t.Errorf("pushCalls = %d, want 5 (open circuit must not reach the provider)", inner.pushCalls)
	}
}

func TestResilientRefusedPushIsNotAFailure(t *testing.T) {
	inner := &flakyPort{pushRefused: true}
	r := NewResilient(inner)

	for i := 0; i < 8; i++ {
		res, err := r.InitiatePush(context.Background(), "254712345600", 100, "PB-1", "test")
		if err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
		if res.Accepted {
			t.Fatal("expected refused push")
		}
	}
	if inner.pushCalls != 8 {
		t.Errorf("pushCalls = %d, want 8 (refusals are answers, not outages)", inner.pushCalls)
	}
}

func TestResilientQueryRetriesTransientErrors(t *testing.T) {
	inner := &flakyPort{queryFailures: 1}
	r := NewResilient(inner)

	res, err := r.QueryStatus(context.Background(), "ws_CO_flaky")
	if err != nil {
		t.Fatalf("QueryStatus: %v", err)
	}
	if res.ResultCode != ResultSuccess {
		t.Errorf("result = %s, want success", res.ResultCode)
	}
	if inner.queryCalls != 2 {
		t.Errorf("queryCalls = %d, want 2 (one transient failure, one success)", inner.queryCalls)
	}
}

func TestResilientQueryUnknownCheckoutIsPermanent(t *testing.T) {
	inner := &flakyPort{queryErr: ErrUnknownCheckoutRequest}
	r := NewResilient(inner)

	_, err := r.QueryStatus(context.Background(), "ws_CO_missing")
	if !errors.Is(err, ErrUnknownCheckoutRequest) {
		t.Fatalf("error = %v, want ErrUnknownCheckoutRequest", err)
	}
	if inner.queryCalls != 1 {
		t.Errorf("queryCalls = %d, want 1 (unknown checkout must not be retried)", inner.queryCalls)
	}
}
