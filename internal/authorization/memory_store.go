package authorization

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests. Transition
// runs under the store lock, so its check-then-write is atomic.
type MemoryStore struct {
	mu           sync.RWMutex
	byID         map[string]*Transaction
	byReference  map[string]string // reference -> ID
	byCheckoutID map[string]string // checkout request ID -> ID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:         make(map[string]*Transaction),
		byReference:  make(map[string]string),
		byCheckoutID: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, txn *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byReference[txn.Reference]; exists {
		return ErrDuplicateReference
	}
	stored := copyTransaction(txn)
	s.byID[stored.ID] = stored
	s.byReference[stored.Reference] = stored.ID
	if stored.CheckoutRequestID != "" {
		s.byCheckoutID[stored.CheckoutRequestID] = stored.ID
	}
	return nil
}

func (s *MemoryStore) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byReference[reference]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return copyTransaction(s.byID[id]), nil
}

func (s *MemoryStore) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCheckoutID[checkoutRequestID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return copyTransaction(s.byID[id]), nil
}

func (s *MemoryStore) ListRecentByCard(ctx context.Context, cardID string, limit int) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var txns []*Transaction
	for _, txn := range s.byID {
		if txn.CardID == cardID {
			txns = append(txns, copyTransaction(txn))
		}
	}
	sort.Slice(txns, func(i, j int) bool {
		return txns[i].CreatedAt.After(txns[j].CreatedAt)
	})
	if limit > 0 && len(txns) > limit {
		txns = txns[:limit]
	}
	return txns, nil
}

func (s *MemoryStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var txns []*Transaction
	for _, txn := range s.byID {
		if !txn.Status.IsTerminal() && txn.ExpiresAt.Before(before) {
			txns = append(txns, copyTransaction(txn))
		}
	}
	sort.Slice(txns, func(i, j int) bool {
		return txns[i].ExpiresAt.Before(txns[j].ExpiresAt)
	})
	if limit > 0 && len(txns) > limit {
		txns = txns[:limit]
	}
	return txns, nil
}

func (s *MemoryStore) Transition(ctx context.Context, id string, to Status, mut Mutation) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.byID[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	if txn.Status.IsTerminal() {
		return nil, ErrAlreadyFinalized
	}

	applyTransition(txn, to, mut, time.Now())
	if txn.CheckoutRequestID != "" {
		s.byCheckoutID[txn.CheckoutRequestID] = txn.ID
	}
	return copyTransaction(txn), nil
}

func copyTransaction(txn *Transaction) *Transaction {
	c := *txn
	if txn.PushSentAt != nil {
		t := *txn.PushSentAt
		c.PushSentAt = &t
	}
	if txn.RespondedAt != nil {
		t := *txn.RespondedAt
		c.RespondedAt = &t
	}
	if txn.CompletedAt != nil {
		t := *txn.CompletedAt
		c.CompletedAt = &t
	}
	if txn.Metadata != nil {
		c.Metadata = make(map[string]string, len(txn.Metadata))
		for k, v := range txn.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

var _ Store = (*MemoryStore)(nil)
