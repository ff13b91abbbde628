package account

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	holders    map[string]*Cardholder
	cards      map[string]*Card
	byPANHash  map[string]string // pan hash -> card ID
	appliedIDs map[string]bool   // entry IDs already applied to counters
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		holders:    make(map[string]*Cardholder),
		cards:      make(map[string]*Card),
		byPANHash:  make(map[string]string),
		appliedIDs: make(map[string]bool),
	}
}

func (s *MemoryStore) CreateCardholder(ctx context.Context, holder *Cardholder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.holders[holder.ID]; exists {
		return ErrCardholderExists
	}
	s.holders[holder.ID] = copyCardholder(holder)
	return nil
}

func (s *MemoryStore) GetCardholder(ctx context.Context, id string) (*Cardholder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	holder, ok := s.holders[id]
	if !ok {
		return nil, ErrCardholderNotFound
	}
	return copyCardholder(holder), nil
}

func (s *MemoryStore) CreateCard(ctx context.Context, card *Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cards[card.ID]; exists {
		return ErrCardExists
	}
	if _, exists := s.byPANHash[card.PANHash]; exists {
		return ErrCardExists
	}
	if _, ok := s.holders[card.CardholderID]; !ok {
		return ErrCardholderNotFound
	}
	s.cards[card.ID] = copyCard(card)
	s.byPANHash[card.PANHash] = card.ID
	return nil
}

func (s *MemoryStore) GetCard(ctx context.Context, id string) (*Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	card, ok := s.cards[id]
	if !ok {
		return nil, ErrCardNotFound
	}
	return copyCard(card), nil
}

func (s *MemoryStore) GetCardByPANHash(ctx context.Context, panHash string) (*Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPANHash[panHash]
	if !ok {
		return nil, ErrCardNotFound
	}
	return copyCard(s.cards[id]), nil
}

func (s *MemoryStore) FreshenWindows(ctx context.Context, holderID, cardID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	holder, ok := s.holders[holderID]
	if !ok {
		return ErrCardholderNotFound
	}
	card, ok := s.cards[cardID]
	if !ok {
		return ErrCardNotFound
	}

	if ShouldResetDaily(holder.DailyResetAt, now) {
		holder.DailySpent = 0
		holder.DailyResetAt = now
		holder.UpdatedAt = now
	}
	if ShouldResetDaily(card.DailyResetAt, now) {
		card.DailySpent = 0
		card.DailyResetAt = now
		card.UpdatedAt = now
	}
	if ShouldResetMonthly(card.MonthlyResetAt, now) {
		card.MonthlySpent = 0
		card.MonthlyResetAt = now
		card.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) ApplyApprovedSpend(ctx context.Context, holderID, cardID string, amount float64, entryID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.appliedIDs[entryID] {
		return false, nil
	}
	holder, ok := s.holders[holderID]
	if !ok {
		return false, ErrCardholderNotFound
	}
	card, ok := s.cards[cardID]
	if !ok {
		return false, ErrCardNotFound
	}

	s.appliedIDs[entryID] = true
	holder.DailySpent += amount
	used := now
	holder.LastUsedAt = &used
	holder.UpdatedAt = now
	card.DailySpent += amount
	card.MonthlySpent += amount
	cardUsed := now
	card.LastUsedAt = &cardUsed
	card.UpdatedAt = now
	return true, nil
}

func copyCardholder(h *Cardholder) *Cardholder {
	c := *h
	if h.LastUsedAt != nil {
		t := *h.LastUsedAt
		c.LastUsedAt = &t
	}
	return &c
}

func copyCard(card *Card) *Card {
	c := *card
	if card.LastUsedAt != nil {
		t := *card.LastUsedAt
		c.LastUsedAt = &t
	}
	return &c
}

var _ Store = (*MemoryStore)(nil)
