// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"sync"

	"github.com/google/uuid"

	"github.com/R3E-Network/lotto_layer/internal/domain/randomness"
	"github.com/R3E-Network/lotto_layer/internal/domain/round"
	"github.com/R3E-Network/lotto_layer/internal/domain/settlement"
	"github.com/R3E-Network/lotto_layer/internal/storage"
)

// Store is the in-memory store.
type Store struct {
	mu         sync.RWMutex
	nextRound  int64
	rounds     map[int64]round.Round
	requests   map[string]randomness.Request
	entries    map[int64][]settlement.Entry
	allEntries []settlement.Entry
}

var _ storage.RoundStore = (*Store)(nil)
var _ storage.RandomnessStore = (*Store)(nil)
var _ storage.SettlementStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextRound: 1,
		rounds:    make(map[int64]round.Round),
		requests:  make(map[string]randomness.Request),
		entries:   make(map[int64][]settlement.Entry),
	}
}

// RoundStore implementation ---------------------------------------------------

func (s *Store) CreateRound(_ context.Context, r round.Round) (round.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = s.nextRound
	s.nextRound++

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Contributions == nil {
		r.Contributions = make(map[string]int64)
	}

	s.rounds[r.ID] = r.Clone()
	return r.Clone(), nil
}

func (s *Store) GetRound(_ context.Context, id int64) (round.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rounds[id]
	if !ok {
		return round.Round{}, fmt.Errorf("round %d: %w", id, storage.ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *Store) UpdateRound(_ context.Context, r round.Round, entries ...settlement.Entry) (round.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.rounds[r.ID]
	if !ok {
		return round.Round{}, fmt.Errorf("round %d: %w", r.ID, storage.ErrNotFound)
	}

	r.CreatedAt = original.CreatedAt
	r.UpdatedAt = time.Now().UTC()

	s.rounds[r.ID] = r.Clone()
	s.appendEntriesLocked(entries)
	return r.Clone(), nil
}

func (s *Store) DeleteRound(_ context.Context, id int64, entries ...settlement.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rounds[id]; !ok {
		return fmt.Errorf("round %d: %w", id, storage.ErrNotFound)
	}
	delete(s.rounds, id)
	s.appendEntriesLocked(entries)
	return nil
}

func (s *Store) ListRounds(_ context.Context, limit int) ([]round.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]round.Round, 0, len(s.rounds))
	for _, r := range s.rounds {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListDueRounds(_ context.Context, now time.Time) ([]round.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []round.Round
	for _, r := range s.rounds {
		if !r.Closed && now.After(r.Deadline) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RandomnessStore implementation ----------------------------------------------

func (s *Store) CreateRequest(_ context.Context, req randomness.Request) (randomness.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.NewString()
	} else if _, exists := s.requests[req.ID]; exists {
		return randomness.Request{}, fmt.Errorf("request %s already exists", req.ID)
	}
	req.CreatedAt = time.Now().UTC()

	s.requests[req.ID] = req
	return req, nil
}

func (s *Store) GetRequest(_ context.Context, id string) (randomness.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return randomness.Request{}, fmt.Errorf("request %s: %w", id, storage.ErrNotFound)
	}
	return req, nil
}

func (s *Store) UpdateRequest(_ context.Context, req randomness.Request) (randomness.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.requests[req.ID]
	if !ok {
		return randomness.Request{}, fmt.Errorf("request %s: %w", req.ID, storage.ErrNotFound)
	}
	req.CreatedAt = original.CreatedAt

	s.requests[req.ID] = req
	return req, nil
}

func (s *Store) ListPendingRequests(_ context.Context) ([]randomness.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []randomness.Request
	for _, req := range s.requests {
		if req.Status == randomness.StatusPending {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SettlementStore implementation ----------------------------------------------

func (s *Store) ListEntries(_ context.Context, roundID int64) ([]settlement.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.entries[roundID]
	out := make([]settlement.Entry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *Store) SumEntries(_ context.Context, entryType settlement.EntryType) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, e := range s.allEntries {
		if e.Type == entryType {
			total += e.Amount
		}
	}
	return total, nil
}

func (s *Store) appendEntriesLocked(entries []settlement.Entry) {
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		s.entries[e.RoundID] = append(s.entries[e.RoundID], e)
		s.allEntries = append(s.allEntries, e)
	}
}
