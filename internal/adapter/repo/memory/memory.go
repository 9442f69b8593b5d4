// Package memory provides an in-memory TransactionStore used by tests and
// local development without Postgres.
package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/finsentry/fraud-risk-service/internal/domain"
)

// Store is a mutex-guarded map implementation of domain.TransactionStore.
type Store struct {
	mu  sync.RWMutex
	txs map[string]domain.Transaction
	ord []string // insertion order, used as tiebreak for equal timestamps
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{txs: make(map[string]domain.Transaction)}
}

func (s *Store) Insert(_ domain.Context, t domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[t.ID]; ok {
		return fmt.Errorf("op=memory.insert: %w", domain.ErrDuplicateID)
	}
	if t.Status == "" {
		t.Status = domain.StatusPending
	}
	s.txs[t.ID] = t
	s.ord = append(s.ord, t.ID)
	return nil
}

func (s *Store) Get(_ domain.Context, id string) (domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txs[id]
	if !ok {
		return domain.Transaction{}, fmt.Errorf("op=memory.get: %w", domain.ErrNotFound)
	}
	return t, nil
}

func (s *Store) Finalize(_ domain.Context, id string, res domain.EvaluationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok {
		return fmt.Errorf("op=memory.finalize: %w", domain.ErrNotFound)
	}
	if t.Processed {
		return fmt.Errorf("op=memory.finalize: %w", domain.ErrAlreadyProcessed)
	}
	rs, gt, ca := res.RiskScore, res.GraphTemporalScore, res.ContentAnalysisScore
	t.RiskScore = &rs
	t.GraphTemporalScore = &gt
	t.ContentAnalysisScore = &ca
	t.Status = res.Status
	t.RiskDetails = res.RiskDetails
	t.Processed = true
	s.txs[id] = t
	return nil
}

func (s *Store) SenderHistory(_ domain.Context, senderID string, since time.Time, limit int) ([]domain.Transaction, error) {
	return s.filter(limit, func(t domain.Transaction) bool {
		return t.SenderID == senderID && !t.Timestamp.Before(since)
	}), nil
}

func (s *Store) ReceiverHistory(_ domain.Context, receiverID string, since time.Time, limit int) ([]domain.Transaction, error) {
	return s.filter(limit, func(t domain.Transaction) bool {
		return t.ReceiverID == receiverID && !t.Timestamp.Before(since)
	}), nil
}

func (s *Store) GraphWindow(_ domain.Context, senderID, receiverID string, since time.Time) ([]domain.Transaction, error) {
	return s.filter(0, func(t domain.Transaction) bool {
		touches := t.SenderID == senderID || t.ReceiverID == senderID ||
			t.SenderID == receiverID || t.ReceiverID == receiverID
		return touches && !t.Timestamp.Before(since)
	}), nil
}

func (s *Store) RecentBlocked(_ domain.Context, since time.Time, limit int) ([]domain.Transaction, error) {
	return s.filter(limit, func(t domain.Transaction) bool {
		return t.Status == domain.StatusBlocked && !t.Timestamp.Before(since)
	}), nil
}

func (s *Store) BlockedHighRiskParties(_ domain.Context, ids []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	out := make(map[string]bool)
	for _, t := range s.txs {
		if t.Status != domain.StatusBlocked || t.RiskScore == nil || *t.RiskScore <= 0.8 {
			continue
		}
		if wanted[t.SenderID] {
			out[t.SenderID] = true
		}
		if wanted[t.ReceiverID] {
			out[t.ReceiverID] = true
		}
	}
	return out, nil
}

func (s *Store) Velocity(_ domain.Context, userID string, since time.Time) (domain.VelocityStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var v domain.VelocityStats
	for _, t := range s.txs {
		if t.SenderID == userID && !t.Timestamp.Before(since) {
			v.Count++
			v.Volume += t.Amount
		}
	}
	return v, nil
}

func (s *Store) HourlyBuckets(_ domain.Context, userID string, since time.Time) ([]domain.HourBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[time.Time]int)
	for _, t := range s.txs {
		if t.SenderID == userID && !t.Timestamp.Before(since) {
			counts[t.Timestamp.UTC().Truncate(time.Hour)]++
		}
	}
	out := make([]domain.HourBucket, 0, len(counts))
	for h, n := range counts {
		out = append(out, domain.HourBucket{Hour: h, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour.Before(out[j].Hour) })
	return out, nil
}

func (s *Store) Recent(_ domain.Context, limit int) ([]domain.Transaction, error) {
	return s.filter(limit, func(domain.Transaction) bool { return true }), nil
}

func (s *Store) FinalizedSince(_ domain.Context, since time.Time) ([]domain.Transaction, error) {
	return s.filter(0, func(t domain.Transaction) bool {
		return t.Processed && !t.Timestamp.Before(since)
	}), nil
}

func (s *Store) StatsSince(_ domain.Context, since time.Time) (domain.SystemStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st domain.SystemStats
	for _, t := range s.txs {
		if t.Timestamp.Before(since) {
			continue
		}
		st.Total++
		st.Volume += t.Amount
		switch t.Status {
		case domain.StatusApproved:
			st.Approved++
		case domain.StatusBlocked:
			st.Blocked++
		case domain.StatusPendingVerification:
			st.PendingVerification++
		case domain.StatusPending:
			st.Pending++
		}
	}
	return st, nil
}

// filter returns matching transactions newest first; limit<=0 means all.
func (s *Store) filter(limit int, keep func(domain.Transaction) bool) []domain.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Transaction
	for _, id := range s.ord {
		if t := s.txs[id]; keep(t) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
