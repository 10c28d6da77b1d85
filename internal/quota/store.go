// Package quota tracks per-principal token balances with safe concurrent
// reservation, consumption, and release, and appends usage records through
// a durable store.
package quota

import (
	"context"
	"sync"

	"github.com/openloom/llmgate/pkg/types"
)

// Store persists usage records and balance updates. Writes must be durable
// before Consume/Release return so the audit trail always reconciles with
// responses already sent to callers.
type Store interface {
	// AppendUsage durably appends one usage record.
	AppendUsage(ctx context.Context, record *types.UsageRecord) error
	// SaveBalance durably stores the principal's balance after a consume.
	SaveBalance(ctx context.Context, principalID string, remaining, used int64) error
}

// MemoryStore is an in-memory Store for tests and single-node development.
type MemoryStore struct {
	mu       sync.Mutex
	records  []types.UsageRecord
	balances map[string][2]int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{balances: make(map[string][2]int64)}
}

// AppendUsage appends the record to the in-memory log.
func (s *MemoryStore) AppendUsage(_ context.Context, record *types.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *record)
	return nil
}

// SaveBalance stores the balance snapshot.
func (s *MemoryStore) SaveBalance(_ context.Context, principalID string, remaining, used int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[principalID] = [2]int64{remaining, used}
	return nil
}

// Records returns a copy of all appended usage records.
func (s *MemoryStore) Records() []types.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.UsageRecord, len(s.records))
	copy(out, s.records)
	return out
}

// RecordsFor returns the records for one principal.
func (s *MemoryStore) RecordsFor(principalID string) []types.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.UsageRecord
	for _, r := range s.records {
		if r.PrincipalID == principalID {
			out = append(out, r)
		}
	}
	return out
}
