package jobs

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store with the same guard semantics as the
// table-backed implementation.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Get(ctx context.Context, jobID string) (*Record, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) Put(ctx context.Context, rec *Record) error {
	_ = ctx
	if err := rec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[rec.JobID] = *rec
	return nil
}

func (m *MemoryStore) Transition(ctx context.Context, jobID string, from, to Status, changes Changes) error {
	_ = ctx
	if err := CheckTransition(from, to); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[jobID]
	if !ok || rec.Status != from {
		return ErrConditionFailed
	}
	rec.Status = to
	changes.Apply(&rec)
	m.records[jobID] = rec
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, jobID string, changes Changes) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[jobID]
	if !ok {
		return ErrNotFound
	}
	changes.Apply(&rec)
	m.records[jobID] = rec
	return nil
}

func (m *MemoryStore) QueryByUser(ctx context.Context, userID string) ([]Record, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, rec := range m.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmitTime != out[j].SubmitTime {
			return out[i].SubmitTime < out[j].SubmitTime
		}
		return out[i].JobID < out[j].JobID
	})
	return out, nil
}
