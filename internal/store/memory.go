package store

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps records in process memory. Used when no database is
// configured and in tests.
type MemoryStore struct {
	mu         sync.RWMutex
	interviews map[string]*Interview
	reports    map[string]*Report
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		interviews: make(map[string]*Interview),
		reports:    make(map[string]*Report),
	}
}

func (m *MemoryStore) CreateInterview(ctx context.Context, iv *Interview) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if iv.CreatedAt.IsZero() {
		iv.CreatedAt = time.Now().UTC()
	}
	m.interviews[iv.ID] = cloneInterview(iv)
	return nil
}

func (m *MemoryStore) GetInterview(ctx context.Context, id string) (*Interview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	iv, ok := m.interviews[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInterview(iv), nil
}

func (m *MemoryStore) SaveTranscript(ctx context.Context, id, transcript string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	iv, ok := m.interviews[id]
	if !ok {
		return ErrNotFound
	}
	iv.FullTranscript = transcript
	return nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	iv, ok := m.interviews[id]
	if !ok {
		return ErrNotFound
	}
	iv.Status = status
	return nil
}

func (m *MemoryStore) AppendFrames(ctx context.Context, id string, frames []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	iv, ok := m.interviews[id]
	if !ok {
		return 0, ErrNotFound
	}
	iv.VisualFrames = mergeFrames(iv.VisualFrames, frames)
	return len(iv.VisualFrames), nil
}

func (m *MemoryStore) GetReport(ctx context.Context, interviewID string) (*Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reports[interviewID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CreateReport(ctx context.Context, r *Report) (*Report, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.interviews[r.InterviewID]; !ok {
		return nil, false, ErrNotFound
	}
	if existing, ok := m.reports[r.InterviewID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	cp := *r
	m.reports[r.InterviewID] = &cp
	out := cp
	return &out, true, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() {}

func cloneInterview(iv *Interview) *Interview {
	cp := *iv
	cp.Questions = append([]string(nil), iv.Questions...)
	cp.VisualFrames = append([]string(nil), iv.VisualFrames...)
	return &cp
}
