package session

import (
	"context"
	"sync"
	"time"

	"grcbridge/internal/archer"
)

type memKey struct{ tenantID, id string }

// MemoryStore keeps sessions in process. Readers get copies, so a swap is
// never observed half done.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[memKey]Session
	opts storeOptions
}

func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	return &MemoryStore{rows: map[memKey]Session{}, opts: applyOptions(opts)}
}

func (m *MemoryStore) Create(_ context.Context, tenantID string, conn archer.ConnectionParameters, token string, ttl time.Duration) (*Session, error) {
	if tenantID == "" {
		return nil, errNoTenant
	}
	s := newSession(tenantID, conn, token, m.opts.now(), ttl)
	m.mu.Lock()
	m.rows[memKey{tenantID, s.ID}] = *s
	m.mu.Unlock()
	m.opts.metrics.IncStoreOp("memory", "create", nil)
	return s, nil
}

func (m *MemoryStore) FetchValid(ctx context.Context, tenantID, id string) (*Session, error) {
	s, err := m.FetchForRefresh(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !s.ValidAt(m.opts.now()) {
		return nil, ErrSessionExpired
	}
	return s, nil
}

func (m *MemoryStore) FetchForRefresh(_ context.Context, tenantID, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.rows[memKey{tenantID, id}]
	m.mu.RUnlock()
	if !ok || !m.opts.retained(&s) {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (m *MemoryStore) SwapToken(_ context.Context, tenantID, id, token string, expiresAt time.Time) (bool, error) {
	k := memKey{tenantID, id}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[k]
	if !ok {
		return false, nil
	}
	s.Token = token
	s.ExpiresAt = expiresAt.UTC()
	s.UpdatedAt = m.opts.now().UTC()
	m.rows[k] = s
	m.opts.metrics.IncStoreOp("memory", "swap", nil)
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	delete(m.rows, memKey{tenantID, id})
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, s := range m.rows {
		if s.ExpiresAt.Before(before) {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}
