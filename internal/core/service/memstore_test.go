package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rl1809/stock-count/internal/core/domain"
	"github.com/rl1809/stock-count/internal/port"
)

// memStore is an in-memory StorageRepository. InTx stages writes on a copy
// and publishes them only when fn succeeds.
type memStore struct {
	mu         sync.Mutex
	items      map[string]domain.InventoryItem
	containers map[string]domain.ContainerInstance
	kegs       map[string]domain.KegState
	batches    map[string]domain.BatchState
	records    []domain.CountRecord

	failLifecycle error
	failRecord    error
}

func newMemStore() *memStore {
	return &memStore{
		items:      make(map[string]domain.InventoryItem),
		containers: make(map[string]domain.ContainerInstance),
		kegs:       make(map[string]domain.KegState),
		batches:    make(map[string]domain.BatchState),
	}
}

func (m *memStore) GetItem(ctx context.Context, itemID string) (*domain.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &it, nil
}

func (m *memStore) SaveItem(ctx context.Context, item domain.InventoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	return nil
}

func (m *memStore) DeactivateItem(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	if !ok {
		return domain.ErrNotFound
	}
	it.Active = false
	m.items[itemID] = it
	return nil
}

func (m *memStore) GetLatestCountRecord(ctx context.Context, itemID string) (*domain.CountRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].ItemID == itemID {
			r := m.records[i]
			return &r, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetContainerState(ctx context.Context, containerID string) (*domain.ContainerInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[containerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (m *memStore) GetKegState(ctx context.Context, itemID string) (*domain.KegState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.kegs[itemID]
	if !ok {
		return nil, nil
	}
	return &k, nil
}

func (m *memStore) GetBatchState(ctx context.Context, batchRef string) (*domain.BatchState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchRef]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *memStore) PersistCountRecord(ctx context.Context, record domain.CountRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRecord != nil {
		return m.failRecord
	}
	m.records = append(m.records, record)
	return nil
}

func (m *memStore) PersistLifecycleUpdate(ctx context.Context, u domain.LifecycleUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLifecycle != nil {
		return m.failLifecycle
	}
	switch u.Kind {
	case domain.UpdateContainerRegister, domain.UpdateContainerUsage, domain.UpdateContainerReweigh:
		m.containers[u.Container.ID] = *u.Container
	case domain.UpdateKegTap:
		m.kegs[u.Keg.ItemID] = *u.Keg
	case domain.UpdateBatchStart:
		m.batches[u.Batch.BatchRef] = *u.Batch
	default:
		return errors.New("unknown update kind")
	}
	return nil
}

func (m *memStore) InTx(ctx context.Context, fn func(port.StorageRepository) error) error {
	tx := m.clone()
	if err := fn(tx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items, m.containers, m.kegs, m.batches, m.records = tx.items, tx.containers, tx.kegs, tx.batches, tx.records
	return nil
}

func (m *memStore) clone() *memStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := newMemStore()
	for k, v := range m.items {
		cp.items[k] = v
	}
	for k, v := range m.containers {
		cp.containers[k] = v
	}
	for k, v := range m.kegs {
		cp.kegs[k] = v
	}
	for k, v := range m.batches {
		cp.batches[k] = v
	}
	cp.records = append([]domain.CountRecord(nil), m.records...)
	cp.failLifecycle = m.failLifecycle
	cp.failRecord = m.failRecord
	return cp
}

func (m *memStore) recordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *memStore) container(id string) domain.ContainerInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.containers[id]
}

// memLocker is a LockRepository without expiry.
type memLocker struct {
	mu          sync.Mutex
	locks       map[string]string
	idempotency map[string]bool
	seq         int
}

func newMemLocker() *memLocker {
	return &memLocker{locks: make(map[string]string), idempotency: make(map[string]bool)}
}

func (l *memLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.locks[key]; held {
		return "", false, nil
	}
	l.seq++
	token := time.Duration(l.seq).String()
	l.locks[key] = token
	return token, true, nil
}

func (l *memLocker) ReleaseLock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks[key] == token {
		delete(l.locks, key)
	}
	return nil
}

func (l *memLocker) SetIdempotency(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.idempotency[key] {
		return false, nil
	}
	l.idempotency[key] = true
	return true, nil
}

func (l *memLocker) ClearIdempotency(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.idempotency, key)
	return nil
}

func (l *memLocker) hold(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locks[key] = "other"
}
