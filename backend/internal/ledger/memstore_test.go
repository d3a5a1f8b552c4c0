package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/user/papertrade/backend/internal/models"
)

// memStore is a Store kept in maps, with the same version rules as the
// database stores.
type memStore struct {
	mu      sync.Mutex
	ledgers map[string]*models.Ledger
	trades  map[string][]*models.Trade

	failCommit error
	failSave   error
	// afterLoad runs after every GetOrCreateLedger, outside the lock.
	afterLoad func(userID string)
}

func newMemStore() *memStore {
	return &memStore{
		ledgers: make(map[string]*models.Ledger),
		trades:  make(map[string][]*models.Trade),
	}
}

func (m *memStore) GetOrCreateLedger(_ context.Context, userID string) (*models.Ledger, error) {
	m.mu.Lock()
	l, ok := m.ledgers[userID]
	if !ok {
		l = models.NewLedger(userID, time.Now().UTC())
		l.Version = 1
		m.ledgers[userID] = l
	}
	out := l.Clone()
	m.mu.Unlock()

	if m.afterLoad != nil {
		m.afterLoad(userID)
	}
	return out, nil
}

func (m *memStore) save(l *models.Ledger) error {
	cur, ok := m.ledgers[l.UserID]
	if ok && cur.Version != l.Version {
		return ErrConflict
	}
	if !ok && l.Version != 0 {
		return ErrConflict
	}
	l.Version++
	m.ledgers[l.UserID] = l.Clone()
	return nil
}

func (m *memStore) SaveLedger(_ context.Context, l *models.Ledger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}
	return m.save(l)
}

func (m *memStore) CommitTrade(_ context.Context, l *models.Ledger, t *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCommit != nil {
		return m.failCommit
	}
	version := l.Version
	if err := m.save(l); err != nil {
		l.Version = version
		return err
	}
	cp := *t
	m.trades[t.UserID] = append(m.trades[t.UserID], &cp)
	return nil
}

func (m *memStore) ListTrades(_ context.Context, userID string) ([]*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Trade, 0, len(m.trades[userID]))
	for _, t := range m.trades[userID] {
		cp := *t
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// bump simulates a write by another process.
func (m *memStore) bump(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.ledgers[userID]; ok {
		l.Version++
	}
}

var errDiskFull = errors.New("disk full")
