package market

import (
	"context"
	"sync"
	"time"
)

// MockProvider serves canned snapshots for tests and offline runs.
type MockProvider struct {
	mu     sync.Mutex
	snaps  map[string]Snapshot
	errs   map[string]error
	allErr error
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		snaps: make(map[string]Snapshot),
		errs:  make(map[string]error),
	}
}

func (m *MockProvider) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[symbol] = Snapshot{
		Symbol:    symbol,
		Price:     price,
		High24h:   price * 1.05,
		Low24h:    price * 0.95,
		Timestamp: time.Now(),
	}
}

func (m *MockProvider) SetSnapshot(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[s.Symbol] = s
}

func (m *MockProvider) SetError(symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[symbol] = err
}

func (m *MockProvider) SetGlobalError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allErr = err
}

func (m *MockProvider) GetSnapshot(_ context.Context, symbol string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allErr != nil {
		return Snapshot{}, m.allErr
	}
	if err, ok := m.errs[symbol]; ok && err != nil {
		return Snapshot{}, err
	}
	s, ok := m.snaps[symbol]
	if !ok {
		return Snapshot{}, unavailable(symbol, "no mock snapshot configured", nil)
	}
	return s, nil
}

func (m *MockProvider) HealthCheck(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allErr
}
