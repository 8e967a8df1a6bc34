package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/quantleap/simtrader/internal/observ"
	"github.com/quantleap/simtrader/internal/portfolio"
	"github.com/quantleap/simtrader/internal/position"
)

// Memory keeps all history in process. With a statePath it also mirrors
// every cycle to a JSON file via temp-file-plus-rename, so a reader never
// sees a torn write.
type Memory struct {
	mu        sync.RWMutex
	statePath string

	state     State
	hasState  bool
	trades    []position.Trade
	snapshots []portfolio.Snapshot
	decisions []DecisionRecord
}

func NewMemory() *Memory {
	return &Memory{}
}

// NewFile returns a memory store backed by an on-disk JSON mirror.
func NewFile(statePath string) (*Memory, error) {
	m := &Memory{statePath: statePath}
	if err := m.loadFile(); err != nil {
		return nil, err
	}
	return m, nil
}

type fileState struct {
	State     State                `json:"state"`
	Trades    []position.Trade     `json:"trades"`
	Snapshots []portfolio.Snapshot `json:"snapshots"`
	Decisions []DecisionRecord     `json:"decisions"`
}

func (m *Memory) loadFile() error {
	b, err := os.ReadFile(m.statePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state file: %w", err)
	}
	var fs fileState
	if err := json.Unmarshal(b, &fs); err != nil {
		return fmt.Errorf("parse state file %s: %w", m.statePath, err)
	}
	m.state = fs.State
	m.hasState = true
	m.trades = fs.Trades
	m.snapshots = fs.Snapshots
	m.decisions = fs.Decisions
	observ.Log("state_loaded", map[string]any{
		"path":   m.statePath,
		"cycle":  fs.State.Cycle,
		"trades": len(fs.Trades),
	})
	return nil
}

func (m *Memory) ApplyCycle(_ context.Context, batch CycleBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.trades = append(m.trades, batch.Trades...)
	m.snapshots = append(m.snapshots, batch.Snapshot)
	m.decisions = append(m.decisions, batch.Decisions...)
	m.state = State{
		Cash:          batch.Snapshot.Cash,
		RealizedPnL:   batch.Snapshot.RealizedPnL,
		Cycle:         batch.Cycle,
		OpenPositions: batch.OpenPositions,
	}
	m.hasState = true

	if m.statePath == "" {
		return nil
	}
	return m.saveFileLocked()
}

// saveFileLocked writes the mirror atomically: temp file in the same
// directory, fsync, rename.
func (m *Memory) saveFileLocked() error {
	fs := fileState{
		State:     m.state,
		Trades:    m.trades,
		Snapshots: m.snapshots,
		Decisions: m.decisions,
	}
	b, err := json.MarshalIndent(fs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(m.statePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "state-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpName, m.statePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

func (m *Memory) LoadState(context.Context) (State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.hasState, nil
}

func (m *Memory) OpenPositions(context.Context) ([]position.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]position.Position, len(m.state.OpenPositions))
	copy(out, m.state.OpenPositions)
	return out, nil
}

func (m *Memory) Trades(_ context.Context, symbol string, limit int) ([]position.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []position.Trade
	for i := len(m.trades) - 1; i >= 0; i-- {
		t := m.trades[i]
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) EquityHistory(_ context.Context, limit int) ([]portfolio.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := 0
	if limit > 0 && len(m.snapshots) > limit {
		start = len(m.snapshots) - limit
	}
	out := make([]portfolio.Snapshot, len(m.snapshots)-start)
	copy(out, m.snapshots[start:])
	return out, nil
}

func (m *Memory) Decisions(_ context.Context, limit int) ([]DecisionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []DecisionRecord
	for i := len(m.decisions) - 1; i >= 0; i-- {
		out = append(out, m.decisions[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) PerformanceStats(context.Context) (PerformanceStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ComputeStats(m.trades), nil
}

func (m *Memory) Close() error { return nil }
