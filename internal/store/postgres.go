package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantleap/simtrader/internal/observ"
	"github.com/quantleap/simtrader/internal/portfolio"
	"github.com/quantleap/simtrader/internal/position"
)

// Postgres stores history in four tables and the resumable state in a
// single-row table. ApplyCycle runs in one transaction.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 5
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			position_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			exit_price DOUBLE PRECISION NOT NULL,
			leverage DOUBLE PRECISION NOT NULL,
			notional DOUBLE PRECISION NOT NULL,
			margin DOUBLE PRECISION NOT NULL,
			realized_pnl DOUBLE PRECISION NOT NULL,
			return_frac DOUBLE PRECISION NOT NULL,
			reason TEXT NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades (symbol, closed_at DESC)`,
		`CREATE TABLE IF NOT EXISTS portfolio_snapshots (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			cash DOUBLE PRECISION NOT NULL,
			reserved_margin DOUBLE PRECISION NOT NULL,
			unrealized_pnl DOUBLE PRECISION NOT NULL,
			realized_pnl DOUBLE PRECISION NOT NULL,
			equity DOUBLE PRECISION NOT NULL,
			roi_pct DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ai_decisions (
			id TEXT PRIMARY KEY,
			cycle BIGINT NOT NULL,
			symbol TEXT NOT NULL,
			action TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			leverage DOUBLE PRECISION NOT NULL,
			reasoning TEXT NOT NULL,
			accepted BOOLEAN NOT NULL,
			verdict TEXT NOT NULL,
			reject_reason TEXT,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sim_state (
			id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			cash DOUBLE PRECISION NOT NULL,
			realized_pnl DOUBLE PRECISION NOT NULL,
			cycle BIGINT NOT NULL,
			open_positions JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := p.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	observ.Log("postgres_migrated", map[string]any{"tables": 4})
	return nil
}

func (p *Postgres) ApplyCycle(ctx context.Context, batch CycleBatch) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range batch.Trades {
		_, err := tx.Exec(ctx, `
			INSERT INTO trades
				(id, position_id, symbol, side, quantity, entry_price, exit_price,
				 leverage, notional, margin, realized_pnl, return_frac, reason, opened_at, closed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (id) DO NOTHING`,
			t.ID, t.PositionID, t.Symbol, string(t.Side), t.Quantity, t.EntryPrice, t.ExitPrice,
			t.Leverage, t.Notional, t.Margin, t.RealizedPnL, t.ReturnFrac, string(t.Reason), t.OpenedAt, t.ClosedAt)
		if err != nil {
			return fmt.Errorf("insert trade %s: %w", t.ID, err)
		}
	}

	s := batch.Snapshot
	if _, err := tx.Exec(ctx, `
		INSERT INTO portfolio_snapshots (ts, cash, reserved_margin, unrealized_pnl, realized_pnl, equity, roi_pct)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		s.Timestamp, s.Cash, s.ReservedMargin, s.UnrealizedPnL, s.RealizedPnL, s.Equity, s.ROIPct); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	for _, d := range batch.Decisions {
		payload, err := json.Marshal(d.Decision)
		if err != nil {
			return fmt.Errorf("marshal decision %s: %w", d.ID, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO ai_decisions
				(id, cycle, symbol, action, confidence, leverage, reasoning, accepted, verdict, reject_reason, payload, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (id) DO NOTHING`,
			d.ID, d.Cycle, d.Decision.Symbol, string(d.Decision.Action), d.Decision.Confidence,
			d.Decision.Leverage, d.Decision.Reasoning, d.Accepted, d.Verdict, d.Reason, payload, d.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert decision %s: %w", d.ID, err)
		}
	}

	openJSON, err := json.Marshal(batch.OpenPositions)
	if err != nil {
		return fmt.Errorf("marshal open positions: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO sim_state (id, cash, realized_pnl, cycle, open_positions, updated_at)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			cash = EXCLUDED.cash,
			realized_pnl = EXCLUDED.realized_pnl,
			cycle = EXCLUDED.cycle,
			open_positions = EXCLUDED.open_positions,
			updated_at = EXCLUDED.updated_at`,
		s.Cash, s.RealizedPnL, batch.Cycle, openJSON, s.Timestamp); err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}

	return tx.Commit(ctx)
}

func (p *Postgres) LoadState(ctx context.Context) (State, bool, error) {
	var st State
	var openJSON []byte
	err := p.pool.QueryRow(ctx,
		`SELECT cash, realized_pnl, cycle, open_positions FROM sim_state WHERE id = 1`).
		Scan(&st.Cash, &st.RealizedPnL, &st.Cycle, &openJSON)
	if err == pgx.ErrNoRows {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("load state: %w", err)
	}
	if err := json.Unmarshal(openJSON, &st.OpenPositions); err != nil {
		return State{}, false, fmt.Errorf("parse open positions: %w", err)
	}
	return st, true, nil
}

func (p *Postgres) OpenPositions(ctx context.Context) ([]position.Position, error) {
	st, ok, err := p.LoadState(ctx)
	if err != nil || !ok {
		return nil, err
	}
	return st.OpenPositions, nil
}

func (p *Postgres) Trades(ctx context.Context, symbol string, limit int) ([]position.Trade, error) {
	q := `SELECT id, position_id, symbol, side, quantity, entry_price, exit_price,
			leverage, notional, margin, realized_pnl, return_frac, reason, opened_at, closed_at
		FROM trades`
	args := []any{}
	if symbol != "" {
		q += ` WHERE symbol = $1`
		args = append(args, symbol)
	}
	q += ` ORDER BY closed_at DESC`
	if limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []position.Trade
	for rows.Next() {
		var t position.Trade
		var side, reason string
		if err := rows.Scan(&t.ID, &t.PositionID, &t.Symbol, &side, &t.Quantity, &t.EntryPrice,
			&t.ExitPrice, &t.Leverage, &t.Notional, &t.Margin, &t.RealizedPnL, &t.ReturnFrac,
			&reason, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = position.Side(side)
		t.Reason = position.CloseReason(reason)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) EquityHistory(ctx context.Context, limit int) ([]portfolio.Snapshot, error) {
	q := `SELECT ts, cash, reserved_margin, unrealized_pnl, realized_pnl, equity, roi_pct
		FROM portfolio_snapshots ORDER BY ts DESC`
	if limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := p.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []portfolio.Snapshot
	for rows.Next() {
		var s portfolio.Snapshot
		if err := rows.Scan(&s.Timestamp, &s.Cash, &s.ReservedMargin, &s.UnrealizedPnL, &s.RealizedPnL, &s.Equity, &s.ROIPct); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, s)
	}
	// oldest first, matching the in-memory store
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (p *Postgres) Decisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	q := `SELECT id, cycle, accepted, verdict, COALESCE(reject_reason, ''), payload, created_at
		FROM ai_decisions ORDER BY created_at DESC`
	if limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := p.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var d DecisionRecord
		var payload []byte
		if err := rows.Scan(&d.ID, &d.Cycle, &d.Accepted, &d.Verdict, &d.Reason, &payload, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if err := json.Unmarshal(payload, &d.Decision); err != nil {
			return nil, fmt.Errorf("parse decision payload: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) PerformanceStats(ctx context.Context) (PerformanceStats, error) {
	trades, err := p.Trades(ctx, "", 0)
	if err != nil {
		return PerformanceStats{}, err
	}
	return ComputeStats(trades), nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
