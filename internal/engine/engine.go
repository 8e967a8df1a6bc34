// Package engine runs the simulation loop: every cycle it refreshes
// prices, sweeps exit triggers, asks the oracle for a decision per symbol,
// applies validated decisions to the book, and persists the cycle as one
// batch.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantleap/simtrader/internal/config"
	"github.com/quantleap/simtrader/internal/market"
	"github.com/quantleap/simtrader/internal/observ"
	"github.com/quantleap/simtrader/internal/oracle"
	"github.com/quantleap/simtrader/internal/portfolio"
	"github.com/quantleap/simtrader/internal/position"
	"github.com/quantleap/simtrader/internal/risk"
	"github.com/quantleap/simtrader/internal/store"
)

// errAuthFatal stops the scheduler: retrying a bad credential every cycle
// only burns the rate limit.
var errAuthFatal = errors.New("oracle auth failure")

const maxBackoff = 15 * time.Minute

type Status struct {
	Running       bool      `json:"running"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	Cycle         int64     `json:"cycle"`
	LastCycleAt   time.Time `json:"last_cycle_at,omitempty"`
	LastSummary   string    `json:"last_summary,omitempty"`
	Cash          float64   `json:"cash"`
	Equity        float64   `json:"equity"`
	OpenPositions int       `json:"open_positions"`
}

type Engine struct {
	symbols   []string
	interval  time.Duration
	oracle    oracle.Adapter
	market    market.Provider
	validator *risk.Validator
	book      *position.Manager
	ledger    *portfolio.Ledger
	repo      store.Repository
	now       func() time.Time

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	startedAt   time.Time
	cycle       int64
	lastCycleAt time.Time
	lastSummary string
	consecErrs  int
	pending     *store.CycleBatch
	lastEquity  float64
}

func New(cfg config.Trading, oa oracle.Adapter, mp market.Provider, repo store.Repository) *Engine {
	return &Engine{
		symbols:  cfg.Symbols,
		interval: time.Duration(cfg.IntervalSeconds) * time.Second,
		oracle:   oa,
		market:   mp,
		validator: risk.NewValidator(risk.Limits{
			MaxLeverage:        cfg.MaxLeverage,
			MaxPositionSize:    cfg.MaxPositionSize,
			DefaultStopLossPct: cfg.DefaultStopLossPct,
		}),
		book:       position.NewManager(),
		ledger:     portfolio.NewLedger(cfg.InitialBalance),
		repo:       repo,
		now:        time.Now,
		lastEquity: cfg.InitialBalance,
	}
}

// Start resumes persisted state and launches the scheduler goroutine.
// Starting an already-running engine is an error.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("engine already running")
	}

	st, ok, err := e.repo.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if ok {
		e.ledger.Restore(st.Cash, st.RealizedPnL)
		e.book.Restore(st.OpenPositions)
		e.cycle = st.Cycle
		observ.Log("state_resumed", map[string]any{
			"cycle":          st.Cycle,
			"cash":           st.Cash,
			"open_positions": len(st.OpenPositions),
		})
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true
	e.startedAt = e.now()
	e.consecErrs = 0
	observ.SetGauge("engine_running", 1, nil)
	observ.Log("engine_started", map[string]any{
		"symbols":  e.symbols,
		"interval": e.interval.String(),
	})

	go e.run(runCtx)
	return nil
}

// Stop cancels the scheduler and waits for the in-flight cycle to finish.
// Stopping a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	<-done

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	observ.SetGauge("engine_running", 0, nil)
	observ.Log("engine_stopped", nil)
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Running:       e.running,
		StartedAt:     e.startedAt,
		Cycle:         e.cycle,
		LastCycleAt:   e.lastCycleAt,
		LastSummary:   e.lastSummary,
		Cash:          e.ledger.Cash(),
		Equity:        e.lastEquity,
		OpenPositions: len(e.book.List()),
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	for {
		err := e.runCycle(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return
		case errors.Is(err, errAuthFatal):
			observ.Log("engine_halted", map[string]any{"reason": "oracle auth failure"})
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
			observ.SetGauge("engine_running", 0, nil)
			return
		case err != nil:
			e.mu.Lock()
			e.consecErrs++
			n := e.consecErrs
			e.mu.Unlock()
			observ.Log("cycle_error", map[string]any{"error": err.Error(), "consecutive": n})
		default:
			e.mu.Lock()
			e.consecErrs = 0
			e.mu.Unlock()
		}

		wait := e.interval
		e.mu.Lock()
		if e.consecErrs > 0 {
			backoff := e.interval * time.Duration(1<<uint(min(e.consecErrs, 4)))
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			wait = backoff
		}
		e.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (e *Engine) runCycle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.retryPending(ctx)

	e.mu.Lock()
	e.cycle++
	cycleNum := e.cycle
	startedAt := e.startedAt
	e.mu.Unlock()

	start := e.now()
	observ.IncCounter("cycles_total", nil)

	// 1. Refresh marks. A symbol whose fetch fails sits out this cycle.
	marks := make(map[string]market.Snapshot, len(e.symbols))
	for _, sym := range e.symbols {
		snap, err := e.market.GetSnapshot(ctx, sym)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			observ.IncCounter("market_errors_total", map[string]string{"symbol": sym})
			observ.Log("snapshot_failed", map[string]any{"symbol": sym, "error": err.Error()})
			continue
		}
		marks[sym] = snap
	}

	var trades []position.Trade
	var decisions []store.DecisionRecord

	// 2. Exit sweep before new decisions: a stop that fired must not be
	// outrun by a fresh open on the same symbol.
	for _, snap := range marks {
		sig, ok := e.book.CheckExits(snap)
		if !ok {
			continue
		}
		if t, closed := e.book.Close(sig.Symbol, sig.Price, sig.Reason, e.now()); closed {
			e.ledger.ReleaseMargin(t.Margin, t.RealizedPnL)
			trades = append(trades, *t)
			observ.IncCounter("exit_triggers_total", map[string]string{"reason": string(sig.Reason)})
		}
	}

	// 3. One oracle call per symbol with a mark.
	for _, sym := range e.symbols {
		snap, ok := marks[sym]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		dec, err := e.oracle.Decide(ctx, e.buildRequest(snap, marks, startedAt, cycleNum))
		if err != nil {
			kind := oracle.KindOf(err)
			observ.IncCounter("oracle_errors_total", map[string]string{"kind": kind})
			observ.Log("oracle_error", map[string]any{"symbol": sym, "kind": kind, "error": err.Error()})
			if kind == oracle.ErrAuth {
				return errAuthFatal
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		observ.IncCounter("decisions_total", map[string]string{"action": string(dec.Action)})

		rec := store.DecisionRecord{
			ID:        uuid.NewString(),
			Cycle:     cycleNum,
			Decision:  dec,
			CreatedAt: e.now(),
		}

		var existing *position.Position
		if p, has := e.book.Get(sym); has {
			existing = &p
		}
		equity, _ := e.accountValue(marks)
		verdict := e.validator.Validate(dec, snap.Price, existing, equity, e.ledger.Cash())
		rec.Verdict = string(verdict.Kind)

		switch verdict.Kind {
		case risk.VerdictHold:
			rec.Accepted = true
		case risk.VerdictReject:
			rec.Reason = verdict.Reason
		case risk.VerdictClose:
			if t, closed := e.book.Close(sym, snap.Price, position.ReasonOracleClose, e.now()); closed {
				e.ledger.ReleaseMargin(t.Margin, t.RealizedPnL)
				trades = append(trades, *t)
				rec.Accepted = true
			}
		case risk.VerdictOpen:
			cmd := verdict.Open
			if !e.ledger.ReserveMargin(cmd.Notional / cmd.Leverage) {
				rec.Verdict = string(risk.VerdictReject)
				rec.Reason = fmt.Sprintf("insufficient cash for %s", sym)
				break
			}
			if _, err := e.book.Open(*cmd, e.now()); err != nil {
				e.ledger.ReleaseMargin(cmd.Notional/cmd.Leverage, 0)
				rec.Verdict = string(risk.VerdictReject)
				rec.Reason = err.Error()
				break
			}
			rec.Accepted = true
		}
		decisions = append(decisions, rec)
	}

	// 4. Mark to market and persist the cycle as one batch.
	equity, reserved := e.accountValue(marks)
	unrealized := equity - e.ledger.Cash() - reserved
	snap := e.ledger.Snapshot(reserved, unrealized, e.now())

	batch := store.CycleBatch{
		Cycle:         cycleNum,
		Trades:        trades,
		Decisions:     decisions,
		Snapshot:      snap,
		OpenPositions: e.book.List(),
	}
	persistErr := e.persist(ctx, batch)

	e.mu.Lock()
	e.lastCycleAt = e.now()
	e.lastEquity = snap.Equity
	e.lastSummary = fmt.Sprintf("cycle %d: %d decisions, %d trades, equity %.2f",
		cycleNum, len(decisions), len(trades), snap.Equity)
	e.mu.Unlock()

	observ.Observe("cycle_latency_ms", float64(time.Since(start).Milliseconds()), nil)
	observ.Log("cycle_done", map[string]any{
		"cycle":     cycleNum,
		"decisions": len(decisions),
		"trades":    len(trades),
		"equity":    snap.Equity,
	})
	return persistErr
}

// retryPending gives a batch left over from a failed cycle one more write
// before any new work. A batch that fails its retry is dropped so one bad
// write can't wedge the loop.
func (e *Engine) retryPending(ctx context.Context) {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	if pending == nil {
		return
	}
	if err := e.repo.ApplyCycle(ctx, *pending); err != nil {
		observ.IncCounter("persistence_retry_failed_total", nil)
		observ.Log("persistence_retry_failed", map[string]any{
			"cycle": pending.Cycle,
			"error": err.Error(),
		})
	}
}

func (e *Engine) persist(ctx context.Context, batch store.CycleBatch) error {
	if err := e.repo.ApplyCycle(ctx, batch); err != nil {
		e.mu.Lock()
		e.pending = &batch
		e.mu.Unlock()
		observ.Log("persistence_deferred", map[string]any{"cycle": batch.Cycle, "error": err.Error()})
		return fmt.Errorf("persist cycle %d: %w", batch.Cycle, err)
	}
	return nil
}

// accountValue returns current equity and the total margin reserved in
// open positions.
func (e *Engine) accountValue(marks map[string]market.Snapshot) (equity, reserved float64) {
	prices := make(map[string]float64, len(marks))
	for sym, s := range marks {
		prices[sym] = s.Price
	}
	for _, p := range e.book.List() {
		reserved += p.Margin
	}
	unrealized := e.book.TotalUnrealized(prices)
	return e.ledger.Equity(reserved, unrealized), reserved
}

func (e *Engine) buildRequest(snap market.Snapshot, marks map[string]market.Snapshot, startedAt time.Time, invocation int64) oracle.Request {
	equity, _ := e.accountValue(marks)
	roi := 0.0
	if init := e.ledger.InitialBalance(); init > 0 {
		roi = (equity - init) / init * 100
	}

	open := e.book.List()
	ctxs := make([]oracle.PositionContext, 0, len(open))
	now := e.now()
	for _, p := range open {
		mark := p.EntryPrice
		if s, ok := marks[p.Symbol]; ok {
			mark = s.Price
		}
		ctxs = append(ctxs, oracle.PositionContext{
			Symbol:        p.Symbol,
			Side:          string(p.Side),
			EntryPrice:    p.EntryPrice,
			CurrentPrice:  mark,
			Leverage:      p.Leverage,
			Confidence:    p.Confidence,
			UnrealizedPnL: p.UnrealizedPnL(mark),
			HoldingMins:   now.Sub(p.OpenedAt).Minutes(),
		})
	}

	return oracle.Request{
		Symbol:        snap.Symbol,
		Price:         snap.Price,
		High24h:       snap.High24h,
		Low24h:        snap.Low24h,
		Change24hPct:  snap.Change24hPct,
		Volume24h:     snap.Volume24h,
		Cash:          e.ledger.Cash(),
		Equity:        equity,
		ROIPct:        roi,
		OpenPositions: ctxs,
		ElapsedMins:   now.Sub(startedAt).Minutes(),
		Invocation:    int(invocation),
	}
}
