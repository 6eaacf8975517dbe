// Package orchestrator runs the decision pipeline for incoming signals:
// consensus, micro-backtest, risk sizing, entry submission, then handoff to
// a supervisor. Signals for the same instrument are serialized; everything
// else runs concurrently under a bounded semaphore.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"helmsman/internal/backtest"
	"helmsman/internal/config"
	"helmsman/internal/consensus"
	"helmsman/internal/gateway/exchange"
	"helmsman/internal/logger"
	"helmsman/internal/market"
	"helmsman/internal/metrics"
	"helmsman/internal/position"
	"helmsman/internal/risk"
	"helmsman/internal/signal"
	"helmsman/internal/store"
	"helmsman/internal/supervisor"
)

type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// Pipeline stages, in evaluation order.
const (
	StageConfidence = "confidence"
	StageGuard      = "guard"
	StageConsensus  = "consensus"
	StageBacktest   = "backtest"
	StageRisk       = "risk"
	StageEntry      = "entry"
)

// Decision is the pipeline's answer for one signal. Rejections carry the
// stage that stopped the signal and a human-readable reason.
type Decision struct {
	Outcome    Outcome
	Stage      string
	Reason     string
	PositionID string
}

const defaultMaxConcurrent = 4

type Orchestrator struct {
	cfgMu       sync.RWMutex
	signalsCfg  config.SignalsConfig
	backtestCfg config.BacktestConfig

	checker   *consensus.Checker
	history   market.Source
	sizer     *risk.Sizer
	trader    exchange.Trader
	positions store.PositionStore
	decisions *store.DecisionLog
	manager   *supervisor.Manager

	sem *semaphore.Weighted

	mu       sync.Mutex
	inFlight map[string]bool
}

type Params struct {
	Signals       config.SignalsConfig
	Backtest      config.BacktestConfig
	Checker       *consensus.Checker
	History       market.Source
	Sizer         *risk.Sizer
	Trader        exchange.Trader
	Positions     store.PositionStore
	Decisions     *store.DecisionLog
	Manager       *supervisor.Manager
	MaxConcurrent int
}

func New(p Params) *Orchestrator {
	maxConcurrent := p.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &Orchestrator{
		signalsCfg:  p.Signals,
		backtestCfg: p.Backtest,
		checker:     p.Checker,
		history:     p.History,
		sizer:       p.Sizer,
		trader:      p.Trader,
		positions:   p.Positions,
		decisions:   p.Decisions,
		manager:     p.Manager,
		sem:         semaphore.NewWeighted(int64(maxConcurrent)),
		inFlight:    make(map[string]bool),
	}
}

// UpdateThresholds swaps the decision thresholds used for subsequent
// signals. Signals already in flight keep the values they started with.
func (o *Orchestrator) UpdateThresholds(signals config.SignalsConfig, backtest config.BacktestConfig) {
	o.cfgMu.Lock()
	o.signalsCfg = signals
	o.backtestCfg = backtest
	o.cfgMu.Unlock()
}

func (o *Orchestrator) thresholds() (config.SignalsConfig, config.BacktestConfig) {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.signalsCfg, o.backtestCfg
}

// HandleSignal runs the full pipeline for one signal and always returns a
// Decision; errors along the way surface as rejections with a reason.
func (o *Orchestrator) HandleSignal(ctx context.Context, sig signal.Signal) Decision {
	metrics.SignalsTotal.WithLabelValues(sig.Instrument).Inc()
	signalsCfg, backtestCfg := o.thresholds()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return o.record(ctx, sig, Decision{Outcome: OutcomeRejected, Stage: StageGuard, Reason: "engine shutting down"})
	}
	defer o.sem.Release(1)

	if sig.Confidence < signalsCfg.MinConfidence {
		return o.record(ctx, sig, Decision{
			Outcome: OutcomeRejected,
			Stage:   StageConfidence,
			Reason:  fmt.Sprintf("confidence %.1f below floor %.1f", sig.Confidence, signalsCfg.MinConfidence),
		})
	}

	if !o.claim(sig.Instrument) {
		return o.record(ctx, sig, Decision{Outcome: OutcomeRejected, Stage: StageGuard, Reason: "instrument busy"})
	}
	defer o.release(sig.Instrument)

	busy, err := o.positions.HasActiveForInstrument(ctx, sig.Instrument)
	if err != nil {
		return o.record(ctx, sig, Decision{Outcome: OutcomeRejected, Stage: StageGuard, Reason: fmt.Sprintf("active-position check failed: %v", err)})
	}
	if busy {
		return o.record(ctx, sig, Decision{Outcome: OutcomeRejected, Stage: StageGuard, Reason: "instrument already has a live position"})
	}

	report := o.checker.Check(ctx, sig.Instrument)
	if !report.Agreement {
		return o.record(ctx, sig, Decision{Outcome: OutcomeRejected, Stage: StageConsensus, Reason: report.Reason})
	}

	candles, err := o.history.FetchHistory(ctx, sig.Instrument, backtestCfg.Interval, backtestCfg.LookbackBars)
	if err != nil {
		return o.record(ctx, sig, Decision{Outcome: OutcomeRejected, Stage: StageBacktest, Reason: fmt.Sprintf("history unavailable: %v", err)})
	}
	result := backtest.Validate(sig, candles, backtestCfg)
	if !result.Accepted {
		return o.record(ctx, sig, Decision{Outcome: OutcomeRejected, Stage: StageBacktest, Reason: result.Reason})
	}
	logger.Infof("[orchestrator] %s backtest ok: expectancy=%.4f over %d samples",
		sig.ID, result.Expectancy, result.SampleSize)

	equity, err := o.trader.AccountEquity(ctx)
	if err != nil {
		return o.record(ctx, sig, Decision{Outcome: OutcomeRejected, Stage: StageRisk, Reason: fmt.Sprintf("equity unavailable: %v", err)})
	}
	plan, err := o.sizer.Size(sig, equity, candles)
	if err != nil {
		return o.record(ctx, sig, Decision{Outcome: OutcomeRejected, Stage: StageRisk, Reason: err.Error()})
	}
	if venueMin, err := o.trader.MinNotional(ctx, sig.Instrument); err == nil && plan.Notional < venueMin {
		return o.record(ctx, sig, Decision{
			Outcome: OutcomeRejected,
			Stage:   StageRisk,
			Reason:  fmt.Sprintf("notional %.2f below venue minimum %.2f", plan.Notional, venueMin),
		})
	}

	return o.execute(ctx, sig, plan)
}

func (o *Orchestrator) execute(ctx context.Context, sig signal.Signal, plan risk.Plan) Decision {
	orderID, err := o.trader.SubmitEntry(ctx, exchange.EntryOrder{
		Instrument: sig.Instrument,
		Direction:  sig.Direction,
		Quantity:   plan.Quantity,
		Leverage:   plan.Leverage,
	})
	if err != nil {
		return o.record(ctx, sig, Decision{Outcome: OutcomeRejected, Stage: StageEntry, Reason: fmt.Sprintf("entry submission failed: %v", err)})
	}

	pos := position.Position{
		ID:         uuid.NewString(),
		Instrument: sig.Instrument,
		Direction:  sig.Direction,
		Entry:      sig.Entry,
		Stop:       sig.Stop,
		Target:     sig.Target,
		Quantity:   plan.Quantity,
		Notional:   plan.Notional,
		Leverage:   plan.Leverage,
		Margin:     plan.Margin,
		Status:     position.StatusPending,
		OrderID:    orderID,
		Signal:     sig,
	}
	if err := o.positions.Create(ctx, pos); err != nil {
		// The order is already on the venue; unwind it rather than leave an
		// unsupervised position behind.
		if _, closeErr := o.trader.ClosePosition(ctx, sig.Instrument, sig.Direction, plan.Quantity); closeErr != nil {
			logger.Errorf("[orchestrator] unwind of %s after persist failure also failed: %v", sig.Instrument, closeErr)
		}
		return o.record(ctx, sig, Decision{Outcome: OutcomeRejected, Stage: StageEntry, Reason: fmt.Sprintf("persisting position failed: %v", err)})
	}
	if err := o.manager.Start(ctx, pos); err != nil {
		return o.record(ctx, sig, Decision{Outcome: OutcomeRejected, Stage: StageEntry, Reason: fmt.Sprintf("supervisor start failed: %v", err)})
	}
	return o.record(ctx, sig, Decision{Outcome: OutcomeAccepted, Stage: StageEntry, PositionID: pos.ID, Reason: "entry submitted"})
}

func (o *Orchestrator) claim(instrument string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[instrument] {
		return false
	}
	o.inFlight[instrument] = true
	return true
}

func (o *Orchestrator) release(instrument string) {
	o.mu.Lock()
	delete(o.inFlight, instrument)
	o.mu.Unlock()
}

// record writes the decision to the audit log and metrics before returning
// it. Audit failures are logged, never propagated.
func (o *Orchestrator) record(ctx context.Context, sig signal.Signal, d Decision) Decision {
	metrics.DecisionsTotal.WithLabelValues(d.Stage, string(d.Outcome)).Inc()
	if d.Outcome == OutcomeRejected {
		logger.Infof("[orchestrator] %s rejected at %s: %s", sig.ID, d.Stage, d.Reason)
	} else {
		logger.Infof("[orchestrator] %s accepted, position %s", sig.ID, d.PositionID)
	}
	if o.decisions != nil {
		err := o.decisions.Append(ctx, store.DecisionRecord{
			SignalID:   sig.ID,
			Instrument: sig.Instrument,
			Stage:      d.Stage,
			Outcome:    string(d.Outcome),
			Reason:     d.Reason,
			CreatedAt:  time.Now(),
		})
		if err != nil {
			logger.Warnf("[orchestrator] decision audit write failed: %v", err)
		}
	}
	return d
}
