// Package supervisor owns the position lifecycle. One goroutine supervises
// one position from entry submission to a terminal state; nothing else
// writes that position. Every status change is persisted before any action
// that depends on it.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"helmsman/internal/gateway/exchange"
	"helmsman/internal/gateway/notifier"
	"helmsman/internal/logger"
	"helmsman/internal/metrics"
	"helmsman/internal/position"
	"helmsman/internal/signal"
	"helmsman/internal/store"
)

// Options bound the supervision loops. Zero values fall back to safe
// defaults at construction.
type Options struct {
	PollInterval   time.Duration
	EntryTimeout   time.Duration
	CloseTimeout   time.Duration
	CloseRetries   int
	PersistRetries int
	MaxHold        time.Duration
}

func (o Options) withDefaults() Options {
	out := o
	if out.PollInterval <= 0 {
		out.PollInterval = 5 * time.Second
	}
	if out.EntryTimeout <= 0 {
		out.EntryTimeout = 20 * time.Second
	}
	if out.CloseTimeout <= 0 {
		out.CloseTimeout = 30 * time.Second
	}
	if out.CloseRetries <= 0 {
		out.CloseRetries = 3
	}
	if out.PersistRetries <= 0 {
		out.PersistRetries = 3
	}
	return out
}

// errPersist marks the one failure class a supervisor cannot recover from:
// state that cannot be saved must not drive further actions.
var errPersist = errors.New("persistence failed")

type supervisor struct {
	opts   Options
	store  store.PositionStore
	trader exchange.Trader
	notify notifier.TextNotifier
	force  <-chan struct{}

	pos position.Position
}

func (s *supervisor) run(ctx context.Context) {
	var err error
	switch s.pos.Status {
	case position.StatusPending:
		err = s.superviseEntry(ctx)
	case position.StatusOpen:
		err = s.superviseOpen(ctx)
	case position.StatusClosing:
		err = s.finishClose(ctx)
	default:
		logger.Warnf("[supervisor] %s already terminal (%s), nothing to do", s.pos.ID, s.pos.Status)
		return
	}
	if err == nil || ctx.Err() != nil {
		return
	}
	if errors.Is(err, errPersist) {
		// State on disk no longer matches reality. Stop here and page a
		// human instead of acting on state we could not record.
		logger.Errorf("[supervisor] %s stalled: %v", s.pos.ID, err)
		s.send(notifier.SupervisorStalled(s.pos.Instrument, s.pos.ID, err.Error()))
		return
	}
	logger.Errorf("[supervisor] %s ended: %v", s.pos.ID, err)
}

// superviseEntry polls the entry order until it fills or the timeout lapses.
func (s *supervisor) superviseEntry(ctx context.Context) error {
	deadline := time.Now().Add(s.opts.EntryTimeout)
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		status, err := s.trader.OrderStatus(ctx, s.pos.Instrument, s.pos.OrderID)
		if err != nil {
			metrics.VenueErrorsTotal.WithLabelValues(s.trader.Name()).Inc()
			logger.Warnf("[supervisor] %s entry status check failed: %v", s.pos.ID, err)
		} else {
			switch status.State {
			case exchange.OrderFilled:
				return s.onEntryFilled(ctx, status)
			case exchange.OrderCanceled, exchange.OrderRejected:
				return s.fail(ctx, fmt.Sprintf("entry order %s %s", s.pos.OrderID, status.State))
			}
		}
		if time.Now().After(deadline) {
			return s.fail(ctx, fmt.Sprintf("entry order %s not filled within %s", s.pos.OrderID, s.opts.EntryTimeout))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *supervisor) onEntryFilled(ctx context.Context, status exchange.OrderStatus) error {
	if status.FillPrice > 0 {
		s.pos.Entry = status.FillPrice
	}
	if status.FilledQty > 0 {
		s.pos.Quantity = status.FilledQty
	}
	s.pos.Status = position.StatusOpen
	s.pos.OpenedAt = time.Now()
	if err := s.persist(ctx); err != nil {
		return err
	}
	logger.Infof("[supervisor] %s open %s %s entry=%.6g qty=%.6g",
		s.pos.ID, s.pos.Instrument, s.pos.Direction, s.pos.Entry, s.pos.Quantity)
	s.send(notifier.PositionOpened(s.pos.Instrument, string(s.pos.Direction),
		s.pos.Entry, s.pos.Quantity, s.pos.Notional, s.pos.Leverage))
	return s.superviseOpen(ctx)
}

// superviseOpen watches the held position. Exit checks run in strict
// priority order: force-close, stop-loss, take-profit, max hold.
func (s *supervisor) superviseOpen(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.force:
			return s.beginClose(ctx, position.ReasonForceClose, 0)
		case <-ticker.C:
		}

		select {
		case <-s.force:
			return s.beginClose(ctx, position.ReasonForceClose, 0)
		default:
		}

		state, err := s.trader.PositionState(ctx, s.pos.Instrument)
		if err != nil {
			metrics.VenueErrorsTotal.WithLabelValues(s.trader.Name()).Inc()
			logger.Warnf("[supervisor] %s position poll failed: %v", s.pos.ID, err)
			continue
		}
		if state.Quantity == 0 {
			// Closed out from under us (liquidation or manual action).
			return s.settleExternalClose(ctx, state.MarkPrice)
		}
		price := state.MarkPrice
		if price <= 0 {
			continue
		}
		if reason, hit := s.exitReason(price); hit {
			return s.beginClose(ctx, reason, price)
		}
	}
}

func (s *supervisor) exitReason(price float64) (position.CloseReason, bool) {
	if s.pos.Direction == signal.DirectionLong {
		if price <= s.pos.Stop {
			return position.ReasonStopLoss, true
		}
		if price >= s.pos.Target {
			return position.ReasonTakeProfit, true
		}
	} else {
		if price >= s.pos.Stop {
			return position.ReasonStopLoss, true
		}
		if price <= s.pos.Target {
			return position.ReasonTakeProfit, true
		}
	}
	if maxHold := s.opts.MaxHold; maxHold > 0 && !s.pos.OpenedAt.IsZero() &&
		time.Since(s.pos.OpenedAt) >= maxHold {
		return position.ReasonMaxHold, true
	}
	return "", false
}

// beginClose records intent before touching the venue: Closing is persisted
// first, then the close order goes out.
func (s *supervisor) beginClose(ctx context.Context, reason position.CloseReason, triggerPrice float64) error {
	if err := s.pos.CheckInvariants(); err != nil {
		return s.fail(ctx, fmt.Sprintf("refusing to close: %v", err))
	}
	s.pos.Status = position.StatusClosing
	s.pos.CloseReason = reason
	if err := s.persist(ctx); err != nil {
		return err
	}
	logger.Infof("[supervisor] %s closing %s reason=%s trigger=%.6g",
		s.pos.ID, s.pos.Instrument, reason, triggerPrice)
	return s.finishClose(ctx)
}

// finishClose submits the reduce-only exit with bounded retries and settles
// the position on fill. It is also the resume entry point after a restart
// that interrupted a close.
func (s *supervisor) finishClose(ctx context.Context) error {
	var closeOrderID string
	var lastErr error
	for attempt := 0; attempt < s.opts.CloseRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.opts.PollInterval):
			}
		}
		closeOrderID, lastErr = s.trader.ClosePosition(ctx, s.pos.Instrument, s.pos.Direction, s.pos.Quantity)
		if lastErr == nil {
			break
		}
		metrics.VenueErrorsTotal.WithLabelValues(s.trader.Name()).Inc()
		logger.Warnf("[supervisor] %s close attempt %d failed: %v", s.pos.ID, attempt+1, lastErr)
	}
	if lastErr != nil {
		return s.fail(ctx, fmt.Sprintf("close order failed after %d attempts: %v", s.opts.CloseRetries, lastErr))
	}

	closePrice, err := s.awaitCloseFill(ctx, closeOrderID)
	if err != nil {
		return err
	}
	return s.settle(ctx, closePrice)
}

func (s *supervisor) awaitCloseFill(ctx context.Context, orderID string) (float64, error) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.opts.CloseTimeout)
	defer deadline.Stop()
	for {
		status, err := s.trader.OrderStatus(ctx, s.pos.Instrument, orderID)
		if err != nil {
			metrics.VenueErrorsTotal.WithLabelValues(s.trader.Name()).Inc()
			logger.Warnf("[supervisor] %s close status check failed: %v", s.pos.ID, err)
		} else if status.State == exchange.OrderFilled {
			return status.FillPrice, nil
		} else if status.State.Terminal() {
			return 0, s.fail(ctx, fmt.Sprintf("close order %s ended %s without filling", orderID, status.State))
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline.C:
			return 0, s.fail(ctx, fmt.Sprintf("close order %s still unfilled after %s", orderID, s.opts.CloseTimeout))
		case <-ticker.C:
		}
	}
}

func (s *supervisor) settle(ctx context.Context, closePrice float64) error {
	s.pos.Status = position.StatusClosed
	s.pos.ClosedAt = time.Now()
	s.pos.ClosePrice = closePrice
	s.pos.RealizedPnL = s.pos.RealizePnL(closePrice)
	if err := s.persist(ctx); err != nil {
		return err
	}
	metrics.PositionsClosedTotal.WithLabelValues(string(s.pos.CloseReason)).Inc()
	metrics.RealizedPnL.Add(s.pos.RealizedPnL)
	logger.Infof("[supervisor] %s closed %s reason=%s price=%.6g pnl=%+.2f",
		s.pos.ID, s.pos.Instrument, s.pos.CloseReason, closePrice, s.pos.RealizedPnL)
	s.send(notifier.PositionClosed(s.pos.Instrument, string(s.pos.CloseReason), closePrice, s.pos.RealizedPnL))
	return nil
}

func (s *supervisor) settleExternalClose(ctx context.Context, markPrice float64) error {
	s.pos.Status = position.StatusClosing
	s.pos.CloseReason = position.ReasonForceClose
	s.pos.FailureNote = "position closed externally"
	if err := s.persist(ctx); err != nil {
		return err
	}
	price := markPrice
	if price <= 0 {
		price = s.pos.Entry
	}
	logger.Warnf("[supervisor] %s disappeared on venue, settling at %.6g", s.pos.ID, price)
	return s.settle(ctx, price)
}

func (s *supervisor) fail(ctx context.Context, note string) error {
	s.pos.Status = position.StatusFailed
	s.pos.FailureNote = note
	if err := s.persist(ctx); err != nil {
		return err
	}
	logger.Errorf("[supervisor] %s failed: %s", s.pos.ID, note)
	s.send(notifier.PositionFailed(s.pos.Instrument, note))
	return nil
}

// persist retries the write a bounded number of times; exhausting them is
// fatal to this supervisor.
func (s *supervisor) persist(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < s.opts.PersistRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
		if lastErr = s.store.Update(ctx, s.pos); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %v",
		errPersist, s.pos.ID, s.opts.PersistRetries, lastErr)
}

func (s *supervisor) send(msg notifier.Message) {
	if s.notify == nil {
		return
	}
	if err := s.notify.SendText(msg.RenderMarkdown()); err != nil {
		logger.Warnf("[supervisor] notify failed: %v", err)
	}
}

func describe(p position.Position) string {
	return strings.Join([]string{p.ID, p.Instrument, string(p.Direction), string(p.Status)}, " ")
}
