package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"helmsman/internal/gateway/exchange"
	"helmsman/internal/position"
	"helmsman/internal/signal"
)

const closeOrderID = "close-1"

type fakeTrader struct {
	mu         sync.Mutex
	entry      exchange.OrderStatus
	state      exchange.PositionState
	closeFails int
	closeCalls int
	closeFill  float64
	closeStuck bool
}

func (f *fakeTrader) Name() string { return "fake" }

func (f *fakeTrader) SubmitEntry(context.Context, exchange.EntryOrder) (string, error) {
	return "entry-1", nil
}

func (f *fakeTrader) OrderStatus(_ context.Context, _, orderID string) (exchange.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if orderID == closeOrderID {
		if f.closeStuck {
			return exchange.OrderStatus{OrderID: orderID, State: exchange.OrderPending}, nil
		}
		return exchange.OrderStatus{OrderID: orderID, State: exchange.OrderFilled, FillPrice: f.closeFill}, nil
	}
	return f.entry, nil
}

func (f *fakeTrader) ClosePosition(context.Context, string, signal.Direction, float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if f.closeCalls <= f.closeFails {
		return "", errors.New("venue down")
	}
	return closeOrderID, nil
}

func (f *fakeTrader) PositionState(context.Context, string) (exchange.PositionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeTrader) AccountEquity(context.Context) (float64, error) { return 10000, nil }

func (f *fakeTrader) MinNotional(context.Context, string) (float64, error) { return 5, nil }

func (f *fakeTrader) setEntry(s exchange.OrderStatus) {
	f.mu.Lock()
	f.entry = s
	f.mu.Unlock()
}

func (f *fakeTrader) setMark(qty, mark float64) {
	f.mu.Lock()
	f.state = exchange.PositionState{Quantity: qty, MarkPrice: mark}
	f.mu.Unlock()
}

type fakeStore struct {
	mu        sync.Mutex
	positions map[string]position.Position
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{positions: make(map[string]position.Position)}
}

func (f *fakeStore) Create(_ context.Context, p position.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[p.ID] = p
	return nil
}

func (f *fakeStore) Update(_ context.Context, p position.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.positions[p.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	f.positions[p.ID] = p
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (position.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[id]
	if !ok {
		return position.Position{}, gorm.ErrRecordNotFound
	}
	return p, nil
}

func (f *fakeStore) LoadActive(context.Context) ([]position.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []position.Position
	for _, p := range f.positions {
		if !p.Status.Terminal() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) HasActiveForInstrument(_ context.Context, instrument string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.positions {
		if p.Instrument == instrument && !p.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) status(id string) position.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions[id].Status
}

func (f *fakeStore) get(id string) position.Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions[id]
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeNotifier) SendText(text string) error {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeNotifier) contains(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.texts {
		if strings.Contains(t, substr) {
			return true
		}
	}
	return false
}

func testOptions() Options {
	return Options{
		PollInterval:   5 * time.Millisecond,
		EntryTimeout:   150 * time.Millisecond,
		CloseRetries:   3,
		PersistRetries: 2,
	}
}

func pendingPosition(id string) position.Position {
	return position.Position{
		ID:         id,
		Instrument: "BTC/USDT",
		Direction:  signal.DirectionLong,
		Status:     position.StatusPending,
		Entry:      50000,
		Stop:       49000,
		Target:     53000,
		Quantity:   0.01,
		Notional:   500,
		Leverage:   5,
		OrderID:    "entry-1",
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestEntryFillThenStopLoss(t *testing.T) {
	trader := &fakeTrader{closeFill: 48990}
	trader.setEntry(exchange.OrderStatus{OrderID: "entry-1", State: exchange.OrderFilled, FillPrice: 50000, FilledQty: 0.01})
	trader.setMark(0.01, 49500)
	st := newFakeStore()
	notify := &fakeNotifier{}
	m := NewManager(testOptions(), st, trader, notify)

	p := pendingPosition("pos-stop")
	require.NoError(t, st.Create(context.Background(), p))
	require.NoError(t, m.Start(context.Background(), p))

	waitFor(t, func() bool { return st.status("pos-stop") == position.StatusOpen })
	trader.setMark(0.01, 48950)

	waitFor(t, func() bool { return st.status("pos-stop") == position.StatusClosed })
	m.Wait()

	got := st.get("pos-stop")
	assert.Equal(t, position.ReasonStopLoss, got.CloseReason)
	assert.InDelta(t, 48990.0, got.ClosePrice, 1e-9)
	assert.InDelta(t, (48990.0-50000.0)*0.01, got.RealizedPnL, 1e-9)
	assert.True(t, notify.contains("Opened BTC/USDT"))
	assert.True(t, notify.contains("Closed BTC/USDT"))
}

func TestTakeProfitShort(t *testing.T) {
	trader := &fakeTrader{closeFill: 2690}
	trader.setEntry(exchange.OrderStatus{OrderID: "entry-1", State: exchange.OrderFilled, FillPrice: 3000, FilledQty: 1})
	trader.setMark(-1, 2950)
	st := newFakeStore()
	m := NewManager(testOptions(), st, trader, &fakeNotifier{})

	p := pendingPosition("pos-short")
	p.Instrument = "ETH/USDT"
	p.Direction = signal.DirectionShort
	p.Entry, p.Stop, p.Target, p.Quantity = 3000, 3100, 2700, 1
	require.NoError(t, st.Create(context.Background(), p))
	require.NoError(t, m.Start(context.Background(), p))

	waitFor(t, func() bool { return st.status("pos-short") == position.StatusOpen })
	trader.setMark(-1, 2695)

	waitFor(t, func() bool { return st.status("pos-short") == position.StatusClosed })
	m.Wait()

	got := st.get("pos-short")
	assert.Equal(t, position.ReasonTakeProfit, got.CloseReason)
	assert.InDelta(t, (3000.0-2690.0)*1, got.RealizedPnL, 1e-9)
}

func TestEntryTimeoutFailsPosition(t *testing.T) {
	trader := &fakeTrader{}
	trader.setEntry(exchange.OrderStatus{OrderID: "entry-1", State: exchange.OrderPending})
	st := newFakeStore()
	notify := &fakeNotifier{}
	m := NewManager(testOptions(), st, trader, notify)

	p := pendingPosition("pos-timeout")
	require.NoError(t, st.Create(context.Background(), p))
	require.NoError(t, m.Start(context.Background(), p))

	waitFor(t, func() bool { return st.status("pos-timeout") == position.StatusFailed })
	m.Wait()

	got := st.get("pos-timeout")
	assert.Contains(t, got.FailureNote, "not filled")
	assert.True(t, notify.contains("Position failed"))
}

func TestEntryRejectedFailsPosition(t *testing.T) {
	trader := &fakeTrader{}
	trader.setEntry(exchange.OrderStatus{OrderID: "entry-1", State: exchange.OrderRejected})
	st := newFakeStore()
	m := NewManager(testOptions(), st, trader, &fakeNotifier{})

	p := pendingPosition("pos-rejected")
	require.NoError(t, st.Create(context.Background(), p))
	require.NoError(t, m.Start(context.Background(), p))

	waitFor(t, func() bool { return st.status("pos-rejected") == position.StatusFailed })
	m.Wait()
}

func TestCloseRetriesThenFails(t *testing.T) {
	trader := &fakeTrader{closeFails: 99}
	trader.setEntry(exchange.OrderStatus{OrderID: "entry-1", State: exchange.OrderFilled, FillPrice: 50000, FilledQty: 0.01})
	trader.setMark(0.01, 48000)
	st := newFakeStore()
	notify := &fakeNotifier{}
	m := NewManager(testOptions(), st, trader, notify)

	p := pendingPosition("pos-closefail")
	require.NoError(t, st.Create(context.Background(), p))
	require.NoError(t, m.Start(context.Background(), p))

	waitFor(t, func() bool { return st.status("pos-closefail") == position.StatusFailed })
	m.Wait()

	got := st.get("pos-closefail")
	assert.Contains(t, got.FailureNote, "close order failed")
	trader.mu.Lock()
	defer trader.mu.Unlock()
	assert.Equal(t, 3, trader.closeCalls)
}

func TestCloseFillTimeoutFailsPosition(t *testing.T) {
	trader := &fakeTrader{closeStuck: true}
	trader.setEntry(exchange.OrderStatus{OrderID: "entry-1", State: exchange.OrderFilled, FillPrice: 50000, FilledQty: 0.01})
	trader.setMark(0.01, 48000)
	st := newFakeStore()
	notify := &fakeNotifier{}
	opts := testOptions()
	opts.CloseTimeout = 30 * time.Millisecond
	m := NewManager(opts, st, trader, notify)

	p := pendingPosition("pos-stuck-close")
	require.NoError(t, st.Create(context.Background(), p))
	require.NoError(t, m.Start(context.Background(), p))

	waitFor(t, func() bool { return st.status("pos-stuck-close") == position.StatusFailed })
	m.Wait()

	got := st.get("pos-stuck-close")
	assert.Contains(t, got.FailureNote, "still unfilled")
	assert.True(t, notify.contains("Position failed"))
}

func TestForceClose(t *testing.T) {
	trader := &fakeTrader{closeFill: 50500}
	trader.setEntry(exchange.OrderStatus{OrderID: "entry-1", State: exchange.OrderFilled, FillPrice: 50000, FilledQty: 0.01})
	trader.setMark(0.01, 50500)
	st := newFakeStore()
	m := NewManager(testOptions(), st, trader, &fakeNotifier{})

	p := pendingPosition("pos-force")
	require.NoError(t, st.Create(context.Background(), p))
	require.NoError(t, m.Start(context.Background(), p))

	waitFor(t, func() bool { return st.status("pos-force") == position.StatusOpen })
	require.True(t, m.ForceClose("pos-force"))

	waitFor(t, func() bool { return st.status("pos-force") == position.StatusClosed })
	m.Wait()

	got := st.get("pos-force")
	assert.Equal(t, position.ReasonForceClose, got.CloseReason)
	assert.False(t, m.ForceClose("pos-force"))
}

func TestPersistenceFailureStallsSupervision(t *testing.T) {
	trader := &fakeTrader{}
	trader.setEntry(exchange.OrderStatus{OrderID: "entry-1", State: exchange.OrderFilled, FillPrice: 50000, FilledQty: 0.01})
	st := newFakeStore()
	st.updateErr = errors.New("disk full")
	notify := &fakeNotifier{}
	m := NewManager(testOptions(), st, trader, notify)

	p := pendingPosition("pos-stall")
	require.NoError(t, m.Start(context.Background(), p))
	m.Wait()

	assert.True(t, notify.contains("Supervision stalled"))
	assert.True(t, notify.contains("manual intervention required"))
}

func TestExternalCloseIsSettled(t *testing.T) {
	trader := &fakeTrader{}
	trader.setEntry(exchange.OrderStatus{OrderID: "entry-1", State: exchange.OrderFilled, FillPrice: 50000, FilledQty: 0.01})
	trader.setMark(0, 51000)
	st := newFakeStore()
	m := NewManager(testOptions(), st, trader, &fakeNotifier{})

	p := pendingPosition("pos-ext")
	require.NoError(t, st.Create(context.Background(), p))
	require.NoError(t, m.Start(context.Background(), p))

	waitFor(t, func() bool { return st.status("pos-ext") == position.StatusClosed })
	m.Wait()

	got := st.get("pos-ext")
	assert.Equal(t, position.ReasonForceClose, got.CloseReason)
	assert.InDelta(t, 51000.0, got.ClosePrice, 1e-9)
}

func TestMaxHoldCloses(t *testing.T) {
	trader := &fakeTrader{closeFill: 50100}
	trader.setEntry(exchange.OrderStatus{OrderID: "entry-1", State: exchange.OrderFilled, FillPrice: 50000, FilledQty: 0.01})
	trader.setMark(0.01, 50100)
	st := newFakeStore()
	opts := testOptions()
	opts.MaxHold = 30 * time.Millisecond
	m := NewManager(opts, st, trader, &fakeNotifier{})

	p := pendingPosition("pos-hold")
	require.NoError(t, st.Create(context.Background(), p))
	require.NoError(t, m.Start(context.Background(), p))

	waitFor(t, func() bool { return st.status("pos-hold") == position.StatusClosed })
	m.Wait()

	assert.Equal(t, position.ReasonMaxHold, st.get("pos-hold").CloseReason)
}

func TestResumeRestartsActivePositions(t *testing.T) {
	trader := &fakeTrader{closeFill: 48990}
	trader.setMark(0.01, 48900)
	st := newFakeStore()
	m := NewManager(testOptions(), st, trader, &fakeNotifier{})

	open := pendingPosition("pos-resume")
	open.Status = position.StatusOpen
	open.OpenedAt = time.Now()
	require.NoError(t, st.Create(context.Background(), open))

	closed := pendingPosition("pos-done")
	closed.Status = position.StatusClosed
	require.NoError(t, st.Create(context.Background(), closed))

	started, err := m.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, started)

	waitFor(t, func() bool { return st.status("pos-resume") == position.StatusClosed })
	m.Wait()
	assert.Equal(t, position.ReasonStopLoss, st.get("pos-resume").CloseReason)
}

func TestStartRejectsDuplicate(t *testing.T) {
	trader := &fakeTrader{}
	trader.setEntry(exchange.OrderStatus{OrderID: "entry-1", State: exchange.OrderPending})
	st := newFakeStore()
	m := NewManager(testOptions(), st, trader, &fakeNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := pendingPosition("pos-dup")
	require.NoError(t, st.Create(ctx, p))
	require.NoError(t, m.Start(ctx, p))
	err := m.Start(ctx, p)
	assert.Error(t, err)
	assert.Equal(t, fmt.Sprintf("supervisor: position %s already supervised", p.ID), err.Error())

	cancel()
	m.Wait()
}
