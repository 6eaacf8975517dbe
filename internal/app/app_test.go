package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"helmsman/internal/gateway/exchange"
	"helmsman/internal/position"
	"helmsman/internal/signal"
	"helmsman/internal/supervisor"
)

type stubTrader struct{}

func (stubTrader) Name() string { return "stub" }

func (stubTrader) SubmitEntry(context.Context, exchange.EntryOrder) (string, error) {
	return "entry-1", nil
}

func (stubTrader) OrderStatus(context.Context, string, string) (exchange.OrderStatus, error) {
	return exchange.OrderStatus{OrderID: "entry-1", State: exchange.OrderPending}, nil
}

func (stubTrader) ClosePosition(context.Context, string, signal.Direction, float64) (string, error) {
	return "close-1", nil
}

func (stubTrader) PositionState(context.Context, string) (exchange.PositionState, error) {
	return exchange.PositionState{}, nil
}

func (stubTrader) AccountEquity(context.Context) (float64, error) { return 0, nil }

func (stubTrader) MinNotional(context.Context, string) (float64, error) { return 0, nil }

type stubStore struct {
	mu        sync.Mutex
	positions map[string]position.Position
}

func newStubStore() *stubStore { return &stubStore{positions: make(map[string]position.Position)} }

func (s *stubStore) Create(_ context.Context, p position.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = p
	return nil
}

func (s *stubStore) Update(_ context.Context, p position.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	s.positions[p.ID] = p
	return nil
}

func (s *stubStore) Get(_ context.Context, id string) (position.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return position.Position{}, gorm.ErrRecordNotFound
	}
	return p, nil
}

func (s *stubStore) LoadActive(context.Context) ([]position.Position, error) {
	return nil, nil
}

func (s *stubStore) HasActiveForInstrument(context.Context, string) (bool, error) {
	return false, nil
}

func TestHandleCommandRoutesToManager(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := newStubStore()
	m := supervisor.NewManager(supervisor.Options{
		PollInterval: 5 * time.Millisecond,
		EntryTimeout: 5 * time.Second,
	}, st, stubTrader{}, nil)
	a := &App{manager: m}

	assert.Equal(t, "no positions under supervision", a.handleCommand(ctx, "/positions", nil))

	p := position.Position{
		ID:         "pos-1",
		Instrument: "BTC/USDT",
		Direction:  signal.DirectionLong,
		Status:     position.StatusPending,
		Entry:      100,
		Stop:       98,
		Target:     104,
		Quantity:   1,
		OrderID:    "entry-1",
	}
	require.NoError(t, st.Create(ctx, p))
	require.NoError(t, m.Start(ctx, p))

	assert.Equal(t, "supervising: pos-1", a.handleCommand(ctx, "/positions", nil))
	assert.Equal(t, "force close requested for pos-1", a.handleCommand(ctx, "/close", []string{"pos-1"}))
	assert.Equal(t, "no supervised position ghost", a.handleCommand(ctx, "/close", []string{"ghost"}))
	assert.Equal(t, "usage: /close <position-id>", a.handleCommand(ctx, "/close", nil))

	cancel()
	m.Wait()
}

func TestHandleCommandPausesIntake(t *testing.T) {
	a := &App{}
	ctx := context.Background()

	assert.False(t, a.paused.Load())
	assert.Equal(t, "signal intake paused", a.handleCommand(ctx, "/pause", nil))
	assert.True(t, a.paused.Load())
	assert.Equal(t, "signal intake resumed", a.handleCommand(ctx, "/resume", nil))
	assert.False(t, a.paused.Load())

	assert.Contains(t, a.handleCommand(ctx, "/help", nil), "commands:")
}
