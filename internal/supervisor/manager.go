package supervisor

import (
	"context"
	"fmt"
	"sync"

	"helmsman/internal/gateway/exchange"
	"helmsman/internal/gateway/notifier"
	"helmsman/internal/logger"
	"helmsman/internal/metrics"
	"helmsman/internal/position"
	"helmsman/internal/store"
)

// Manager starts and tracks one supervisor goroutine per position and is
// the only place force-close requests are routed through.
type Manager struct {
	opts   Options
	store  store.PositionStore
	trader exchange.Trader
	notify notifier.TextNotifier

	mu     sync.Mutex
	active map[string]chan struct{}
	wg     sync.WaitGroup
}

func NewManager(opts Options, st store.PositionStore, trader exchange.Trader, notify notifier.TextNotifier) *Manager {
	return &Manager{
		opts:   opts.withDefaults(),
		store:  st,
		trader: trader,
		notify: notify,
		active: make(map[string]chan struct{}),
	}
}

// Start begins supervising p in its own goroutine. The position must
// already be persisted.
func (m *Manager) Start(ctx context.Context, p position.Position) error {
	if p.Status.Terminal() {
		return fmt.Errorf("supervisor: position %s is already %s", p.ID, p.Status)
	}
	force := make(chan struct{}, 1)

	m.mu.Lock()
	if _, dup := m.active[p.ID]; dup {
		m.mu.Unlock()
		return fmt.Errorf("supervisor: position %s already supervised", p.ID)
	}
	m.active[p.ID] = force
	m.mu.Unlock()

	metrics.PositionsOpen.Inc()
	logger.Infof("[supervisor] start %s", describe(p))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.active, p.ID)
			m.mu.Unlock()
			metrics.PositionsOpen.Dec()
		}()
		s := &supervisor{
			opts:   m.opts,
			store:  m.store,
			trader: m.trader,
			notify: m.notify,
			force:  force,
			pos:    p,
		}
		s.run(ctx)
	}()
	return nil
}

// ForceClose asks the supervisor owning id to exit at market. Reports
// whether a live supervisor received the request.
func (m *Manager) ForceClose(id string) bool {
	m.mu.Lock()
	force, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case force <- struct{}{}:
	default:
	}
	return true
}

// Resume restarts supervision for every non-terminal persisted position.
// Called once at boot, before new signals are accepted.
func (m *Manager) Resume(ctx context.Context) (int, error) {
	positions, err := m.store.LoadActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("supervisor: load active positions: %w", err)
	}
	started := 0
	for _, p := range positions {
		if err := m.Start(ctx, p); err != nil {
			logger.Errorf("[supervisor] resume %s failed: %v", p.ID, err)
			continue
		}
		started++
	}
	if started > 0 {
		logger.Infof("[supervisor] resumed %d position(s)", started)
	}
	return started, nil
}

// ActiveIDs lists the positions currently under supervision.
func (m *Manager) ActiveIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.active))
	for id := range m.active {
		out = append(out, id)
	}
	return out
}

// Wait blocks until every supervisor goroutine has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}
