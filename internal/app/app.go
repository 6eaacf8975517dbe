// Package app wires the engine together and owns its run loop.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"helmsman/internal/config"
	"helmsman/internal/consensus"
	"helmsman/internal/feed"
	binancegw "helmsman/internal/gateway/binance"
	"helmsman/internal/gateway/exchange"
	gategw "helmsman/internal/gateway/gate"
	"helmsman/internal/gateway/notifier"
	"helmsman/internal/logger"
	"helmsman/internal/metrics"
	"helmsman/internal/orchestrator"
	"helmsman/internal/pkg/retry"
	"helmsman/internal/risk"
	"helmsman/internal/store"
	"helmsman/internal/supervisor"
)

type App struct {
	cfg *config.Config

	positions *store.Store
	decisions *store.DecisionLog
	trader    exchange.Trader
	manager   *supervisor.Manager
	orch      *orchestrator.Orchestrator
	feed      *feed.Client
	notify    notifier.TextNotifier
	tg        *notifier.Telegram

	paused  atomic.Bool
	cfgPath string
}

func New(cfg *config.Config, cfgPath string) (*App, error) {
	retryPolicy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay(),
		MaxDelay:    cfg.Retry.MaxDelay(),
	}

	positions, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open position store: %w", err)
	}
	decisions, err := store.OpenDecisionLog(decisionLogPath(cfg.Store.Path))
	if err != nil {
		positions.Close()
		return nil, fmt.Errorf("open decision log: %w", err)
	}

	binanceSrc := binancegw.New(binancegw.Config{
		RESTBaseURL: cfg.Exchange.RESTBaseURL,
		HTTPTimeout: cfg.Exchange.Timeout(),
	})
	gateSrc := gategw.New(gategw.Config{
		RESTBaseURL: cfg.Gate.RESTBaseURL,
		HTTPTimeout: cfg.Gate.Timeout(),
	})
	checker, err := consensus.NewChecker(cfg.Consensus, binanceSrc, gateSrc)
	if err != nil {
		positions.Close()
		decisions.Close()
		return nil, fmt.Errorf("build consensus checker: %w", err)
	}

	trader, err := exchange.NewBinance(exchange.BinanceConfig{
		RESTBaseURL: cfg.Exchange.RESTBaseURL,
		APIKey:      cfg.Exchange.APIKey,
		APISecret:   cfg.Exchange.APISecret,
		HTTPTimeout: cfg.Exchange.Timeout(),
		Retry:       retryPolicy,
	})
	if err != nil {
		positions.Close()
		decisions.Close()
		return nil, fmt.Errorf("build trader: %w", err)
	}

	var notify notifier.TextNotifier = notifier.Nop{}
	var tg *notifier.Telegram
	if cfg.Notify.Telegram.Enabled {
		tg = notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
		notify = tg
	}

	manager := supervisor.NewManager(supervisor.Options{
		PollInterval:   cfg.Supervisor.PollInterval(),
		EntryTimeout:   cfg.Supervisor.EntryTimeout(),
		CloseTimeout:   cfg.Supervisor.CloseTimeout(),
		CloseRetries:   cfg.Supervisor.CloseRetries,
		PersistRetries: cfg.Supervisor.PersistRetries,
		MaxHold:        cfg.Supervisor.MaxHold(),
	}, positions, trader, notify)

	orch := orchestrator.New(orchestrator.Params{
		Signals:   cfg.Signals,
		Backtest:  cfg.Backtest,
		Checker:   checker,
		History:   binanceSrc,
		Sizer:     risk.NewSizer(cfg.Risk),
		Trader:    trader,
		Positions: positions,
		Decisions: decisions,
		Manager:   manager,
	})

	feedClient, err := feed.NewClient(feed.Config{
		APIURL:    cfg.Signals.APIURL,
		DedupeTTL: cfg.Signals.DedupeTTL(),
		Retry:     retryPolicy,
	})
	if err != nil {
		positions.Close()
		decisions.Close()
		return nil, fmt.Errorf("build feed client: %w", err)
	}

	return &App{
		cfg:       cfg,
		positions: positions,
		decisions: decisions,
		trader:    trader,
		manager:   manager,
		orch:      orch,
		feed:      feedClient,
		notify:    notify,
		tg:        tg,
		cfgPath:   cfgPath,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsSrv *http.Server
	if addr := a.cfg.App.MetricsAddr; addr != "" {
		metricsSrv = metrics.Serve(addr)
		logger.Infof("[app] metrics on %s/metrics", addr)
	}

	// Resume interrupted positions before any new signal is accepted.
	if _, err := a.manager.Resume(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.pollSignals(gctx) })
	g.Go(func() error { return a.watchConfig(gctx) })
	if a.tg != nil {
		g.Go(func() error { return a.tg.PollCommands(gctx, a.handleCommand) })
	}

	err := g.Wait()
	logger.Infof("[app] shutting down, waiting for supervisors")
	a.manager.Wait()
	if metricsSrv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutCtx)
	}
	a.decisions.Close()
	a.positions.Close()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// pollSignals drives the engine: fetch, then decide each fresh signal
// concurrently. HandleSignal enforces its own concurrency bounds.
func (a *App) pollSignals(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Signals.PollInterval())
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if a.paused.Load() {
			continue
		}
		sigs, err := a.feed.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warnf("[app] feed poll failed: %v", err)
			continue
		}
		for _, sig := range sigs {
			sig := sig
			wg.Add(1)
			go func() {
				defer wg.Done()
				a.orch.HandleSignal(ctx, sig)
			}()
		}
	}
}

// handleCommand services operator chat commands: pausing signal intake,
// listing supervised positions, and forcing a position closed.
func (a *App) handleCommand(_ context.Context, command string, args []string) string {
	switch command {
	case "/pause":
		a.paused.Store(true)
		logger.Infof("[app] signal intake paused by operator")
		return "signal intake paused"
	case "/resume":
		a.paused.Store(false)
		logger.Infof("[app] signal intake resumed by operator")
		return "signal intake resumed"
	case "/positions":
		ids := a.manager.ActiveIDs()
		if len(ids) == 0 {
			return "no positions under supervision"
		}
		return "supervising: " + strings.Join(ids, ", ")
	case "/close":
		if len(args) == 0 {
			return "usage: /close <position-id>"
		}
		if a.manager.ForceClose(args[0]) {
			return "force close requested for " + args[0]
		}
		return "no supervised position " + args[0]
	}
	return "commands: /pause /resume /positions /close <position-id>"
}

// watchConfig picks up log-level and decision-threshold changes without a
// restart. Everything else in the config stays fixed for the process
// lifetime.
func (a *App) watchConfig(ctx context.Context) error {
	if a.cfgPath == "" {
		<-ctx.Done()
		return ctx.Err()
	}
	updates, err := config.Watch(ctx, a.cfgPath)
	if err != nil {
		logger.Warnf("[app] config watch unavailable: %v", err)
		<-ctx.Done()
		return ctx.Err()
	}
	last := a.cfg
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cfg, ok := <-updates:
			if !ok {
				<-ctx.Done()
				return ctx.Err()
			}
			if cfg.App.LogLevel != last.App.LogLevel {
				logger.Infof("[app] log level -> %s", cfg.App.LogLevel)
				logger.SetLevel(cfg.App.LogLevel)
			}
			if cfg.Signals != last.Signals || cfg.Backtest != last.Backtest {
				a.orch.UpdateThresholds(cfg.Signals, cfg.Backtest)
				logger.Infof("[app] decision thresholds refreshed")
			}
			last = cfg
		}
	}
}

func decisionLogPath(positionPath string) string {
	if positionPath == "" {
		return "data/decisions.db"
	}
	return positionPath + ".decisions"
}
