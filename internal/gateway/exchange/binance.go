package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"helmsman/internal/logger"
	"helmsman/internal/pkg/circuit"
	"helmsman/internal/pkg/retry"
	symbolpkg "helmsman/internal/pkg/symbol"
	"helmsman/internal/signal"
)

const equityAsset = "USDT"

// ErrCircuitOpen is returned without touching the venue while the breaker
// is cooling down.
var ErrCircuitOpen = errors.New("exchange circuit open")

type BinanceConfig struct {
	RESTBaseURL string
	APIKey      string
	APISecret   string
	HTTPTimeout time.Duration

	Retry            retry.Policy
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c *BinanceConfig) withDefaults() BinanceConfig {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	if out.BreakerThreshold <= 0 {
		out.BreakerThreshold = 5
	}
	if out.BreakerCooldown <= 0 {
		out.BreakerCooldown = 30 * time.Second
	}
	return out
}

// Binance trades USDT-margined futures through the official REST API.
type Binance struct {
	cfg     BinanceConfig
	client  *futures.Client
	breaker *circuit.Breaker

	infoMu    sync.Mutex
	symInfo   map[string]futures.Symbol
	infoAsOf  time.Time
	infoTTL   time.Duration
	leverages sync.Map
}

var _ Trader = (*Binance)(nil)

func NewBinance(cfg BinanceConfig) (*Binance, error) {
	final := cfg.withDefaults()
	if final.APIKey == "" || final.APISecret == "" {
		return nil, fmt.Errorf("binance: api key and secret are required")
	}
	client := futures.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Binance{
		cfg:     final,
		client:  client,
		breaker: circuit.NewBreaker("binance-trader", final.BreakerThreshold, final.BreakerCooldown),
		symInfo: make(map[string]futures.Symbol),
		infoTTL: time.Hour,
	}, nil
}

func (b *Binance) Name() string { return "binance" }

// call funnels every venue request through the breaker and retry policy.
func (b *Binance) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.breaker.Allow() {
		return ErrCircuitOpen
	}
	err := b.cfg.Retry.Do(ctx, fn)
	if err != nil {
		b.breaker.RecordFailure()
		return err
	}
	b.breaker.RecordSuccess()
	return nil
}

func (b *Binance) SubmitEntry(ctx context.Context, order EntryOrder) (string, error) {
	sym := symbolpkg.Parse(order.Instrument).Binance()
	if sym == "" {
		return "", fmt.Errorf("binance: invalid instrument %q", order.Instrument)
	}
	if order.Quantity <= 0 {
		return "", fmt.Errorf("binance: non-positive quantity")
	}
	if err := b.ensureLeverage(ctx, sym, order.Leverage); err != nil {
		return "", err
	}
	qty, err := b.formatQuantity(ctx, sym, order.Quantity)
	if err != nil {
		return "", err
	}
	side := futures.SideTypeBuy
	if order.Direction == signal.DirectionShort {
		side = futures.SideTypeSell
	}
	var resp *futures.CreateOrderResponse
	err = b.call(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = b.client.NewCreateOrderService().
			Symbol(sym).
			Side(side).
			Type(futures.OrderTypeMarket).
			Quantity(qty).
			Do(ctx)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("binance: entry order %s %s failed: %w", sym, side, err)
	}
	orderID := strconv.FormatInt(resp.OrderID, 10)
	logger.Infof("[binance] entry submitted %s %s qty=%s order=%s", sym, side, qty, orderID)
	return orderID, nil
}

func (b *Binance) OrderStatus(ctx context.Context, instrument, orderID string) (OrderStatus, error) {
	sym := symbolpkg.Parse(instrument).Binance()
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return OrderStatus{}, fmt.Errorf("binance: invalid order id %q: %w", orderID, err)
	}
	var ord *futures.Order
	err = b.call(ctx, func(ctx context.Context) error {
		var callErr error
		ord, callErr = b.client.NewGetOrderService().Symbol(sym).OrderID(id).Do(ctx)
		return callErr
	})
	if err != nil {
		return OrderStatus{}, err
	}
	return OrderStatus{
		OrderID:   orderID,
		State:     mapOrderState(ord.Status),
		FillPrice: parseFloat(ord.AvgPrice),
		FilledQty: parseFloat(ord.ExecutedQuantity),
	}, nil
}

func (b *Binance) ClosePosition(ctx context.Context, instrument string, direction signal.Direction, quantity float64) (string, error) {
	sym := symbolpkg.Parse(instrument).Binance()
	if sym == "" {
		return "", fmt.Errorf("binance: invalid instrument %q", instrument)
	}
	qty, err := b.formatQuantity(ctx, sym, quantity)
	if err != nil {
		return "", err
	}
	// Exit side is the opposite of the held direction.
	side := futures.SideTypeSell
	if direction == signal.DirectionShort {
		side = futures.SideTypeBuy
	}
	var resp *futures.CreateOrderResponse
	err = b.call(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = b.client.NewCreateOrderService().
			Symbol(sym).
			Side(side).
			Type(futures.OrderTypeMarket).
			Quantity(qty).
			ReduceOnly(true).
			Do(ctx)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("binance: close order %s %s failed: %w", sym, side, err)
	}
	orderID := strconv.FormatInt(resp.OrderID, 10)
	logger.Infof("[binance] close submitted %s %s qty=%s order=%s", sym, side, qty, orderID)
	return orderID, nil
}

func (b *Binance) PositionState(ctx context.Context, instrument string) (PositionState, error) {
	sym := symbolpkg.Parse(instrument).Binance()
	var risks []*futures.PositionRisk
	err := b.call(ctx, func(ctx context.Context) error {
		var callErr error
		risks, callErr = b.client.NewGetPositionRiskService().Symbol(sym).Do(ctx)
		return callErr
	})
	if err != nil {
		return PositionState{}, err
	}
	for _, r := range risks {
		if r == nil || !strings.EqualFold(r.Symbol, sym) {
			continue
		}
		return PositionState{
			Instrument:    instrument,
			Quantity:      parseFloat(r.PositionAmt),
			EntryPrice:    parseFloat(r.EntryPrice),
			MarkPrice:     parseFloat(r.MarkPrice),
			UnrealizedPnL: parseFloat(r.UnRealizedProfit),
		}, nil
	}
	return PositionState{Instrument: instrument}, nil
}

func (b *Binance) AccountEquity(ctx context.Context) (float64, error) {
	var balances []*futures.Balance
	err := b.call(ctx, func(ctx context.Context) error {
		var callErr error
		balances, callErr = b.client.NewGetBalanceService().Do(ctx)
		return callErr
	})
	if err != nil {
		return 0, err
	}
	for _, bal := range balances {
		if bal == nil || !strings.EqualFold(bal.Asset, equityAsset) {
			continue
		}
		return parseFloat(bal.CrossWalletBalance), nil
	}
	return 0, fmt.Errorf("binance: no %s balance in account", equityAsset)
}

func (b *Binance) MinNotional(ctx context.Context, instrument string) (float64, error) {
	sym := symbolpkg.Parse(instrument).Binance()
	info, err := b.symbolInfo(ctx, sym)
	if err != nil {
		return 0, err
	}
	if f := info.MinNotionalFilter(); f != nil {
		return parseFloat(f.Notional), nil
	}
	return 0, nil
}

func (b *Binance) ensureLeverage(ctx context.Context, sym string, leverage int) error {
	if leverage <= 0 {
		leverage = 1
	}
	if prev, ok := b.leverages.Load(sym); ok && prev.(int) == leverage {
		return nil
	}
	err := b.call(ctx, func(ctx context.Context) error {
		_, callErr := b.client.NewChangeLeverageService().Symbol(sym).Leverage(leverage).Do(ctx)
		return callErr
	})
	if err != nil {
		return fmt.Errorf("binance: set leverage %dx on %s failed: %w", leverage, sym, err)
	}
	b.leverages.Store(sym, leverage)
	return nil
}

// formatQuantity rounds to the symbol's quantity precision. Rounding down
// keeps the order inside the venue's lot-size filter.
func (b *Binance) formatQuantity(ctx context.Context, sym string, qty float64) (string, error) {
	info, err := b.symbolInfo(ctx, sym)
	if err != nil {
		return "", err
	}
	precision := info.QuantityPrecision
	if precision < 0 {
		precision = 0
	}
	scale := 1.0
	for i := 0; i < precision; i++ {
		scale *= 10
	}
	floored := float64(int64(qty*scale)) / scale
	if floored <= 0 {
		return "", fmt.Errorf("binance: quantity %v rounds to zero at precision %d", qty, precision)
	}
	return strconv.FormatFloat(floored, 'f', precision, 64), nil
}

func (b *Binance) symbolInfo(ctx context.Context, sym string) (futures.Symbol, error) {
	b.infoMu.Lock()
	defer b.infoMu.Unlock()
	if info, ok := b.symInfo[sym]; ok && time.Since(b.infoAsOf) < b.infoTTL {
		return info, nil
	}
	var exInfo *futures.ExchangeInfo
	err := b.call(ctx, func(ctx context.Context) error {
		var callErr error
		exInfo, callErr = b.client.NewExchangeInfoService().Do(ctx)
		return callErr
	})
	if err != nil {
		// Serve stale filters rather than blocking trading on a metadata call.
		if info, ok := b.symInfo[sym]; ok {
			return info, nil
		}
		return futures.Symbol{}, err
	}
	b.symInfo = make(map[string]futures.Symbol, len(exInfo.Symbols))
	for _, s := range exInfo.Symbols {
		b.symInfo[s.Symbol] = s
	}
	b.infoAsOf = time.Now()
	info, ok := b.symInfo[sym]
	if !ok {
		return futures.Symbol{}, fmt.Errorf("binance: unknown symbol %s", sym)
	}
	return info, nil
}

func mapOrderState(status futures.OrderStatusType) OrderState {
	switch status {
	case futures.OrderStatusTypeFilled:
		return OrderFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		return OrderCanceled
	case futures.OrderStatusTypeRejected:
		return OrderRejected
	default:
		return OrderPending
	}
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
