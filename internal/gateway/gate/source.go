// Package gate adapts the Gate.io USDT-futures REST API as the second
// liquidity consensus venue and as a fallback candle source.
package gate

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/antihax/optional"
	gateapi "github.com/gateio/gateapi-go/v7"

	"helmsman/internal/market"
	symbolpkg "helmsman/internal/pkg/symbol"
)

const (
	gateSettle      = "usdt"
	maxHistoryLimit = 2000
)

type Source struct {
	cfg  Config
	rest *gateapi.APIClient
}

var (
	_ market.Source      = (*Source)(nil)
	_ market.QuoteSource = (*Source)(nil)
)

func New(cfg Config) *Source {
	final := cfg.withDefaults()
	conf := gateapi.NewConfiguration()
	conf.BasePath = final.RESTBaseURL
	conf.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{cfg: final, rest: gateapi.NewAPIClient(conf)}
}

func (s *Source) Name() string { return "gate" }

func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	contract := symbolpkg.Parse(symbol).Gate()
	if contract == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	opts := &gateapi.ListFuturesCandlesticksOpts{
		Limit:    optional.NewInt32(int32(limit)),
		Interval: optional.NewString(interval),
	}
	kls, _, err := s.rest.FuturesApi.ListFuturesCandlesticks(ctx, gateSettle, contract, opts)
	if err != nil {
		return nil, err
	}
	barMillis := intervalDuration(interval).Milliseconds()
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		openTime := int64(kl.T) * 1000
		out = append(out, market.Candle{
			OpenTime:  openTime,
			CloseTime: openTime + barMillis,
			Open:      parseFloat(kl.O),
			High:      parseFloat(kl.H),
			Low:       parseFloat(kl.L),
			Close:     parseFloat(kl.C),
			Volume:    parseFloat(kl.Sum),
		})
	}
	return out, nil
}

// BestQuote reads the top of the futures order book. Missing depth on
// either side fails the call so consensus fails closed.
func (s *Source) BestQuote(ctx context.Context, symbol string) (market.Quote, error) {
	contract := symbolpkg.Parse(symbol).Gate()
	if contract == "" {
		return market.Quote{}, fmt.Errorf("symbol is required")
	}
	opts := &gateapi.ListFuturesOrderBookOpts{
		Limit: optional.NewInt32(1),
	}
	book, _, err := s.rest.FuturesApi.ListFuturesOrderBook(ctx, gateSettle, contract, opts)
	if err != nil {
		return market.Quote{}, err
	}
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return market.Quote{}, fmt.Errorf("gate: one-sided book for %s", contract)
	}
	bid := parseFloat(book.Bids[0].P)
	ask := parseFloat(book.Asks[0].P)
	if bid <= 0 || ask <= 0 {
		return market.Quote{}, fmt.Errorf("gate: invalid book prices for %s", contract)
	}
	return market.Quote{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		UpdatedAt: time.Now().UnixMilli(),
	}, nil
}

func intervalDuration(interval string) time.Duration {
	if interval == "" {
		return time.Minute
	}
	unit := interval[len(interval)-1]
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return time.Minute
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second
	case 'm':
		return time.Duration(n) * time.Minute
	case 'h':
		return time.Duration(n) * time.Hour
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	default:
		return time.Minute
	}
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
