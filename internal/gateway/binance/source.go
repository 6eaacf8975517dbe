// Package binance adapts the Binance USDT-futures REST API as a candle
// history source and as one of the liquidity consensus venues.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"helmsman/internal/market"
	symbolpkg "helmsman/internal/pkg/symbol"
)

const maxHistoryLimit = 1500

type Source struct {
	cfg    Config
	client *futures.Client
}

var (
	_ market.Source      = (*Source)(nil)
	_ market.QuoteSource = (*Source)(nil)
)

func New(cfg Config) *Source {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{cfg: final, client: client}
}

func (s *Source) Name() string { return "binance" }

func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	sym := symbolpkg.Parse(symbol).Binance()
	if sym == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := s.client.NewKlinesService().Symbol(sym).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	return out, nil
}

// BestQuote returns the top of book. A one-sided or empty book is an error:
// consensus treats any venue failure as disagreement.
func (s *Source) BestQuote(ctx context.Context, symbol string) (market.Quote, error) {
	sym := symbolpkg.Parse(symbol).Binance()
	if sym == "" {
		return market.Quote{}, fmt.Errorf("symbol is required")
	}
	tickers, err := s.client.NewListBookTickersService().Symbol(sym).Do(ctx)
	if err != nil {
		return market.Quote{}, err
	}
	for _, t := range tickers {
		if t == nil || !strings.EqualFold(t.Symbol, sym) {
			continue
		}
		bid := parseFloat(t.BidPrice)
		ask := parseFloat(t.AskPrice)
		if bid <= 0 || ask <= 0 {
			return market.Quote{}, fmt.Errorf("binance: one-sided book for %s", sym)
		}
		return market.Quote{
			Symbol:    symbol,
			Bid:       bid,
			Ask:       ask,
			UpdatedAt: time.Now().UnixMilli(),
		}, nil
	}
	return market.Quote{}, fmt.Errorf("binance: no book ticker for %s", sym)
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
