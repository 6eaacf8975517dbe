package market

import "context"

// Quote is the best executable price snapshot from one venue.
type Quote struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	UpdatedAt int64
}

// Mid returns the bid/ask midpoint, falling back to the last trade when the
// book side is missing.
func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// Source supplies recent OHLC history for a symbol.
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// QuoteSource supplies a live best-price quote for a symbol.
type QuoteSource interface {
	Name() string
	BestQuote(ctx context.Context, symbol string) (Quote, error)
}
