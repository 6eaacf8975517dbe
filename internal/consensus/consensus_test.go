package consensus

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmsman/internal/config"
	"helmsman/internal/market"
)

type stubSource struct {
	name  string
	price float64
	err   error
}

func (s stubSource) Name() string { return s.name }

func (s stubSource) BestQuote(context.Context, string) (market.Quote, error) {
	if s.err != nil {
		return market.Quote{}, s.err
	}
	return market.Quote{Bid: s.price, Ask: s.price}, nil
}

func newChecker(t *testing.T, tolerancePct float64, sources ...market.QuoteSource) *Checker {
	t.Helper()
	c, err := NewChecker(config.ConsensusConfig{TolerancePct: tolerancePct, TimeoutSeconds: 1}, sources...)
	require.NoError(t, err)
	return c
}

func TestCheckAgreement(t *testing.T) {
	c := newChecker(t, 0.5,
		stubSource{name: "binance", price: 100.0},
		stubSource{name: "gate", price: 100.2},
	)
	rep := c.Check(context.Background(), "BTC/USDT")
	assert.True(t, rep.Agreement)
	assert.InDelta(t, 0.2, rep.MaxDeviationPct, 1e-9)
	assert.Equal(t, []string{"binance", "gate"}, rep.Sources)
}

func TestCheckDivergenceRejected(t *testing.T) {
	// 100.0 vs 100.6 at 0.5% tolerance: 0.6% deviation, signal rejected.
	c := newChecker(t, 0.5,
		stubSource{name: "binance", price: 100.0},
		stubSource{name: "gate", price: 100.6},
	)
	rep := c.Check(context.Background(), "BTC/USDT")
	assert.False(t, rep.Agreement)
	assert.InDelta(t, 0.6, rep.MaxDeviationPct, 1e-9)
	assert.Contains(t, rep.Reason, "exceeds")
}

func TestCheckToleranceBoundaryInclusive(t *testing.T) {
	// Exactly at tolerance is agreement; one tick above is not.
	atBoundary := newChecker(t, 0.5,
		stubSource{name: "a", price: 100.0},
		stubSource{name: "b", price: 100.5},
	)
	rep := atBoundary.Check(context.Background(), "ETH/USDT")
	assert.True(t, rep.Agreement)

	above := newChecker(t, 0.5,
		stubSource{name: "a", price: 100.0},
		stubSource{name: "b", price: 100.51},
	)
	rep = above.Check(context.Background(), "ETH/USDT")
	assert.False(t, rep.Agreement)
}

func TestCheckFailsClosedOnSourceError(t *testing.T) {
	c := newChecker(t, 0.5,
		stubSource{name: "binance", price: 100.0},
		stubSource{name: "gate", err: fmt.Errorf("connection refused")},
	)
	rep := c.Check(context.Background(), "BTC/USDT")
	assert.False(t, rep.Agreement)
	assert.Equal(t, "gate", rep.FailedSource)
	assert.Contains(t, rep.Reason, "unreachable")
}

func TestCheckRejectsZeroPrice(t *testing.T) {
	c := newChecker(t, 0.5,
		stubSource{name: "binance", price: 100.0},
		stubSource{name: "gate", price: 0},
	)
	rep := c.Check(context.Background(), "BTC/USDT")
	assert.False(t, rep.Agreement)
	assert.Equal(t, "gate", rep.FailedSource)
}

func TestNewCheckerRequiresTwoSources(t *testing.T) {
	_, err := NewChecker(config.ConsensusConfig{TolerancePct: 0.5}, stubSource{name: "only"})
	assert.Error(t, err)
}
