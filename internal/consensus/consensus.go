package consensus

import (
	"context"
	"fmt"

	"helmsman/internal/config"
	"helmsman/internal/logger"
	"helmsman/internal/market"
)

// Report is the transient outcome of one cross-venue liquidity check.
// Agreement is the only field entry gating may act on; the rest is for
// observability.
type Report struct {
	Agreement       bool
	MaxDeviationPct float64
	Sources         []string
	FailedSource    string
	Reason          string
}

// Checker compares the best executable price of one instrument across at
// least two independent venues. A venue failure is a rejection, not a
// retryable error: stale liquidity data is worse than a missed trade.
type Checker struct {
	sources   []market.QuoteSource
	tolerance float64
	timeout   config.ConsensusConfig
}

func NewChecker(cfg config.ConsensusConfig, sources ...market.QuoteSource) (*Checker, error) {
	if len(sources) < 2 {
		return nil, fmt.Errorf("consensus: at least two price sources required, got %d", len(sources))
	}
	return &Checker{
		sources:   sources,
		tolerance: cfg.TolerancePct,
		timeout:   cfg,
	}, nil
}

// Check queries every source and reports agreement when the maximum pairwise
// deviation stays within tolerance. The boundary is inclusive: a deviation
// exactly at the tolerance still counts as agreement.
func (c *Checker) Check(ctx context.Context, instrument string) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout.Timeout())
	defer cancel()

	names := make([]string, 0, len(c.sources))
	prices := make([]float64, 0, len(c.sources))
	for _, src := range c.sources {
		names = append(names, src.Name())
		quote, err := src.BestQuote(ctx, instrument)
		if err != nil {
			logger.Warnf("consensus: source %s failed for %s: %v", src.Name(), instrument, err)
			return Report{
				Agreement:    false,
				Sources:      names,
				FailedSource: src.Name(),
				Reason:       fmt.Sprintf("source %s unreachable: %v", src.Name(), err),
			}
		}
		price := quote.Mid()
		if price <= 0 {
			return Report{
				Agreement:    false,
				Sources:      names,
				FailedSource: src.Name(),
				Reason:       fmt.Sprintf("source %s returned no price for %s", src.Name(), instrument),
			}
		}
		prices = append(prices, price)
	}

	maxDev := maxPairwiseDeviationPct(prices)
	if maxDev <= c.tolerance {
		return Report{
			Agreement:       true,
			MaxDeviationPct: maxDev,
			Sources:         names,
			Reason:          fmt.Sprintf("max deviation %.4f%% within %.4f%%", maxDev, c.tolerance),
		}
	}
	return Report{
		Agreement:       false,
		MaxDeviationPct: maxDev,
		Sources:         names,
		Reason:          fmt.Sprintf("max deviation %.4f%% exceeds %.4f%%", maxDev, c.tolerance),
	}
}

// maxPairwiseDeviationPct measures each pair relative to the lower price
// of the pair.
func maxPairwiseDeviationPct(prices []float64) float64 {
	var maxDev float64
	for i := 0; i < len(prices); i++ {
		for j := i + 1; j < len(prices); j++ {
			lo, hi := prices[i], prices[j]
			if lo > hi {
				lo, hi = hi, lo
			}
			if lo <= 0 {
				continue
			}
			dev := (hi - lo) / lo * 100
			if dev > maxDev {
				maxDev = dev
			}
		}
	}
	return maxDev
}
