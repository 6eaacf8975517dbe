package risk

import (
	"github.com/markcheno/go-talib"

	"helmsman/internal/config"
	"helmsman/internal/market"
)

// Tier is the instrument's volatility class. Each tier carries its own
// configured leverage cap; the engine imposes no ordering between caps.
type Tier string

const (
	TierSmall  Tier = "small"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

const atrPeriod = 14

// ClassifyVolatility buckets an instrument by ATR as a fraction of the last
// close. Too little history to compute ATR classifies as high volatility,
// which keeps the unknown case on the most defensive cap.
func ClassifyVolatility(candles []market.Candle, bounds config.VolatilityBounds) Tier {
	if len(candles) <= atrPeriod {
		return TierHigh
	}
	high := make([]float64, len(candles))
	low := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		high[i] = c.High
		low[i] = c.Low
		closes[i] = c.Close
	}
	atr := talib.Atr(high, low, closes, atrPeriod)
	last := closes[len(closes)-1]
	if last <= 0 {
		return TierHigh
	}
	atrPct := atr[len(atr)-1] / last * 100
	switch {
	case atrPct < bounds.MediumATRPct:
		return TierSmall
	case atrPct < bounds.HighATRPct:
		return TierMedium
	default:
		return TierHigh
	}
}

// Cap returns the configured leverage cap for the tier.
func (t Tier) Cap(caps config.LeverageCaps) int {
	switch t {
	case TierSmall:
		return caps.Small
	case TierMedium:
		return caps.Medium
	default:
		return caps.High
	}
}
