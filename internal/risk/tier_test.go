package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"helmsman/internal/config"
	"helmsman/internal/market"
)

func flatRangeCandles(n int, close, rangeWidth float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{
			Open:  close,
			High:  close + rangeWidth/2,
			Low:   close - rangeWidth/2,
			Close: close,
		}
	}
	return out
}

func TestClassifyVolatilityTiers(t *testing.T) {
	bounds := config.VolatilityBounds{MediumATRPct: 1.0, HighATRPct: 2.5}

	// Constant true range makes ATR converge to the bar range.
	assert.Equal(t, TierSmall, ClassifyVolatility(flatRangeCandles(60, 100, 0.4), bounds))
	assert.Equal(t, TierMedium, ClassifyVolatility(flatRangeCandles(60, 100, 1.5), bounds))
	assert.Equal(t, TierHigh, ClassifyVolatility(flatRangeCandles(60, 100, 3.0), bounds))
}

func TestClassifyVolatilityShortHistoryIsHigh(t *testing.T) {
	bounds := config.VolatilityBounds{MediumATRPct: 1.0, HighATRPct: 2.5}
	assert.Equal(t, TierHigh, ClassifyVolatility(flatRangeCandles(10, 100, 0.1), bounds))
	assert.Equal(t, TierHigh, ClassifyVolatility(nil, bounds))
}

func TestTierCap(t *testing.T) {
	caps := config.LeverageCaps{Small: 5, Medium: 4, High: 3}
	assert.Equal(t, 5, TierSmall.Cap(caps))
	assert.Equal(t, 4, TierMedium.Cap(caps))
	assert.Equal(t, 3, TierHigh.Cap(caps))
	assert.Equal(t, 3, Tier("unknown").Cap(caps))
}
