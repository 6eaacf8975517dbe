// Package risk converts an account risk budget and a signal's stop distance
// into position size and leverage. All arithmetic runs on decimals so that
// margin and notional round-trips stay exact.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"helmsman/internal/config"
	"helmsman/internal/market"
	"helmsman/internal/signal"
)

// Plan is an accepted sizing decision. Invariants: Margin never exceeds
// equity multiplied by the configured risk percentage, and Leverage never
// exceeds the cap of its tier.
type Plan struct {
	Notional    float64
	RawNotional float64 // before any leverage clamp, for observability
	Quantity    float64
	Leverage    int
	Tier        Tier
	Margin      float64
}

type Sizer struct {
	cfg config.RiskConfig
}

func NewSizer(cfg config.RiskConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// Size computes the position plan for a signal. candles feed the volatility
// classification; equity is the current account equity in quote currency.
//
// riskAmount = equity x riskPct, rawNotional = riskAmount / stopDistance.
// The leverage implied by holding margin at the risk amount is
// 1/stopDistance; when the tier cap binds, notional is recomputed downward
// to riskAmount x cap so that margin stays exactly at the risk budget.
// The clamp never raises risk to compensate.
func (s *Sizer) Size(sig signal.Signal, equity float64, candles []market.Candle) (Plan, error) {
	if equity < s.cfg.MinEquity {
		return Plan{}, fmt.Errorf("risk: equity %.2f below minimum %.2f", equity, s.cfg.MinEquity)
	}
	stopDist := decimal.NewFromFloat(sig.StopDistance())
	if stopDist.IsZero() {
		return Plan{}, fmt.Errorf("risk: zero stop distance for %s", sig.Instrument)
	}

	riskAmount := decimal.NewFromFloat(equity).Mul(decimal.NewFromFloat(s.cfg.RiskPct))
	rawNotional := riskAmount.Div(stopDist)

	tier := ClassifyVolatility(candles, s.cfg.Volatility)
	cap := tier.Cap(s.cfg.Leverage)
	capDec := decimal.NewFromInt(int64(cap))

	// Leverage required to keep margin within the risk budget.
	implied := decimal.NewFromInt(1).Div(stopDist).Ceil()

	notional := rawNotional
	leverage := implied
	if implied.GreaterThan(capDec) {
		leverage = capDec
		notional = riskAmount.Mul(capDec)
	}

	minNotional := decimal.NewFromFloat(s.cfg.MinNotional)
	if notional.LessThan(minNotional) {
		nf, _ := notional.Float64()
		return Plan{}, fmt.Errorf("risk: notional %.2f below exchange minimum %.2f", nf, s.cfg.MinNotional)
	}

	margin := notional.Div(leverage)
	entry := decimal.NewFromFloat(sig.Entry)
	quantity := notional.Div(entry)

	notionalF, _ := notional.Float64()
	rawNotionalF, _ := rawNotional.Float64()
	quantityF, _ := quantity.Float64()
	marginF, _ := margin.Float64()
	return Plan{
		Notional:    notionalF,
		RawNotional: rawNotionalF,
		Quantity:    quantityF,
		Leverage:    int(leverage.IntPart()),
		Tier:        tier,
		Margin:      marginF,
	}, nil
}
