// Package backtest replays a short window of recent candles against a
// candidate signal's entry rule and scores the outcome. It is a pure gate:
// identical input always produces the identical result, so every accept or
// reject is auditable after the fact.
package backtest

import (
	"fmt"

	"helmsman/internal/config"
	"helmsman/internal/market"
	"helmsman/internal/signal"
)

const ReasonInsufficientSample = "insufficient sample"

// Result is the tagged outcome of one validation run. Accepted carries the
// expectancy evidence; a rejection always carries a reason.
type Result struct {
	Accepted   bool
	Expectancy float64
	SampleSize int
	Wins       int
	Losses     int
	Reason     string
}

type outcome int

const (
	outcomeUnresolved outcome = iota
	outcomeWin
	outcomeLoss
)

// Validate simulates entries at the signal's entry level over the candle
// window and resolves each one forward against the signal's stop and target.
// Expectancy is expressed in fractions of risked capital: a win is worth
// targetDistance/stopDistance, a loss exactly 1. Within any single bar the
// stop is checked before the target, matching the supervisor's live
// priority, so a bar that spans both counts as a loss.
//
// Acceptance requires sampleSize >= MinSamples (a sample exactly at the
// minimum qualifies) and expectancy >= MinExpectancy. A window with too few
// resolved setups is always a rejection, never an approval by default.
func Validate(sig signal.Signal, candles []market.Candle, cfg config.BacktestConfig) Result {
	stopDist := sig.StopDistance()
	if stopDist <= 0 {
		return Result{Reason: "signal has zero stop distance"}
	}
	winR := sig.TargetDistance() / stopDist

	var wins, losses int
	i := 0
	for i < len(candles) {
		if !candles[i].Range(sig.Entry) {
			i++
			continue
		}
		res, resolvedAt := resolveSetup(sig, candles, i)
		if res == outcomeUnresolved {
			break
		}
		if res == outcomeWin {
			wins++
		} else {
			losses++
		}
		i = resolvedAt + 1
	}

	sample := wins + losses
	if sample < cfg.MinSamples {
		return Result{
			SampleSize: sample,
			Wins:       wins,
			Losses:     losses,
			Reason:     ReasonInsufficientSample,
		}
	}

	winRate := float64(wins) / float64(sample)
	lossRate := float64(losses) / float64(sample)
	expectancy := winRate*winR - lossRate*1.0

	if expectancy < cfg.MinExpectancy {
		return Result{
			Expectancy: expectancy,
			SampleSize: sample,
			Wins:       wins,
			Losses:     losses,
			Reason:     fmt.Sprintf("expectancy %.4f below minimum %.4f", expectancy, cfg.MinExpectancy),
		}
	}
	return Result{
		Accepted:   true,
		Expectancy: expectancy,
		SampleSize: sample,
		Wins:       wins,
		Losses:     losses,
	}
}

// resolveSetup walks forward from the trigger bar until stop or target is
// struck. Setups still open when the window ends are discarded rather than
// guessed.
func resolveSetup(sig signal.Signal, candles []market.Candle, start int) (outcome, int) {
	for i := start; i < len(candles); i++ {
		c := candles[i]
		switch sig.Direction {
		case signal.DirectionLong:
			if c.Low <= sig.Stop {
				return outcomeLoss, i
			}
			if c.High >= sig.Target {
				return outcomeWin, i
			}
		case signal.DirectionShort:
			if c.High >= sig.Stop {
				return outcomeLoss, i
			}
			if c.Low <= sig.Target {
				return outcomeWin, i
			}
		}
	}
	return outcomeUnresolved, len(candles) - 1
}
