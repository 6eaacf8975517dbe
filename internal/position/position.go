// Package position defines the supervised position lifecycle. A position's
// life is strictly linear: Pending -> Open -> Closing -> Closed, with Failed
// absorbing from any non-terminal state. No position is ever reopened.
package position

import (
	"fmt"
	"time"

	"helmsman/internal/signal"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusOpen    Status = "open"
	StatusClosing Status = "closing"
	StatusClosed  Status = "closed"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusFailed
}

var transitions = map[Status][]Status{
	StatusPending: {StatusOpen, StatusFailed},
	StatusOpen:    {StatusClosing, StatusFailed},
	StatusClosing: {StatusClosed, StatusFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CloseReason records which exit condition fired. Ordering is the
// supervisor's priority order: force-close, stop-loss, take-profit, max hold.
type CloseReason string

const (
	ReasonForceClose CloseReason = "force-close"
	ReasonStopLoss   CloseReason = "stop-loss"
	ReasonTakeProfit CloseReason = "take-profit"
	ReasonMaxHold    CloseReason = "max-hold"
)

// Position is the unit of supervision. Exactly one supervisor task owns a
// position for its lifetime; every status change is persisted before its
// consequences are acted on.
type Position struct {
	ID         string
	Instrument string
	Direction  signal.Direction
	Entry      float64
	Stop       float64
	Target     float64
	Quantity   float64
	Notional   float64
	Leverage   int
	Margin     float64
	Status     Status

	OrderID     string
	OpenedAt    time.Time
	ClosedAt    time.Time
	CloseReason CloseReason
	ClosePrice  float64
	RealizedPnL float64
	FailureNote string

	// Signal is the snapshot of the originating signal, kept for audit.
	Signal signal.Signal
}

// RealizePnL computes the realized profit for an exit at closePrice.
func (p *Position) RealizePnL(closePrice float64) float64 {
	diff := closePrice - p.Entry
	if p.Direction == signal.DirectionShort {
		diff = -diff
	}
	return diff * p.Quantity
}

// CheckInvariants verifies the fields a supervisable position must carry.
// A violation is fatal to the owning supervisor only, never the engine.
func (p *Position) CheckInvariants() error {
	if p.ID == "" {
		return fmt.Errorf("position without id")
	}
	if p.Stop <= 0 || p.Target <= 0 {
		return fmt.Errorf("position %s has no recorded stop/target", p.ID)
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("position %s has non-positive quantity", p.ID)
	}
	return nil
}
