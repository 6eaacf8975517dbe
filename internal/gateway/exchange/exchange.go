// Package exchange defines the trading surface the engine executes against.
// Implementations sit behind a retry policy and a circuit breaker so venue
// trouble degrades decisions instead of crashing supervision.
package exchange

import (
	"context"

	"helmsman/internal/signal"
)

// EntryOrder describes a market entry the risk sizer has already approved.
type EntryOrder struct {
	Instrument string
	Direction  signal.Direction
	Quantity   float64
	Leverage   int
}

type OrderState string

const (
	OrderPending  OrderState = "pending"
	OrderFilled   OrderState = "filled"
	OrderCanceled OrderState = "canceled"
	OrderRejected OrderState = "rejected"
)

// Terminal reports whether the order can no longer fill.
func (s OrderState) Terminal() bool {
	return s == OrderFilled || s == OrderCanceled || s == OrderRejected
}

type OrderStatus struct {
	OrderID   string
	State     OrderState
	FillPrice float64
	FilledQty float64
}

// PositionState is the venue's view of the held contract. Quantity is
// signed: negative means short.
type PositionState struct {
	Instrument    string
	Quantity      float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
}

type Trader interface {
	Name() string

	// SubmitEntry places a market order and returns the venue order id.
	SubmitEntry(ctx context.Context, order EntryOrder) (string, error)

	OrderStatus(ctx context.Context, instrument, orderID string) (OrderStatus, error)

	// ClosePosition places a reduce-only market order against the held
	// position and returns the close order id.
	ClosePosition(ctx context.Context, instrument string, direction signal.Direction, quantity float64) (string, error)

	PositionState(ctx context.Context, instrument string) (PositionState, error)

	AccountEquity(ctx context.Context) (float64, error)

	MinNotional(ctx context.Context, instrument string) (float64, error)
}
