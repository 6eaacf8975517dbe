package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"helmsman/internal/position"
	"helmsman/internal/signal"
)

type positionModel struct {
	ID         string  `gorm:"primaryKey;size:36"`
	Instrument string  `gorm:"size:32;index"`
	Direction  string  `gorm:"size:8"`
	Entry      float64 `gorm:"not null"`
	Stop       float64 `gorm:"not null"`
	Target     float64 `gorm:"not null"`
	Quantity   float64
	Notional   float64
	Leverage   int
	Margin     float64
	Status     string `gorm:"size:16;index"`

	OrderID     string `gorm:"size:64"`
	OpenedAt    int64
	ClosedAt    int64
	CloseReason string `gorm:"size:16"`
	ClosePrice  float64
	RealizedPnL float64
	FailureNote string

	SignalJSON datatypes.JSON

	CreatedAt int64 `gorm:"autoCreateTime:milli"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli"`
}

func (positionModel) TableName() string { return "positions" }

func newPositionModel(p position.Position) positionModel {
	sigJSON, _ := json.Marshal(p.Signal)
	m := positionModel{
		ID:          p.ID,
		Instrument:  p.Instrument,
		Direction:   string(p.Direction),
		Entry:       p.Entry,
		Stop:        p.Stop,
		Target:      p.Target,
		Quantity:    p.Quantity,
		Notional:    p.Notional,
		Leverage:    p.Leverage,
		Margin:      p.Margin,
		Status:      string(p.Status),
		OrderID:     p.OrderID,
		CloseReason: string(p.CloseReason),
		ClosePrice:  p.ClosePrice,
		RealizedPnL: p.RealizedPnL,
		FailureNote: p.FailureNote,
		SignalJSON:  datatypes.JSON(sigJSON),
	}
	if !p.OpenedAt.IsZero() {
		m.OpenedAt = p.OpenedAt.UnixMilli()
	}
	if !p.ClosedAt.IsZero() {
		m.ClosedAt = p.ClosedAt.UnixMilli()
	}
	return m
}

func (m positionModel) toPosition() position.Position {
	var sig signal.Signal
	_ = json.Unmarshal(m.SignalJSON, &sig)
	p := position.Position{
		ID:          m.ID,
		Instrument:  m.Instrument,
		Direction:   signal.Direction(m.Direction),
		Entry:       m.Entry,
		Stop:        m.Stop,
		Target:      m.Target,
		Quantity:    m.Quantity,
		Notional:    m.Notional,
		Leverage:    m.Leverage,
		Margin:      m.Margin,
		Status:      position.Status(m.Status),
		OrderID:     m.OrderID,
		CloseReason: position.CloseReason(m.CloseReason),
		ClosePrice:  m.ClosePrice,
		RealizedPnL: m.RealizedPnL,
		FailureNote: m.FailureNote,
		Signal:      sig,
	}
	if m.OpenedAt > 0 {
		p.OpenedAt = time.UnixMilli(m.OpenedAt)
	}
	if m.ClosedAt > 0 {
		p.ClosedAt = time.UnixMilli(m.ClosedAt)
	}
	return p
}
