package signal

import (
	"fmt"
	"strings"
	"time"
)

type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// ParseDirection normalizes the side strings seen on the wire.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy", "1":
		return DirectionLong, nil
	case "short", "sell", "-1":
		return DirectionShort, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// Signal is an externally sourced trade candidate. It is immutable once
// received and consumed exactly once by the orchestrator.
type Signal struct {
	ID         string
	Instrument string
	Direction  Direction
	Entry      float64
	Stop       float64
	Target     float64
	IssuedAt   time.Time
	Confidence float64
}

// Validate enforces the structural invariants a signal must satisfy before
// any decision step runs. Stop and target must sit on the correct side of
// the entry for the direction; a signal that fails here is rejected whole,
// never partially processed.
func (s Signal) Validate() error {
	if strings.TrimSpace(s.Instrument) == "" {
		return fmt.Errorf("signal: instrument is required")
	}
	if s.Direction != DirectionLong && s.Direction != DirectionShort {
		return fmt.Errorf("signal: direction must be long or short")
	}
	if s.Entry <= 0 || s.Stop <= 0 || s.Target <= 0 {
		return fmt.Errorf("signal: entry/stop/target must be positive")
	}
	if s.Confidence < 0 || s.Confidence > 100 {
		return fmt.Errorf("signal: confidence %.2f outside [0,100]", s.Confidence)
	}
	switch s.Direction {
	case DirectionLong:
		if s.Stop >= s.Entry {
			return fmt.Errorf("signal: long stop %.8f must be below entry %.8f", s.Stop, s.Entry)
		}
		if s.Target <= s.Entry {
			return fmt.Errorf("signal: long target %.8f must be above entry %.8f", s.Target, s.Entry)
		}
	case DirectionShort:
		if s.Stop <= s.Entry {
			return fmt.Errorf("signal: short stop %.8f must be above entry %.8f", s.Stop, s.Entry)
		}
		if s.Target >= s.Entry {
			return fmt.Errorf("signal: short target %.8f must be below entry %.8f", s.Target, s.Entry)
		}
	}
	return nil
}

// StopDistance is the relative distance between entry and stop.
func (s Signal) StopDistance() float64 {
	if s.Entry <= 0 {
		return 0
	}
	d := s.Entry - s.Stop
	if d < 0 {
		d = -d
	}
	return d / s.Entry
}

// TargetDistance is the relative distance between entry and target.
func (s Signal) TargetDistance() float64 {
	if s.Entry <= 0 {
		return 0
	}
	d := s.Target - s.Entry
	if d < 0 {
		d = -d
	}
	return d / s.Entry
}
