// Package notifier pushes engine events to humans. Delivery is best effort:
// a down notifier never blocks or fails a trading decision.
package notifier

// TextNotifier is the minimal surface components depend on, so nothing
// outside this package imports the Telegram implementation directly.
type TextNotifier interface {
	SendText(text string) error
}

// Nop discards every message. Used when notification is disabled.
type Nop struct{}

func (Nop) SendText(string) error { return nil }
