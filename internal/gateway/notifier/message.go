package notifier

import (
	"fmt"
	"strings"
	"time"
)

const maxMessageLen = 3800

// Message is the compact structured format every engine notification uses.
type Message struct {
	Icon      string
	Title     string
	Lines     []string
	Timestamp time.Time
}

func (m Message) RenderMarkdown() string {
	var b strings.Builder
	header := strings.TrimSpace(m.Icon + " " + m.Title)
	if header != "" {
		b.WriteString(header + "\n")
	}
	if len(m.Lines) > 0 {
		b.WriteString("```\n")
		for _, line := range m.Lines {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			b.WriteString("- " + line + "\n")
		}
		b.WriteString("```\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString(m.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxMessageLen {
		body = body[:maxMessageLen] + "..."
	}
	return body
}

func PositionOpened(instrument, direction string, entry, quantity, notional float64, leverage int) Message {
	return Message{
		Icon:  "📈",
		Title: fmt.Sprintf("Opened %s %s", instrument, strings.ToUpper(direction)),
		Lines: []string{
			fmt.Sprintf("entry %.6g", entry),
			fmt.Sprintf("qty %.6g", quantity),
			fmt.Sprintf("notional %.2f", notional),
			fmt.Sprintf("leverage %dx", leverage),
		},
		Timestamp: time.Now(),
	}
}

func PositionClosed(instrument, reason string, closePrice, pnl float64) Message {
	icon := "✅"
	if pnl < 0 {
		icon = "🔻"
	}
	return Message{
		Icon:  icon,
		Title: fmt.Sprintf("Closed %s (%s)", instrument, reason),
		Lines: []string{
			fmt.Sprintf("close %.6g", closePrice),
			fmt.Sprintf("pnl %+.2f", pnl),
		},
		Timestamp: time.Now(),
	}
}

func PositionFailed(instrument, note string) Message {
	return Message{
		Icon:      "🚨",
		Title:     fmt.Sprintf("Position failed %s", instrument),
		Lines:     []string{note},
		Timestamp: time.Now(),
	}
}

func SupervisorStalled(instrument, positionID, note string) Message {
	return Message{
		Icon:  "🛑",
		Title: fmt.Sprintf("Supervision stalled %s", instrument),
		Lines: []string{
			fmt.Sprintf("position %s", positionID),
			note,
			"manual intervention required",
		},
		Timestamp: time.Now(),
	}
}
