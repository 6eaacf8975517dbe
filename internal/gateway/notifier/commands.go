package notifier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"helmsman/internal/logger"
)

const maxUpdateBody = 1 << 20

// CommandHandler services one inbound chat command and returns the reply
// text. An empty reply suppresses the response message.
type CommandHandler func(ctx context.Context, command string, args []string) string

type chatUpdate struct {
	chatID string
	text   string
}

// PollCommands long-polls getUpdates and dispatches slash commands from the
// configured chat until ctx is canceled. Messages from any other chat are
// ignored, so only the operator's chat can steer the engine.
func (t *Telegram) PollCommands(ctx context.Context, handle CommandHandler) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("telegram is not configured")
	}
	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		updates, next, err := t.fetchUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warnf("[notifier] command poll failed: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}
		offset = next
		for _, u := range updates {
			if u.chatID != t.ChatID || !strings.HasPrefix(u.text, "/") {
				continue
			}
			fields := strings.Fields(u.text)
			// "/close@mybot" and "/close" are the same command.
			command, _, _ := strings.Cut(fields[0], "@")
			reply := handle(ctx, command, fields[1:])
			if reply == "" {
				continue
			}
			if err := t.SendText(reply); err != nil {
				logger.Warnf("[notifier] command reply failed: %v", err)
			}
		}
	}
}

// fetchUpdates returns the pending updates and the offset to acknowledge
// them on the next poll.
func (t *Telegram) fetchUpdates(ctx context.Context, offset int64) ([]chatUpdate, int64, error) {
	url := fmt.Sprintf("%s/bot%s/getUpdates?offset=%d&timeout=10", t.baseURL(), t.BotToken, offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, offset, err
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, offset, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpdateBody))
	if err != nil {
		return nil, offset, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, offset, fmt.Errorf("telegram getUpdates status=%d", resp.StatusCode)
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.Get("ok").Bool() {
		return nil, offset, fmt.Errorf("telegram getUpdates rejected: %s", parsed.Get("description").String())
	}

	next := offset
	var out []chatUpdate
	parsed.Get("result").ForEach(func(_, v gjson.Result) bool {
		if id := v.Get("update_id").Int(); id >= next {
			next = id + 1
		}
		out = append(out, chatUpdate{
			chatID: v.Get("message.chat.id").String(),
			text:   v.Get("message.text").String(),
		})
		return true
	})
	return out, next, nil
}
