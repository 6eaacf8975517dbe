// Package feed polls the external signal API. Payloads are validated
// against a JSON schema before anything is extracted; a malformed batch is
// rejected whole rather than partially consumed.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"helmsman/internal/logger"
	"helmsman/internal/pkg/retry"
	symbolpkg "helmsman/internal/pkg/symbol"
	"helmsman/internal/signal"
)

const signalSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["instrument", "direction", "entry", "stop", "target"],
    "properties": {
      "id": {"type": "string"},
      "instrument": {"type": "string", "minLength": 1},
      "direction": {"type": "string"},
      "entry": {"type": "number", "exclusiveMinimum": 0},
      "stop": {"type": "number", "exclusiveMinimum": 0},
      "target": {"type": "number", "exclusiveMinimum": 0},
      "issued_at": {"type": ["string", "number"]},
      "confidence": {"type": "number", "minimum": 0, "maximum": 100}
    }
  }
}`

type Config struct {
	APIURL      string
	HTTPTimeout time.Duration
	DedupeTTL   time.Duration
	Retry       retry.Policy
}

type Client struct {
	cfg    Config
	http   *http.Client
	schema *jsonschema.Schema
	dedupe *dedupe
}

func NewClient(cfg Config) (*Client, error) {
	cfg.APIURL = strings.TrimSpace(cfg.APIURL)
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("feed: api url is required")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	schema, err := jsonschema.CompileString("signals.json", signalSchema)
	if err != nil {
		return nil, fmt.Errorf("feed: compile schema: %w", err)
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
		schema: schema,
		dedupe: newDedupe(cfg.DedupeTTL),
	}, nil
}

// Fetch pulls the current batch and returns the signals not seen before.
// Signals failing structural validation are dropped individually with a log
// line; a batch failing schema validation is dropped whole.
func (c *Client) Fetch(ctx context.Context) ([]signal.Signal, error) {
	var raw []byte
	err := c.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		var callErr error
		raw, callErr = c.fetchRaw(ctx)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if err := c.validateBatch(raw); err != nil {
		return nil, err
	}
	var out []signal.Signal
	gjson.ParseBytes(raw).ForEach(func(_, item gjson.Result) bool {
		sig, err := parseSignal(item)
		if err != nil {
			logger.Warnf("[feed] dropping signal: %v", err)
			return true
		}
		if c.dedupe.Seen(sig.ID) {
			logger.Debugf("[feed] duplicate signal %s ignored", sig.ID)
			return true
		}
		out = append(out, sig)
		return true
	})
	return out, nil
}

func (c *Client) fetchRaw(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("feed: status=%d", resp.StatusCode)
	}
	return body, nil
}

func (c *Client) validateBatch(raw []byte) error {
	if !gjson.ValidBytes(raw) {
		return fmt.Errorf("feed: response is not valid json")
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("feed: decode: %w", err)
	}
	if err := c.schema.Validate(decoded); err != nil {
		return fmt.Errorf("feed: schema: %w", err)
	}
	return nil
}

func parseSignal(item gjson.Result) (signal.Signal, error) {
	direction, err := signal.ParseDirection(item.Get("direction").String())
	if err != nil {
		return signal.Signal{}, err
	}
	instrument := symbolpkg.Normalize(item.Get("instrument").String())
	if instrument == "" {
		return signal.Signal{}, fmt.Errorf("unparseable instrument %q", item.Get("instrument").String())
	}
	id := strings.TrimSpace(item.Get("id").String())
	if id == "" {
		// Feeds without ids still get exactly-once handling within the TTL.
		id = uuid.NewString()
	}
	sig := signal.Signal{
		ID:         id,
		Instrument: instrument,
		Direction:  direction,
		Entry:      item.Get("entry").Float(),
		Stop:       item.Get("stop").Float(),
		Target:     item.Get("target").Float(),
		IssuedAt:   parseIssuedAt(item.Get("issued_at")),
		Confidence: item.Get("confidence").Float(),
	}
	if err := sig.Validate(); err != nil {
		return signal.Signal{}, fmt.Errorf("signal %s: %w", id, err)
	}
	return sig, nil
}

func parseIssuedAt(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.String:
		if ts, err := time.Parse(time.RFC3339, v.String()); err == nil {
			return ts
		}
	case gjson.Number:
		n := v.Int()
		if n > 1e12 {
			return time.UnixMilli(n)
		}
		if n > 0 {
			return time.Unix(n, 0)
		}
	}
	return time.Now()
}
