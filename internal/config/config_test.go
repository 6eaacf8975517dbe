package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "helmsman.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
signals:
  api_url: "https://signals.example.com/api/v1/active"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.Consensus.TolerancePct)
	assert.Equal(t, 15, cfg.Backtest.MinSamples)
	assert.Equal(t, 0.0025, cfg.Backtest.MinExpectancy)
	assert.Equal(t, 0.01, cfg.Risk.RiskPct)
	assert.Equal(t, 5, cfg.Risk.Leverage.Small)
	assert.Equal(t, 3, cfg.Risk.Leverage.High)
	assert.Equal(t, 5, cfg.Supervisor.PollIntervalSeconds)
	assert.Equal(t, 30, cfg.Supervisor.CloseTimeoutSeconds)
	assert.Equal(t, 3, cfg.Supervisor.CloseRetries)
	assert.Equal(t, "https://fapi.binance.com", cfg.Exchange.RESTBaseURL)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
signals:
  api_url: "https://signals.example.com/api/v1/active"
  min_confidence: 70
consensus:
  tolerance_pct: 0.8
risk:
  risk_pct: 0.015
  leverage:
    small: 2
    medium: 3
    high: 4
supervisor:
  poll_interval_seconds: 10
  max_hold_minutes: 240
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.8, cfg.Consensus.TolerancePct)
	assert.Equal(t, 0.015, cfg.Risk.RiskPct)
	assert.Equal(t, 4, cfg.Risk.Leverage.High)
	assert.Equal(t, float64(70), cfg.Signals.MinConfidence)
	assert.Equal(t, 240, cfg.Supervisor.MaxHoldMinutes)
	assert.NotZero(t, cfg.Supervisor.MaxHold())
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing api_url": `
app:
  log_level: debug
`,
		"risk_pct above 1": `
signals:
  api_url: "https://signals.example.com"
risk:
  risk_pct: 1.5
`,
		"volatility bounds inverted": `
signals:
  api_url: "https://signals.example.com"
risk:
  volatility:
    medium_atr_pct: 0.05
    high_atr_pct: 0.02
`,
		"telegram enabled without token": `
signals:
  api_url: "https://signals.example.com"
notify:
  telegram:
    enabled: true
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestDumpRedactsSecrets(t *testing.T) {
	path := writeConfig(t, `
signals:
  api_url: "https://signals.example.com"
notify:
  telegram:
    enabled: true
    bot_token: "123:secret"
    chat_id: "42"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	dump := cfg.Dump()
	assert.NotContains(t, dump, "123:secret")
	assert.Contains(t, dump, "chat_id")
}
