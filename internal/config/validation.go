package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Signals.validate(); err != nil {
		return err
	}
	if err := c.Consensus.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Supervisor.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (s *SignalsConfig) validate() error {
	if strings.TrimSpace(s.APIURL) == "" {
		return fmt.Errorf("signals.api_url is required")
	}
	if s.MinConfidence < 0 || s.MinConfidence > 100 {
		return fmt.Errorf("signals.min_confidence must be within [0,100]")
	}
	return nil
}

func (c *ConsensusConfig) validate() error {
	if c.TolerancePct <= 0 || c.TolerancePct >= 100 {
		return fmt.Errorf("consensus.tolerance_pct must be in (0,100)")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.MinSamples < 1 {
		return fmt.Errorf("backtest.min_samples must be >= 1")
	}
	if b.LookbackBars < b.MinSamples {
		return fmt.Errorf("backtest.lookback_bars %d cannot be below min_samples %d", b.LookbackBars, b.MinSamples)
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.RiskPct <= 0 || r.RiskPct > 1 {
		return fmt.Errorf("risk.risk_pct must be in (0,1]")
	}
	if r.Leverage.Small < 1 || r.Leverage.Medium < 1 || r.Leverage.High < 1 {
		return fmt.Errorf("risk.leverage caps must be >= 1")
	}
	if r.Volatility.MediumATRPct >= r.Volatility.HighATRPct {
		return fmt.Errorf("risk.volatility.medium_atr_pct must be below high_atr_pct")
	}
	return nil
}

func (s *SupervisorConfig) validate() error {
	if s.PollIntervalSeconds < 1 {
		return fmt.Errorf("supervisor.poll_interval_seconds must be >= 1")
	}
	if s.CloseRetries < 1 {
		return fmt.Errorf("supervisor.close_retries must be >= 1")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
		}
	}
	return nil
}
