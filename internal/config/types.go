package config

import "time"

// Config is the engine's single immutable configuration value. Components
// receive the sections they need at construction; nothing reads ambient
// global state.
type Config struct {
	App        AppConfig        `yaml:"app"`
	Signals    SignalsConfig    `yaml:"signals"`
	Consensus  ConsensusConfig  `yaml:"consensus"`
	Backtest   BacktestConfig   `yaml:"backtest"`
	Risk       RiskConfig       `yaml:"risk"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Gate       GateConfig       `yaml:"gate"`
	Notify     NotifyConfig     `yaml:"notify"`
	Store      StoreConfig      `yaml:"store"`
	Retry      RetryConfig      `yaml:"retry"`
}

type AppConfig struct {
	Env         string `yaml:"env"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// SignalsConfig describes the inbound signal feed.
type SignalsConfig struct {
	APIURL              string  `yaml:"api_url"`
	PollIntervalSeconds int     `yaml:"poll_interval_seconds"`
	MinConfidence       float64 `yaml:"min_confidence"`
	DedupeTTLSeconds    int     `yaml:"dedupe_ttl_seconds"`
}

func (s SignalsConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

func (s SignalsConfig) DedupeTTL() time.Duration {
	return time.Duration(s.DedupeTTLSeconds) * time.Second
}

type ConsensusConfig struct {
	TolerancePct   float64 `yaml:"tolerance_pct"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

func (c ConsensusConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type BacktestConfig struct {
	Interval      string  `yaml:"interval"`
	LookbackBars  int     `yaml:"lookback_bars"`
	MinSamples    int     `yaml:"min_samples"`
	MinExpectancy float64 `yaml:"min_expectancy"`
}

// LeverageCaps bounds leverage per volatility tier.
type LeverageCaps struct {
	Small  int `yaml:"small"`
	Medium int `yaml:"medium"`
	High   int `yaml:"high"`
}

// VolatilityBounds maps ATR as a percent of price to a tier: below Medium
// is small, below High is medium, anything above is high volatility.
type VolatilityBounds struct {
	MediumATRPct float64 `yaml:"medium_atr_pct"`
	HighATRPct   float64 `yaml:"high_atr_pct"`
}

type RiskConfig struct {
	RiskPct     float64          `yaml:"risk_pct"`
	MinEquity   float64          `yaml:"min_equity"`
	MinNotional float64          `yaml:"min_notional"`
	Leverage    LeverageCaps     `yaml:"leverage"`
	Volatility  VolatilityBounds `yaml:"volatility"`
}

type SupervisorConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	EntryTimeoutSeconds int `yaml:"entry_timeout_seconds"`
	CloseTimeoutSeconds int `yaml:"close_timeout_seconds"`
	CloseRetries        int `yaml:"close_retries"`
	PersistRetries      int `yaml:"persist_retries"`
	MaxHoldMinutes      int `yaml:"max_hold_minutes"`
}

func (s SupervisorConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

func (s SupervisorConfig) EntryTimeout() time.Duration {
	return time.Duration(s.EntryTimeoutSeconds) * time.Second
}

func (s SupervisorConfig) CloseTimeout() time.Duration {
	return time.Duration(s.CloseTimeoutSeconds) * time.Second
}

// MaxHold returns 0 when no holding limit is configured.
func (s SupervisorConfig) MaxHold() time.Duration {
	if s.MaxHoldMinutes <= 0 {
		return 0
	}
	return time.Duration(s.MaxHoldMinutes) * time.Minute
}

type ExchangeConfig struct {
	RESTBaseURL    string `yaml:"rest_base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	APIKey         string `yaml:"api_key"`
	APISecret      string `yaml:"api_secret"`
}

func (e ExchangeConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

type GateConfig struct {
	RESTBaseURL    string `yaml:"rest_base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (g GateConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms"`
}

func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}
