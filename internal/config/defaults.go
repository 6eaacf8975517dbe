package config

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"

	defaultSignalPollSeconds = 30
	defaultSignalMinConf     = 60
	defaultDedupeTTLSeconds  = 3600

	defaultConsensusTolerancePct = 0.5
	defaultConsensusTimeout      = 5

	defaultBacktestInterval   = "1h"
	defaultBacktestLookback   = 80
	defaultBacktestMinSamples = 15
	defaultMinExpectancy      = 0.0025

	defaultRiskPct        = 0.01
	defaultMinEquity      = 15
	defaultMinNotional    = 5
	defaultLeverageSmall  = 5
	defaultLeverageMedium = 4
	defaultLeverageHigh   = 3
	defaultMediumATRPct   = 1.0
	defaultHighATRPct     = 2.5

	defaultPollSeconds         = 5
	defaultEntryTimeoutSeconds = 20
	defaultCloseTimeoutSeconds = 30
	defaultCloseRetries        = 3
	defaultPersistRetries      = 3

	defaultExchangeREST    = "https://fapi.binance.com"
	defaultExchangeTimeout = 10
	defaultGateREST        = "https://api.gateio.ws/api/v4"
	defaultGateTimeout     = 10

	defaultStorePath = "data/helmsman.db"

	defaultRetryAttempts = 3
	defaultRetryBaseMs   = 500
	defaultRetryMaxMs    = 5000
)

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = defaultAppEnv
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = defaultAppLogLevel
	}
	if c.Signals.PollIntervalSeconds <= 0 {
		c.Signals.PollIntervalSeconds = defaultSignalPollSeconds
	}
	if c.Signals.MinConfidence <= 0 {
		c.Signals.MinConfidence = defaultSignalMinConf
	}
	if c.Signals.DedupeTTLSeconds <= 0 {
		c.Signals.DedupeTTLSeconds = defaultDedupeTTLSeconds
	}
	if c.Consensus.TolerancePct <= 0 {
		c.Consensus.TolerancePct = defaultConsensusTolerancePct
	}
	if c.Consensus.TimeoutSeconds <= 0 {
		c.Consensus.TimeoutSeconds = defaultConsensusTimeout
	}
	if c.Backtest.Interval == "" {
		c.Backtest.Interval = defaultBacktestInterval
	}
	if c.Backtest.LookbackBars <= 0 {
		c.Backtest.LookbackBars = defaultBacktestLookback
	}
	if c.Backtest.MinSamples <= 0 {
		c.Backtest.MinSamples = defaultBacktestMinSamples
	}
	if c.Backtest.MinExpectancy <= 0 {
		c.Backtest.MinExpectancy = defaultMinExpectancy
	}
	if c.Risk.RiskPct <= 0 {
		c.Risk.RiskPct = defaultRiskPct
	}
	if c.Risk.MinEquity <= 0 {
		c.Risk.MinEquity = defaultMinEquity
	}
	if c.Risk.MinNotional <= 0 {
		c.Risk.MinNotional = defaultMinNotional
	}
	if c.Risk.Leverage.Small <= 0 {
		c.Risk.Leverage.Small = defaultLeverageSmall
	}
	if c.Risk.Leverage.Medium <= 0 {
		c.Risk.Leverage.Medium = defaultLeverageMedium
	}
	if c.Risk.Leverage.High <= 0 {
		c.Risk.Leverage.High = defaultLeverageHigh
	}
	if c.Risk.Volatility.MediumATRPct <= 0 {
		c.Risk.Volatility.MediumATRPct = defaultMediumATRPct
	}
	if c.Risk.Volatility.HighATRPct <= 0 {
		c.Risk.Volatility.HighATRPct = defaultHighATRPct
	}
	if c.Supervisor.PollIntervalSeconds <= 0 {
		c.Supervisor.PollIntervalSeconds = defaultPollSeconds
	}
	if c.Supervisor.EntryTimeoutSeconds <= 0 {
		c.Supervisor.EntryTimeoutSeconds = defaultEntryTimeoutSeconds
	}
	if c.Supervisor.CloseTimeoutSeconds <= 0 {
		c.Supervisor.CloseTimeoutSeconds = defaultCloseTimeoutSeconds
	}
	if c.Supervisor.CloseRetries <= 0 {
		c.Supervisor.CloseRetries = defaultCloseRetries
	}
	if c.Supervisor.PersistRetries <= 0 {
		c.Supervisor.PersistRetries = defaultPersistRetries
	}
	if c.Exchange.RESTBaseURL == "" {
		c.Exchange.RESTBaseURL = defaultExchangeREST
	}
	if c.Exchange.TimeoutSeconds <= 0 {
		c.Exchange.TimeoutSeconds = defaultExchangeTimeout
	}
	if c.Gate.RESTBaseURL == "" {
		c.Gate.RESTBaseURL = defaultGateREST
	}
	if c.Gate.TimeoutSeconds <= 0 {
		c.Gate.TimeoutSeconds = defaultGateTimeout
	}
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = defaultRetryAttempts
	}
	if c.Retry.BaseDelayMs <= 0 {
		c.Retry.BaseDelayMs = defaultRetryBaseMs
	}
	if c.Retry.MaxDelayMs <= 0 {
		c.Retry.MaxDelayMs = defaultRetryMaxMs
	}
}
