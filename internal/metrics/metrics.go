// Package metrics exports engine counters over /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "helmsman_signals_total", Help: "Signals received from the feed"},
		[]string{"instrument"},
	)
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "helmsman_decisions_total", Help: "Pipeline decisions by stage and outcome"},
		[]string{"stage", "outcome"},
	)
	PositionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "helmsman_positions_open", Help: "Positions currently under supervision"},
	)
	PositionsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "helmsman_positions_closed_total", Help: "Closed positions by close reason"},
		[]string{"reason"},
	)
	RealizedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "helmsman_realized_pnl_usd", Help: "Cumulative realized profit and loss"},
	)
	VenueErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "helmsman_venue_errors_total", Help: "External venue call failures"},
		[]string{"venue"},
	)
)

func init() {
	prometheus.MustRegister(
		SignalsTotal,
		DecisionsTotal,
		PositionsOpen,
		PositionsClosedTotal,
		RealizedPnL,
		VenueErrorsTotal,
	)
}

// Serve starts the metrics listener and returns the server for shutdown.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
