// Package metrics registers the prometheus collectors shared across the bot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "swarmbot_ticks_total", Help: "Count of market ticks ingested"},
		[]string{"symbol"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "swarmbot_orders_total", Help: "Order submissions by outcome"},
		[]string{"asset", "side", "status"},
	)
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "swarmbot_cycles_total", Help: "Strategy loop iterations by outcome"},
		[]string{"strategy", "outcome"},
	)
	BreakerTrips = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "swarmbot_breaker_trips_total", Help: "Circuit breaker trips"},
	)
	ListWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "swarmbot_list_writes_total", Help: "List governor writes"},
		[]string{"list", "op"},
	)
	PumplistActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "swarmbot_pumplist_actions_total", Help: "Pumplist pass outcomes"},
		[]string{"action"},
	)
	StrategyState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "swarmbot_strategy_state", Help: "Lifecycle state per strategy (0 idle, 1 running, 2 paused, 3 stopped)"},
		[]string{"strategy"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, OrdersTotal, CyclesTotal, BreakerTrips, ListWrites, PumplistActions, StrategyState)
}

// Serve exposes /metrics on addr in the background. Close the returned server to stop it.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
