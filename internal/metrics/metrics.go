package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market ticks ingested"},
		[]string{"symbol"},
	)
	TicksDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_dropped_total", Help: "Malformed or stale ticks discarded"},
		[]string{"symbol", "cause"},
	)
	MatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pattern_matches_total", Help: "Raw detector matches before scoring"},
		[]string{"symbol", "pattern"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Signals that cleared the confluence threshold"},
		[]string{"symbol", "class"},
	)
	RejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rejections_total", Help: "Signals rejected downstream of scoring"},
		[]string{"stage", "reason"},
	)
	StealthSkips = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "stealth_skips_total", Help: "Approved signals skipped by the stealth planner"},
	)
	FiresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fires_total", Help: "Fire commands dispatched to the bridge"},
		[]string{"symbol", "direction"},
	)
	FiresUnresolved = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "fires_unresolved_total", Help: "Dispatched fires with no confirmation before timeout"},
	)
	OpenSlots = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "concurrency_slots_open", Help: "Concurrency tokens currently held"},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal, TicksDropped, MatchesTotal, SignalsTotal,
		RejectionsTotal, StealthSkips, FiresTotal, FiresUnresolved, OpenSlots,
	)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
