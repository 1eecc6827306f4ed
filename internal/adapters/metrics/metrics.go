package metrics

import (
	"time"

	"github.com/Badsnus/game-scheduler-bot/internal/domain/daemon"
	"github.com/Badsnus/game-scheduler-bot/pkg/logger/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the collectors of one daemon process
type Metrics struct {
	Registry *prometheus.Registry

	ProcessingLag  *prometheus.HistogramVec
	ItemsProcessed *prometheus.CounterVec
	Wakeups        *prometheus.CounterVec
	LogEntries     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		// lag between an item's due time and its processing is the health signal of the daemons
		ProcessingLag: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scheduler_processing_lag_seconds",
				Help:    "Delay between the due time of a schedule item and its processing",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300, 900},
			},
			[]string{"daemon"},
		),
		ItemsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_items_processed_total",
				Help: "Number of schedule items handled, by outcome",
			},
			[]string{"daemon", "outcome"},
		),
		Wakeups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_wakeups_total",
				Help: "Number of listener wakeups, by reason",
			},
			[]string{"daemon", "reason"},
		),
		LogEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_log_entries_total",
				Help: "Number of log entries, by level",
			},
			[]string{"level"},
		),
	}

	m.Registry.MustRegister(
		m.ProcessingLag,
		m.ItemsProcessed,
		m.Wakeups,
		m.LogEntries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveLag(name string, lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	m.ProcessingLag.WithLabelValues(name).Observe(lag.Seconds())
}

func (m *Metrics) IncProcessed(name string, outcome daemon.Outcome) {
	m.ItemsProcessed.WithLabelValues(name, string(outcome)).Inc()
}

func (m *Metrics) IncWake(name string, reason daemon.WakeReason) {
	m.Wakeups.WithLabelValues(name, string(reason)).Inc()
}

// LogHook counts log entries by level
func (m *Metrics) LogHook() types.LogHook {
	return func(log types.Log) {
		m.LogEntries.WithLabelValues(log.Level.String()).Inc()
	}
}
