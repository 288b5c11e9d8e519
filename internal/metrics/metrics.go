package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	jobsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "builder",
			Subsystem: "queue",
			Name:      "jobs_status",
			Help:      "Current number of build jobs grouped by status.",
		},
		[]string{"status"},
	)
	dispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "builder",
			Subsystem: "queue",
			Name:      "dispatched_total",
			Help:      "Total number of jobs handed to a build worker.",
		},
	)
	buildResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "builder",
			Subsystem: "worker",
			Name:      "build_results_total",
			Help:      "Count of finished build pipelines grouped by result.",
		},
		[]string{"result"},
	)
	buildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "builder",
			Subsystem: "worker",
			Name:      "build_duration_seconds",
			Help:      "Wall-clock duration of full build pipelines.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)
	portsInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "builder",
			Subsystem: "ports",
			Name:      "in_use",
			Help:      "Number of preview ports currently allocated.",
		},
	)
	reaperCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "builder",
			Subsystem: "reaper",
			Name:      "cycles_total",
			Help:      "Total number of reaper sweeps grouped by result.",
		},
		[]string{"result"},
	)
	reapedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "builder",
			Subsystem: "reaper",
			Name:      "reclaimed_total",
			Help:      "Resources reclaimed by the reaper grouped by kind.",
		},
		[]string{"kind"},
	)
	buildDirBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "builder",
			Subsystem: "reaper",
			Name:      "build_root_bytes",
			Help:      "Aggregate disk usage of the build root directory.",
		},
	)
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "builder",
			Subsystem: "notify",
			Name:      "emitted_total",
			Help:      "User notifications emitted grouped by type.",
		},
		[]string{"type"},
	)
)

func init() {
	Register()
}

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			jobsByStatus,
			dispatchedTotal,
			buildResultsTotal,
			buildDuration,
			portsInUse,
			reaperCyclesTotal,
			reapedTotal,
			buildDirBytes,
			notificationsTotal,
		)
	})
}

func SetJobsStatus(status string, n float64) { jobsByStatus.WithLabelValues(status).Set(n) }

func IncDispatched() { dispatchedTotal.Inc() }

func ObserveBuild(result string, d time.Duration) {
	buildResultsTotal.WithLabelValues(result).Inc()
	buildDuration.Observe(d.Seconds())
}

func SetPortsInUse(n int) { portsInUse.Set(float64(n)) }

func IncReaperCycle(result string) { reaperCyclesTotal.WithLabelValues(result).Inc() }

func IncReclaimed(kind string) { reapedTotal.WithLabelValues(kind).Inc() }

func SetBuildRootBytes(n int64) { buildDirBytes.Set(float64(n)) }

func IncNotification(typ string) { notificationsTotal.WithLabelValues(typ).Inc() }
