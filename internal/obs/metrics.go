package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ParkedHalves            = promauto.NewGauge(prometheus.GaugeOpts{Name: "vncrepeater_parked_halves", Help: "Half-connections currently parked in the registry"})
	ActiveSessions          = promauto.NewGauge(prometheus.GaugeOpts{Name: "vncrepeater_active_sessions", Help: "Spliced sessions currently relaying"})
	SessionEstablishedTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "vncrepeater_session_established_total", Help: "Sessions paired and spliced"})
	DirectDialTotal         = promauto.NewCounter(prometheus.CounterOpts{Name: "vncrepeater_direct_dial_total", Help: "Direct host:port dials attempted"})
	SweepEvictedTotal       = promauto.NewCounter(prometheus.CounterOpts{Name: "vncrepeater_sweep_evicted_total", Help: "Parked half-connections evicted as dead"})
	ErrorsTotal             = promauto.NewCounterVec(prometheus.CounterOpts{Name: "vncrepeater_errors_total", Help: "Errors by type"}, []string{"type"})
	SessionDurationSeconds  = promauto.NewHistogram(prometheus.HistogramOpts{Name: "vncrepeater_session_duration_seconds", Help: "Spliced session lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)})
	SessionBytesTotal       = promauto.NewCounterVec(prometheus.CounterOpts{Name: "vncrepeater_session_bytes_total", Help: "Bytes relayed by direction"}, []string{"direction"})
)
