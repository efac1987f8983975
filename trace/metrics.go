package trace

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the optional Prometheus instruments a Decoder updates as
// it retires events. A nil *Metrics is always safe to use: every
// method on Decoder guards against it, so instrumentation stays opt-in
// per SPEC_FULL.md §4.5.
type Metrics struct {
	RetiredInstructions prometheus.Counter
	RetiredTNTBits      prometheus.Counter
	SyncEvents          prometheus.Counter
	StopEvents          prometheus.Counter
	ErrorEvents         prometheus.Counter
	ReturnStackDepth    prometheus.Gauge
}

// NewMetrics constructs and registers a Metrics set against reg. Pass
// prometheus.WrapRegistererWith to scope the "session" label if more
// than one Decoder shares a process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RetiredInstructions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexusrv_retired_instructions_total",
			Help: "Instructions retired by the trace decoder (I-CNT consumed).",
		}),
		RetiredTNTBits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexusrv_retired_tnt_bits_total",
			Help: "TNT/HIST bits consumed by the trace decoder.",
		}),
		SyncEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexusrv_sync_events_total",
			Help: "Sync events (including sync-reset) reported by the trace decoder.",
		}),
		StopEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexusrv_stop_events_total",
			Help: "Stop events reported by the trace decoder.",
		}),
		ErrorEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexusrv_error_events_total",
			Help: "Error events reported by the trace decoder.",
		}),
		ReturnStackDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nexusrv_return_stack_depth",
			Help: "Current depth of the trace decoder's return-address stack.",
		}),
	}
	reg.MustRegister(
		m.RetiredInstructions,
		m.RetiredTNTBits,
		m.SyncEvents,
		m.StopEvents,
		m.ErrorEvents,
		m.ReturnStackDepth,
	)
	return m
}
