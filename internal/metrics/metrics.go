// Package metrics exposes dimmer state as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/cadence-dimmer/internal/events"
	"github.com/sweeney/cadence-dimmer/internal/logic"
	"github.com/sweeney/cadence-dimmer/internal/pwm"
	"github.com/sweeney/cadence-dimmer/internal/state"
)

const namespace = "cadence_dimmer"

// StateSource is the read side of the shared state.
type StateSource interface {
	Cadence() logic.CadenceSnapshot
	Signal() state.Signal
}

// StatsSource reports scheduler counters.
type StatsSource interface {
	Stats() pwm.Stats
}

// Subscriber delivers duty change events.
type Subscriber interface {
	OnDutyChanged(handler func(events.DutyChangedEvent)) func()
}

// Metrics owns a private registry so tests and multiple instances do not
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	duty        *prometheus.GaugeVec
	phase       *prometheus.GaugeVec
	dutyChanges *prometheus.CounterVec
}

// New registers every collector. Cadence and scheduler values are read at
// scrape time; duties and phases are pushed by Observe.
func New(src StateSource, sched StatsSource) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "button",
		Name:      "speed",
		Help:      "Alternating button presses per second",
	}, func() float64 { return float64(src.Cadence().Rate()) })

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "button",
		Name:      "average_interval_seconds",
		Help:      "Smoothed interval between alternating presses",
	}, func() float64 { return float64(src.Cadence().Average) / 1e9 })

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "button",
		Name:      "samples",
		Help:      "Interval samples in the averaging window",
	}, func() float64 { return float64(src.Cadence().Samples) })

	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "button",
		Name:      "presses_total",
		Help:      "Rising edges seen on either button",
	}, func() float64 { return float64(src.Cadence().Total) })

	if sched != nil {
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pwm",
			Name:      "ticks_total",
			Help:      "Scheduler firings",
		}, func() float64 { return float64(sched.Stats().Ticks) })

		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pwm",
			Name:      "overruns_total",
			Help:      "Firings skipped because the timer fell behind",
		}, func() float64 { return float64(sched.Stats().Overruns) })

		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pwm",
			Name:      "retries_total",
			Help:      "Output writes that failed and were retried",
		}, func() float64 { return float64(sched.Stats().Retries) })

		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pwm",
			Name:      "degraded",
			Help:      "1 when signal generation has halted after output failures",
		}, func() float64 {
			if sched.Stats().Degraded {
				return 1
			}
			return 0
		})
	}

	m := &Metrics{
		registry: reg,
		duty: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "led",
			Name:      "duty_percent",
			Help:      "Configured duty cycle per channel",
		}, []string{"channel"}),
		phase: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pwm",
			Name:      "phase_seconds",
			Help:      "Compiled phase durations",
		}, []string{"phase"}),
		dutyChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "led",
			Name:      "duty_changes_total",
			Help:      "Accepted duty writes by source",
		}, []string{"source"}),
	}

	sig := src.Signal()
	m.setSignal(sig.Duties, sig.Phases)
	return m
}

// Subscribe keeps the duty and phase gauges current. Returns an unsubscribe function.
func (m *Metrics) Subscribe(bus Subscriber) func() {
	return bus.OnDutyChanged(m.Observe)
}

// Observe records an accepted duty write.
func (m *Metrics) Observe(ev events.DutyChangedEvent) {
	m.setSignal(ev.Duties, ev.Phases)
	m.dutyChanges.WithLabelValues(ev.Source).Inc()
}

func (m *Metrics) setSignal(d logic.Duties, p logic.Phases) {
	for i, v := range d {
		m.duty.WithLabelValues(strconv.Itoa(i + 1)).Set(float64(v))
	}
	m.phase.WithLabelValues(logic.PhaseHigh.String()).Set(p.High.Seconds())
	m.phase.WithLabelValues(logic.PhaseLow.String()).Set(p.Low.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
