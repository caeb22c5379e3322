// Package metrics exposes installation counters and latencies for Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nithronos/zinstaller/pkg/shell"
)

// Metrics methods are no-ops on a nil receiver.
type Metrics struct {
	reg             *prometheus.Registry
	installs        *prometheus.CounterVec
	installDuration prometheus.Histogram
	stageDuration   *prometheus.HistogramVec
	rollbacks       prometheus.Counter
	commands        *prometheus.CounterVec
	commandLatency  *prometheus.HistogramVec
}

func New(version, rev string) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zinstaller_installs_total",
			Help: "Installations by result.",
		}, []string{"result"}),
		installDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zinstaller_install_duration_seconds",
			Help:    "Wall time of whole installations.",
			Buckets: prometheus.ExponentialBuckets(30, 2, 8),
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zinstaller_stage_duration_seconds",
			Help:    "Wall time of installation stages.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"stage"}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zinstaller_rollbacks_total",
			Help: "Installations that were rolled back.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zinstaller_commands_total",
			Help: "External commands by program and result.",
		}, []string{"cmd", "result"}),
		commandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zinstaller_command_latency_seconds",
			Help:    "Latency of external commands by program.",
			Buckets: prometheus.DefBuckets,
		}, []string{"cmd"}),
	}
	buildInfo := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "zinstaller_build_info",
		Help:        "Build info of the installer.",
		ConstLabels: prometheus.Labels{"version": version, "rev": rev},
	})
	m.reg.MustRegister(m.installs, m.installDuration, m.stageDuration, m.rollbacks, m.commands, m.commandLatency, buildInfo)
	buildInfo.Set(1)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveInstall(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.installs.WithLabelValues(result).Inc()
	m.installDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) IncRollback() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
}

func (m *Metrics) observeCommand(name string, d time.Duration, err error) {
	result := "ok"
	var ee *shell.ExitError
	switch {
	case err == nil:
	case errors.Is(err, shell.ErrTimeout):
		result = "timeout"
	case errors.As(err, &ee):
		result = "exit"
	default:
		result = "error"
	}
	m.commands.WithLabelValues(name, result).Inc()
	m.commandLatency.WithLabelValues(name).Observe(d.Seconds())
}

// InstrumentRunner counts and times every command run through r.
func InstrumentRunner(r shell.Runner, m *Metrics) shell.Runner {
	if m == nil {
		return r
	}
	return &instrumented{Runner: r, m: m}
}

type instrumented struct {
	shell.Runner
	m *Metrics
}

func (i *instrumented) Run(ctx context.Context, name string, args ...string) (shell.Result, error) {
	start := time.Now()
	res, err := i.Runner.Run(ctx, name, args...)
	i.m.observeCommand(name, time.Since(start), err)
	return res, err
}
