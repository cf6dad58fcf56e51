// Package metrics 定义 velop 的 Prometheus 指标，每个 Server 持有独立的 Registry。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "velop"

// Result 标签取值。
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics 汇总编译、渲染与增量构建指标。
type Metrics struct {
	registry        *prometheus.Registry
	compileDuration *prometheus.HistogramVec
	renders         *prometheus.CounterVec
	rebuilds        *prometheus.CounterVec
}

// New 创建独立的指标注册表，并附带 Go 运行时与进程指标。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		compileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compile_duration_seconds",
			Help:      "Duration of bundle compiles per route.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"route", "mode", "result"}),
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_total",
			Help:      "Server-side renders per route.",
		}, []string{"route", "result"}),
		rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuild_total",
			Help:      "Watch-mode rebuilds per route.",
		}, []string{"route", "result"}),
	}
	m.registry.MustRegister(
		m.compileDuration,
		m.renders,
		m.rebuilds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveCompile 记录一次编译耗时。
func (m *Metrics) ObserveCompile(route, mode string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.compileDuration.WithLabelValues(route, mode, result(err)).Observe(d.Seconds())
}

// IncRender 记录一次渲染。
func (m *Metrics) IncRender(route string, err error) {
	if m == nil {
		return
	}
	m.renders.WithLabelValues(route, result(err)).Inc()
}

// IncRebuild 记录一次增量构建结果。
func (m *Metrics) IncRebuild(route string, err error) {
	if m == nil {
		return
	}
	m.rebuilds.WithLabelValues(route, result(err)).Inc()
}

// Registry 返回底层注册表。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 Prometheus 文本格式的 HTTP 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
