// Package metrics 收集并暴露 Prometheus 指标。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder 指标记录接口，业务层只依赖该接口
type Recorder interface {
	RecordAction(action, result string)
	RecordSessionAcquire(strategy, result string)
	RecordMonitorTick(result string)
	RecordRequestLatency(endpoint string, d time.Duration)
}

// Collector Prometheus 实现
type Collector struct {
	actions        *prometheus.CounterVec
	sessionAcquire *prometheus.CounterVec
	monitorTicks   *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	gatherer       prometheus.Gatherer
}

// NewCollector 创建 Collector 并注册到 reg
func NewCollector(reg *prometheus.Registry) *Collector {
	c := &Collector{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maizone_actions_total",
			Help: "QQ空间操作次数（发布、点赞、评论、回复、读取）",
		}, []string{"action", "result"}),
		sessionAcquire: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maizone_session_acquire_total",
			Help: "登录策略尝试次数",
		}, []string{"strategy", "result"}),
		monitorTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maizone_monitor_ticks_total",
			Help: "监控轮询次数",
		}, []string{"result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "maizone_request_latency_seconds",
			Help:    "QQ空间接口请求耗时（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		gatherer: reg,
	}

	reg.MustRegister(c.actions, c.sessionAcquire, c.monitorTicks, c.latency)
	return c
}

// RecordAction 记录一次操作
func (c *Collector) RecordAction(action, result string) {
	c.actions.WithLabelValues(action, result).Inc()
}

// RecordSessionAcquire 记录一次登录策略尝试
func (c *Collector) RecordSessionAcquire(strategy, result string) {
	c.sessionAcquire.WithLabelValues(strategy, result).Inc()
}

// RecordMonitorTick 记录一次监控轮询
func (c *Collector) RecordMonitorTick(result string) {
	c.monitorTicks.WithLabelValues(result).Inc()
}

// RecordRequestLatency 记录接口耗时
func (c *Collector) RecordRequestLatency(endpoint string, d time.Duration) {
	c.latency.WithLabelValues(endpoint).Observe(d.Seconds())
}

// Handler 返回 /metrics 处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Nop 不记录任何指标
type Nop struct{}

func (Nop) RecordAction(string, string)                {}
func (Nop) RecordSessionAcquire(string, string)        {}
func (Nop) RecordMonitorTick(string)                   {}
func (Nop) RecordRequestLatency(string, time.Duration) {}

// Result 将错误转换为 result 标签
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
