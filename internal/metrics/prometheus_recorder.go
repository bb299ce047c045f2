package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "holocommander"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	handshakes      *prom.CounterVec
	heartbeats      *prom.CounterVec
	commandDuration *prom.HistogramVec
	connected       *prom.GaugeVec
	taskFailures    *prom.CounterVec
	fleetSize       prom.Gauge
}

// NewPrometheusRecorder constructs and registers the device metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		handshakes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Handshake attempts by outcome",
		}, []string{"result"}),
		heartbeats: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeat ticks by outcome",
		}, []string{"result"}),
		commandDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Duration of device commands",
			Buckets:   prom.DefBuckets,
		}, []string{"operation", "result"}),
		connected: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "device_connected",
			Help:      "1 when the device has a live session",
		}, []string{"device"}),
		taskFailures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "task_failures_total",
			Help:      "Failed background tasks by task name",
		}, []string{"task"}),
		fleetSize: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "fleet_devices",
			Help:      "Number of managed devices",
		}),
	}
	reg.MustRegister(pr.handshakes, pr.heartbeats, pr.commandDuration, pr.connected, pr.taskFailures, pr.fleetSize)
	return pr
}

func (p *PrometheusRecorder) IncHandshake(result ResultLabel) {
	if p == nil {
		return
	}
	p.handshakes.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) IncHeartbeat(result ResultLabel) {
	if p == nil {
		return
	}
	p.heartbeats.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveCommandDuration(operation string, d time.Duration, success bool) {
	if p == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.commandDuration.WithLabelValues(operation, res).Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetConnected(device string, connected bool) {
	if p == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	p.connected.WithLabelValues(device).Set(v)
}

func (p *PrometheusRecorder) IncTaskFailure(task string) {
	if p == nil {
		return
	}
	p.taskFailures.WithLabelValues(task).Inc()
}

func (p *PrometheusRecorder) SetFleetSize(n int) {
	if p == nil {
		return
	}
	p.fleetSize.Set(float64(n))
}

// ForgetDevice drops the connected gauge series of a removed device.
func (p *PrometheusRecorder) ForgetDevice(device string) {
	if p == nil {
		return
	}
	p.connected.DeleteLabelValues(device)
}

// HTTPHandler returns an http.Handler that serves Prometheus metrics for the provided registry.
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
