// Package metrics exposes Prometheus metrics for the motor controller link.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ProtocolCollector bundles the serial protocol and mount metrics. A nil
// *ProtocolCollector is valid and records nothing.
type ProtocolCollector struct {
	gatherer prometheus.Gatherer

	Transactions *prometheus.CounterVec
	Retries      *prometheus.CounterVec
	Latency      *prometheus.HistogramVec
	AxisDegrees  *prometheus.GaugeVec
	Connected    prometheus.Gauge
}

// NewProtocolCollector registers the metrics against reg, defaulting to the
// global registry when nil.
func NewProtocolCollector(reg prometheus.Registerer) (*ProtocolCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	transactions, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skywatcher_transactions_total",
		Help: "Motor controller transactions, labeled by command and outcome.",
	}, []string{"command", "outcome"}), "skywatcher_transactions_total")
	if err != nil {
		return nil, err
	}
	retries, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skywatcher_retries_total",
		Help: "Transactions resubmitted after a transport failure.",
	}, []string{"command"}), "skywatcher_retries_total")
	if err != nil {
		return nil, err
	}
	latency, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skywatcher_transaction_duration_seconds",
		Help:    "Motor controller round trip time in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}, []string{"command"}), "skywatcher_transaction_duration_seconds")
	if err != nil {
		return nil, err
	}
	axis, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mount_axis_position_degrees",
		Help: "Last observed axis position.",
	}, []string{"axis"}), "mount_axis_position_degrees")
	if err != nil {
		return nil, err
	}
	connected, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mount_connected",
		Help: "1 while the motor controller is connected and calibrated.",
	}), "mount_connected")
	if err != nil {
		return nil, err
	}

	return &ProtocolCollector{
		gatherer:     gatherer,
		Transactions: transactions,
		Retries:      retries,
		Latency:      latency,
		AxisDegrees:  axis,
		Connected:    connected,
	}, nil
}

// ObserveTransaction records one completed transaction.
func (c *ProtocolCollector) ObserveTransaction(command, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.Transactions.WithLabelValues(command, outcome).Inc()
	c.Latency.WithLabelValues(command).Observe(d.Seconds())
}

func (c *ProtocolCollector) ObserveRetry(command string) {
	if c == nil {
		return
	}
	c.Retries.WithLabelValues(command).Inc()
}

func (c *ProtocolCollector) SetAxisPosition(axis string, degrees float64) {
	if c == nil {
		return
	}
	c.AxisDegrees.WithLabelValues(axis).Set(degrees)
}

func (c *ProtocolCollector) SetConnected(connected bool) {
	if c == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	c.Connected.Set(v)
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ProtocolCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return c, nil
}
