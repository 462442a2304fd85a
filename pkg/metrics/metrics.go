// Package metrics exports device readings and health to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NotCoffee418/obis_meter_reader/pkg/meter"
	"github.com/NotCoffee418/obis_meter_reader/pkg/types"
)

const (
	metricPrefix = "obis_meter_"

	eventAdded   = "added"
	eventChanged = "changed"
	eventRemoved = "removed"
)

// Recorder is a meter.Listener that keeps Prometheus series in step with the
// device caches.
type Recorder struct {
	gatherer prometheus.Gatherer

	values   *prometheus.GaugeVec
	events   *prometheus.CounterVec
	errors   *prometheus.CounterVec
	online   *prometheus.GaugeVec
	statuses *prometheus.CounterVec
}

// NewRecorder registers the meter metrics with reg. A nil reg uses a fresh
// registry, Handler then serves only these metrics.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := &Recorder{
		gatherer: reg,
		values: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "value",
				Help: "Last numeric reading per device and OBIS code",
			},
			[]string{"device", "obis", "unit"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "value_events_total",
				Help: "Total value events by device and kind",
			},
			[]string{"device", "event"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "errors_total",
				Help: "Total read errors by device",
			},
			[]string{"device"},
		),
		online: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "device_online",
				Help: "1 when the device delivered its last cycle",
			},
			[]string{"device"},
		),
		statuses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "status_changes_total",
				Help: "Total status transitions by device and detail",
			},
			[]string{"device", "status", "detail"},
		),
	}
	reg.MustRegister(r.values, r.events, r.errors, r.online, r.statuses)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func (r *Recorder) ValueAdded(device string, v types.MeterValue) {
	r.events.WithLabelValues(device, eventAdded).Inc()
	r.set(device, v)
}

func (r *Recorder) ValueChanged(device string, v types.MeterValue) {
	r.events.WithLabelValues(device, eventChanged).Inc()
	r.set(device, v)
}

func (r *Recorder) ValueRemoved(device string, v types.MeterValue) {
	r.events.WithLabelValues(device, eventRemoved).Inc()
	if !v.IsText {
		r.values.DeleteLabelValues(device, v.Obis.String(), v.Unit)
	}
}

func (r *Recorder) ErrorOccurred(device string, _ error) {
	r.errors.WithLabelValues(device).Inc()
}

func (r *Recorder) StatusChanged(device string, status meter.Status) {
	r.statuses.WithLabelValues(device, status.Kind.String(), status.Detail.String()).Inc()
	online := 0.0
	if status.Kind == meter.StatusOnline {
		online = 1
	}
	r.online.WithLabelValues(device).Set(online)
}

func (r *Recorder) set(device string, v types.MeterValue) {
	f, ok := v.Float()
	if !ok {
		return
	}
	r.values.WithLabelValues(device, v.Obis.String(), v.Unit).Set(f)
}
