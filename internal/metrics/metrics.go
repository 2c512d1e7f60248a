// Package metrics exposes the forwarder's Prometheus instruments and the
// HTTP endpoint that serves them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "zbxbridge"

// Metrics groups the forwarder instruments. A nil *Metrics is valid and
// records nothing, so components can run without an exporter.
type Metrics struct {
	registry *prometheus.Registry

	ObservationsTotal prometheus.Counter
	SamplesEncoded    prometheus.Counter
	SamplesDelivered  prometheus.Counter
	SamplesDropped    *prometheus.CounterVec
	Flushes           *prometheus.CounterVec
	FlushLatency      prometheus.Histogram
	BufferedSamples   prometheus.Gauge
	QueuedBatches     prometheus.Gauge
	State             *prometheus.GaugeVec
}

// New creates the instruments on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ObservationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_total",
			Help:      "Observations received from the station.",
		}),
		SamplesEncoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_encoded_total",
			Help:      "Samples produced by the encoder.",
		}),
		SamplesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_delivered_total",
			Help:      "Samples accepted by Zabbix.",
		}),
		SamplesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_dropped_total",
			Help:      "Samples dropped without delivery, by reason.",
		}, []string{"reason"}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_attempts_total",
			Help:      "Delivery attempts, by outcome.",
		}, []string{"status"}),
		FlushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_latency_seconds",
			Help:      "Duration of one delivery attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		BufferedSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_samples",
			Help:      "Samples waiting in the open batch.",
		}),
		QueuedBatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_batches",
			Help:      "Sealed batches waiting for the delivery worker.",
		}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "forwarder_state",
			Help:      "1 for the forwarder's current state, 0 otherwise.",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		m.ObservationsTotal,
		m.SamplesEncoded,
		m.SamplesDelivered,
		m.SamplesDropped,
		m.Flushes,
		m.FlushLatency,
		m.BufferedSamples,
		m.QueuedBatches,
		m.State,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the instruments are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// IncObservations counts one received observation.
func (m *Metrics) IncObservations() {
	if m != nil {
		m.ObservationsTotal.Inc()
	}
}

// AddEncoded counts encoded samples.
func (m *Metrics) AddEncoded(n int) {
	if m != nil {
		m.SamplesEncoded.Add(float64(n))
	}
}

// AddDelivered counts samples the backend accepted.
func (m *Metrics) AddDelivered(n int) {
	if m != nil {
		m.SamplesDelivered.Add(float64(n))
	}
}

// AddDropped counts dropped samples under reason.
func (m *Metrics) AddDropped(reason string, n int) {
	if m != nil && n > 0 {
		m.SamplesDropped.WithLabelValues(reason).Add(float64(n))
	}
}

// ObserveFlush records one delivery attempt.
func (m *Metrics) ObserveFlush(status string, latency time.Duration) {
	if m != nil {
		m.Flushes.WithLabelValues(status).Inc()
		m.FlushLatency.Observe(latency.Seconds())
	}
}

// SetBuffered records the open batch size.
func (m *Metrics) SetBuffered(n int) {
	if m != nil {
		m.BufferedSamples.Set(float64(n))
	}
}

// SetQueued records the sealed-batch queue length.
func (m *Metrics) SetQueued(n int) {
	if m != nil {
		m.QueuedBatches.Set(float64(n))
	}
}

// SetState marks current as the active state among all.
func (m *Metrics) SetState(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.State.WithLabelValues(s).Set(v)
	}
}

// Serve exposes the registry on addr at /metrics until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics endpoint listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
