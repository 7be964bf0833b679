// Package metrics exposes looper statistics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds every looper metric in a private registry.
type Metrics struct {
	reg *prometheus.Registry

	CapturedBytes  prometheus.Counter
	CaptureDropped prometheus.Counter
	DrainErrors    prometheus.Counter
	DeviceSwitches *prometheus.CounterVec
	BindFailures   prometheus.Counter
	PlayedBytes    prometheus.Counter
	Slots          prometheus.Gauge
	Recording      prometheus.Gauge
	Playing        prometheus.Gauge
}

// New creates the metrics and registers them along with the process and Go
// runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	return &Metrics{
		reg: reg,

		CapturedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "looper_captured_bytes_total",
			Help: "Bytes drained from the capture stream into sample slots",
		}),
		CaptureDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "looper_capture_dropped_bytes_total",
			Help: "Captured bytes discarded because the capture queue was full",
		}),
		DrainErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "looper_drain_errors_total",
			Help: "Capture stream errors seen while draining",
		}),
		DeviceSwitches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "looper_device_switches_total",
			Help: "Successful device selections",
		}, []string{"direction"}),
		BindFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "looper_stream_bind_failures_total",
			Help: "Streams that failed to bind to a device",
		}),
		PlayedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "looper_played_bytes_total",
			Help: "Bytes queued to slot playback streams",
		}),
		Slots: f.NewGauge(prometheus.GaugeOpts{
			Name: "looper_slots",
			Help: "Number of sample slots",
		}),
		Recording: f.NewGauge(prometheus.GaugeOpts{
			Name: "looper_recording",
			Help: "1 while recording",
		}),
		Playing: f.NewGauge(prometheus.GaugeOpts{
			Name: "looper_playing",
			Help: "1 while playing",
		}),
	}
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// SetBool sets g to 1 or 0.
func SetBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
	} else {
		g.Set(0)
	}
}

// Serve exposes /metrics on addr until ctx is canceled.
func (m *Metrics) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	promHandler := promhttp.InstrumentMetricHandler(
		m.reg, promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}),
	)
	mux.Handle("/metrics", promHandler)
	hs := http.Server{
		Addr:        addr,
		BaseContext: func(net.Listener) context.Context { return ctx },
		Handler:     mux,
	}
	log.Info().Str("addr", addr).Msg("Exposing prometheus metrics")
	go func() {
		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hs.Shutdown(ctx)
	}()
	if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
