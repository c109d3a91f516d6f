// Package metrics exports scheduler activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/flowsim/internal/emit"
	"github.com/roach88/flowsim/internal/engine"
)

const namespace = "flowsim"

// Observer is an engine.Observer that records Prometheus metrics.
type Observer struct {
	engine.NoopObserver

	FlowsStarted     *prometheus.CounterVec
	FlowsTerminated  *prometheus.CounterVec
	Events           *prometheus.CounterVec
	MutationsSkipped *prometheus.CounterVec
	SlotsSkipped     prometheus.Counter
	Ticks            prometheus.Counter
	FlowSteps        *prometheus.HistogramVec
	// FlowSimDuration is the simulated (local clock) length of each flow.
	FlowSimDuration *prometheus.HistogramVec
	// SimClock is the simulated time at the end of the last tick.
	SimClock prometheus.Gauge
}

// NewObserver registers the scheduler metrics with reg.
func NewObserver(reg prometheus.Registerer) *Observer {
	f := promauto.With(reg)
	return &Observer{
		FlowsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_started_total",
			Help:      "Flow instances started, by template.",
		}, []string{"template"}),
		FlowsTerminated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_terminated_total",
			Help:      "Flow instances terminated, by template and status.",
		}, []string{"template", "status"}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events emitted, by event type.",
		}, []string{"event_type"}),
		MutationsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_skipped_total",
			Help:      "Mutations skipped because no entity of the type was claimed.",
		}, []string{"entity_type"}),
		SlotsSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slots_skipped_total",
			Help:      "Concurrency slots with no eligible template.",
		}),
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Ticks completed.",
		}),
		FlowSteps: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_steps",
			Help:      "Intents yielded per flow instance.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 500, 1000},
		}, []string{"template"}),
		FlowSimDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_simulated_duration_seconds",
			Help:      "Simulated time between a flow's start and its termination.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 10, 8),
		}, []string{"template"}),
		SimClock: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "simulated_clock_seconds",
			Help:      "Simulated Unix time at the end of the last completed tick.",
		}),
	}
}

func (o *Observer) OnTick(_ context.Context, w engine.Window, _ int) {
	o.Ticks.Inc()
	o.SimClock.Set(float64(w.End.Unix()) + float64(w.End.Nanosecond())/1e9)
}

func (o *Observer) OnSlotSkipped(context.Context, engine.Window) {
	o.SlotsSkipped.Inc()
}

func (o *Observer) OnFlowStart(_ context.Context, inst *engine.Instance) {
	o.FlowsStarted.WithLabelValues(inst.Template.Name).Inc()
}

func (o *Observer) OnFlowEnd(_ context.Context, inst *engine.Instance) {
	name := inst.Template.Name
	o.FlowsTerminated.WithLabelValues(name, inst.Status.String()).Inc()
	o.FlowSteps.WithLabelValues(name).Observe(float64(inst.Steps()))
	o.FlowSimDuration.WithLabelValues(name).Observe(inst.Clock.Sub(inst.Start).Seconds())
}

func (o *Observer) OnEvent(_ context.Context, _ *engine.Instance, ev emit.Event) {
	o.Events.WithLabelValues(ev.Type).Inc()
}

func (o *Observer) OnMutationSkipped(_ context.Context, _ *engine.Instance, entityType string) {
	o.MutationsSkipped.WithLabelValues(entityType).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", slog.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
