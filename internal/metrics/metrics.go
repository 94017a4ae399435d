// Package metrics exposes prometheus collectors fed from the event bus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chronosend/internal/eventbus"
	"chronosend/internal/transport"
)

const namespace = "chronosend"

// Gauges are sampled on scrape. Any func may be nil.
type Gauges struct {
	ScheduledJobs  func() int
	TransportReady func() bool
	BusDropped     func() uint64
}

type Metrics struct {
	reg *prometheus.Registry

	firings       *prometheus.CounterVec
	notifications *prometheus.CounterVec
	acks          *prometheus.CounterVec
	sessions      *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	httpInFlight  prometheus.Gauge

	events <-chan eventbus.Event
	unsub  func()
}

func New(bus eventbus.Bus, g Gauges) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		firings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "firings_total",
			Help: "Task firings by outcome (started, finished, failed, skipped, dropped).",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Owner notifications by outcome.",
		}, []string{"outcome"}),
		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "acks_total",
			Help: "Transport acknowledgments received by level.",
		}, []string{"level"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transport_session_transitions_total",
			Help: "Transport session state changes by target state.",
		}, []string{"state"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.firings, m.notifications, m.acks, m.sessions,
		m.httpRequests, m.httpDuration, m.httpInFlight,
	)
	if g.ScheduledJobs != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "scheduled_jobs", Help: "Jobs currently registered with the scheduler.",
		}, func() float64 { return float64(g.ScheduledJobs()) }))
	}
	if g.TransportReady != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "transport_ready", Help: "1 when the transport session is ready.",
		}, func() float64 {
			if g.TransportReady() {
				return 1
			}
			return 0
		}))
	}
	if g.BusDropped != nil {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Name: "eventbus_dropped_total", Help: "Events dropped because a subscriber was full.",
		}, func() float64 { return float64(g.BusDropped()) }))
	}

	if bus != nil {
		m.events, m.unsub = bus.Subscribe(1024,
			eventbus.TypeTaskStarted, eventbus.TypeTaskFinished, eventbus.TypeTaskFailed,
			eventbus.TypeTaskSkipped, eventbus.TypeTaskDropped,
			eventbus.TypeNotifySent, eventbus.TypeNotifyFailed,
			eventbus.TypeAck, eventbus.TypeSessionChange,
		)
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Run counts bus events until ctx ends.
func (m *Metrics) Run(ctx context.Context) error {
	if m.events == nil {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-m.events:
			if !ok {
				return nil
			}
			m.observe(e)
		}
	}
}

func (m *Metrics) Close() {
	if m.unsub != nil {
		m.unsub()
	}
}

func (m *Metrics) observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeTaskStarted:
		m.firings.WithLabelValues("started").Inc()
	case eventbus.TypeTaskFinished:
		m.firings.WithLabelValues("finished").Inc()
	case eventbus.TypeTaskFailed:
		m.firings.WithLabelValues("failed").Inc()
	case eventbus.TypeTaskSkipped:
		m.firings.WithLabelValues("skipped").Inc()
	case eventbus.TypeTaskDropped:
		m.firings.WithLabelValues("dropped").Inc()
	case eventbus.TypeNotifySent:
		m.notifications.WithLabelValues("sent").Inc()
	case eventbus.TypeNotifyFailed:
		m.notifications.WithLabelValues("failed").Inc()
	case eventbus.TypeAck:
		if ev, ok := e.Data.(transport.AckEvent); ok {
			m.acks.WithLabelValues(ev.Level.String()).Inc()
		}
	case eventbus.TypeSessionChange:
		if info, ok := e.Data.(transport.SessionInfo); ok {
			m.sessions.WithLabelValues(info.State.String()).Inc()
		}
	}
}

// Middleware records request count, latency and in-flight requests. Routes are
// labelled by template to keep cardinality low.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		err := c.Next()

		route := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		labels := prometheus.Labels{
			"method": c.Method(),
			"route":  route,
			"status": strconv.Itoa(c.Response().StatusCode()),
		}
		m.httpRequests.With(labels).Inc()
		m.httpDuration.With(labels).Observe(time.Since(start).Seconds())
		return err
	}
}
