// Package metrics holds the prometheus collectors shared by the observer's
// components and the HTTP router that exposes them.
package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DispatcherTasks counts tasks executed by the dispatcher worker pool.
	DispatcherTasks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "observerd",
			Subsystem: "dispatcher",
			Name:      "tasks_total",
			Help:      "Total number of dispatcher tasks executed",
		},
	)

	// DispatcherDiscarded counts tasks that were accepted but never run,
	// either because their object was being detached or the dispatcher was terminated.
	DispatcherDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "observerd",
			Subsystem: "dispatcher",
			Name:      "discarded_tasks_total",
			Help:      "Total number of dispatcher tasks discarded during detach or terminate",
		},
	)

	// GrabberEvents counts connection lifecycle events by name.
	GrabberEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "observerd",
			Subsystem: "grabber",
			Name:      "events_total",
			Help:      "Grabber connection events (connected, connect_failed, closed)",
		},
		[]string{"event"},
	)

	// GrabberMessages counts outgoing messages by kind and result (sent, dropped, failed).
	GrabberMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "observerd",
			Subsystem: "grabber",
			Name:      "messages_total",
			Help:      "Outgoing grabber messages by kind and result",
		},
		[]string{"kind", "result"},
	)

	// DeviceObserverActive is 1 while a device observer exists.
	DeviceObserverActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "observerd",
			Subsystem: "device_observer",
			Name:      "active",
			Help:      "Whether the device observer is currently running",
		},
	)

	// VersionChecks counts version re-checks by trigger (manual, fsnotify).
	VersionChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "observerd",
			Subsystem: "version",
			Name:      "checks_total",
			Help:      "Version file checks by trigger",
		},
		[]string{"trigger"},
	)
)

func init() {
	prometheus.MustRegister(
		DispatcherTasks,
		DispatcherDiscarded,
		GrabberEvents,
		GrabberMessages,
		DeviceObserverActive,
		VersionChecks,
	)
}

// Router returns an http.Handler serving /metrics and a trivial /healthz.
func Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}
