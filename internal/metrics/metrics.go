package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the gateway
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // Actions counts dispatched marketplace actions by name and outcome
    Actions = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "gateway_actions_total", Help: "Dispatched actions by name and outcome."},
        []string{"action", "outcome"},
    )
    // PollCycles counts poll cycles per restaurant outcome
    PollCycles = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "gateway_poll_cycles_total", Help: "Poll cycles by outcome."},
        []string{"outcome"},
    )
    // PollEvents counts ingested events by code and outcome
    PollEvents = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "gateway_poll_events_total", Help: "Polled events by code and outcome."},
        []string{"code", "outcome"},
    )
    // UpstreamRequests counts marketplace API calls by operation and status class
    UpstreamRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "gateway_upstream_requests_total", Help: "Marketplace API calls by operation and status."},
        []string{"operation", "status"},
    )
    // NotificationDeliveries counts subscriber delivery outcomes by event type and status
    NotificationDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "gateway_notification_deliveries_total", Help: "Subscriber deliveries by event type and status."},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to the gateway registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(Actions)
        Registry.MustRegister(PollCycles)
        Registry.MustRegister(PollEvents)
        Registry.MustRegister(UpstreamRequests)
        Registry.MustRegister(NotificationDeliveries)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
