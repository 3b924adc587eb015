// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	GateDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitegate_gate_decisions_total",
		Help: "Route gate decisions by outcome",
	}, []string{"decision"})

	AvailabilityUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitegate_availability_updates_total",
		Help: "Availability update attempts by result",
	}, []string{"result"}) // ok, missing, duplicate, write_failure, forbidden

	AvailabilityPushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitegate_availability_pushes_total",
		Help: "Pushed singleton updates by how they were applied",
	}, []string{"outcome"}) // applied, duplicate, stale, malformed

	SiteUnavailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sitegate_site_unavailable",
		Help: "1 while the public site shows the maintenance notice",
	})

	StreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sitegate_availability_stream_clients",
		Help: "Open availability event streams",
	})

	ContentFetchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sitegate_content_fetch_errors_total",
		Help: "Content fetches that failed and were served empty",
	})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitegate_http_requests_total",
		Help: "HTTP requests by method and status code",
	}, []string{"method", "code"})

	RPCRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitegate_grpc_requests_total",
		Help: "gRPC calls by full method and status code",
	}, []string{"method", "code"})
)

func init() {
	prometheus.MustRegister(
		GateDecisions,
		AvailabilityUpdates, AvailabilityPushes, SiteUnavailable,
		StreamClients, ContentFetchErrors, HTTPRequests, RPCRequests,
	)
}

// SetUnavailable records the current availability flag.
func SetUnavailable(unavailable bool) {
	if unavailable {
		SiteUnavailable.Set(1)
		return
	}
	SiteUnavailable.Set(0)
}

// ObserveHTTP counts one finished request.
func ObserveHTTP(method string, code int) {
	HTTPRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

// ObserveRPC counts one finished gRPC call.
func ObserveRPC(method, code string) {
	RPCRequests.WithLabelValues(method, code).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
