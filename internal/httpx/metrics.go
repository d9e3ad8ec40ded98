package httpx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/H2Shami/LLM-Arena/internal/domain"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

func (r *Router) initMetrics() {
	r.metricsOnce.Do(func() {
		r.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Subsystem: "orchestrator",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"})

		r.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arena",
			Subsystem: "orchestrator",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"})

		r.rateLimitHits = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Subsystem: "orchestrator",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"route", "key"})

		r.lifecycleTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Subsystem: "orchestrator",
			Name:      "run_transitions_total",
			Help:      "Count of run lifecycle status transitions observed by the HTTP surface",
		}, []string{"status"})

		r.portPoolUsed = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arena",
			Subsystem: "orchestrator",
			Name:      "port_pool_used",
			Help:      "Number of host ports currently allocated",
		})
		r.portPoolCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arena",
			Subsystem: "orchestrator",
			Name:      "port_pool_capacity",
			Help:      "Total size of the configured host port range",
		})

		collectors := []prometheus.Collector{
			r.requestTotal, r.requestDuration, r.rateLimitHits,
			r.lifecycleTransitions, r.portPoolUsed, r.portPoolCapacity,
		}
		for _, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch v := are.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						switch collector {
						case r.requestTotal:
							r.requestTotal = v
						case r.rateLimitHits:
							r.rateLimitHits = v
						case r.lifecycleTransitions:
							r.lifecycleTransitions = v
						}
					case *prometheus.HistogramVec:
						r.requestDuration = v
					case prometheus.Gauge:
						switch collector {
						case r.portPoolUsed:
							r.portPoolUsed = v
						case r.portPoolCapacity:
							r.portPoolCapacity = v
						}
					}
				}
			}
		}
		r.metricsInitialized = true
	})
}

// instrument wraps a handler with request counting, latency observation,
// and structured audit logging in one pass, mirroring the teacher's
// separate `audit`/`instrument` middlewares collapsed into one layer here
// since this daemon has no auth context to attribute requests to.
func (r *Router) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)

		if r.metricsInitialized {
			labels := prometheus.Labels{
				"method": req.Method,
				"route":  route,
				"status": strconv.Itoa(status),
			}
			r.requestTotal.With(labels).Inc()
			r.requestDuration.With(labels).Observe(duration.Seconds())
		}

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"route", route,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := req.Header.Get("X-Request-ID"); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

func (r *Router) recordRateLimitHit(route, key string) {
	if !r.metricsInitialized {
		return
	}
	r.rateLimitHits.With(prometheus.Labels{"route": route, "key": key}).Inc()
}

func (r *Router) recordTransition(status domain.Status) {
	if !r.metricsInitialized {
		return
	}
	r.lifecycleTransitions.With(prometheus.Labels{"status": string(status)}).Inc()
}

func (r *Router) recordPortPool(used, capacity int) {
	if !r.metricsInitialized {
		return
	}
	r.portPoolUsed.Set(float64(used))
	r.portPoolCapacity.Set(float64(capacity))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func clientIP(req *http.Request) string {
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return req.RemoteAddr
}
