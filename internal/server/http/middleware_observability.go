package http

import (
	"net/http"
	"time"

	"agentgate/internal/logging"
	"agentgate/internal/observability"
)

// ObservabilityMiddleware instruments HTTP requests with metrics and
// optional latency logging.
func ObservabilityMiddleware(metrics *observability.MetricsCollector, latencyLogger logging.Logger) func(http.Handler) http.Handler {
	hasLatencyLogger := !logging.IsNil(latencyLogger)
	return func(next http.Handler) http.Handler {
		if metrics == nil && !hasLatencyLogger {
			return next
		}
		latencyLogger = logging.OrNop(latencyLogger)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec, wrapped := wrapResponseWriter(w)
			start := time.Now()
			route := canonicalPath(r.URL.Path)

			next.ServeHTTP(wrapped, r)

			latency := time.Since(start)
			metrics.RecordHTTPRequest(r.Context(), r.Method, route, rec.status, latency)
			if hasLatencyLogger {
				latencyLogger.Info(
					"route=%s method=%s status=%d latency_ms=%.2f bytes=%d",
					route,
					r.Method,
					rec.status,
					float64(latency.Microseconds())/1000.0,
					rec.bytes,
				)
			}
		})
	}
}

// canonicalPath collapses trailing identifiers so metrics stay low-cardinality.
func canonicalPath(path string) string {
	switch {
	case path == "/" || path == "":
		return "/"
	case len(path) > 1 && path[len(path)-1] == '/':
		return path[:len(path)-1]
	}
	return path
}
