package tracing

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPMiddleware names server spans by route prefix so per-key paths do not
// explode span cardinality.
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + routePrefix(r.URL.Path)
			}),
			otelhttp.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/metrics" && r.URL.Path != "/health/live"
			}),
		)
	}
}

func routePrefix(path string) string {
	for _, prefix := range []string{"/stream/", "/download/", "/result/", "/v1/jobs/"} {
		if strings.HasPrefix(path, prefix) {
			return prefix + "{key}"
		}
	}
	return path
}
