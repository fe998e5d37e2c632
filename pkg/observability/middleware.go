package observability

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ajitpratap0/transcript-mcp/pkg/logging"
)

// RouteFunc maps a request to a low-cardinality route label.
type RouteFunc func(r *http.Request) string

// HTTPMiddleware records request metrics and, when tracing is non-nil, wraps
// each request in a server span. Either of metrics and tracing may be nil.
func HTTPMiddleware(metrics *Metrics, tracing *TracingProvider, route RouteFunc) func(http.Handler) http.Handler {
	if route == nil {
		route = func(r *http.Request) string { return r.URL.Path }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			label := route(r)
			start := time.Now()
			rw := logging.NewResponseRecorder(w)

			if tracing != nil {
				ctx := tracing.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
				ctx, span := tracing.StartRouteSpan(ctx, label, r.Method)
				defer func() {
					status := rw.Status()
					span.SetAttributes(attribute.Int("http.status_code", status))
					if status >= http.StatusInternalServerError {
						span.SetStatus(codes.Error, http.StatusText(status))
					}
					span.End()
				}()
				r = r.WithContext(ctx)
			}

			next.ServeHTTP(rw, r)

			if metrics != nil {
				metrics.ObserveRequest(label, rw.Status(), time.Since(start))
			}
		})
	}
}
