package observability

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

const traceIDHeader = "X-Trace-Id"

// Instrument wraps handler with an otelhttp server span. Spans are renamed to the chi route
// pattern once routing completes.
func Instrument(handler http.Handler, service string) http.Handler {
	return otelhttp.NewHandler(handler, service,
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// TraceMiddleware copies the active span's identifiers onto the request context for log
// correlation and echoes the trace id to the caller.
func TraceMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			spanCtx := trace.SpanContextFromContext(ctx)
			if spanCtx.IsValid() {
				info := requestctx.TraceInfo{
					TraceID: spanCtx.TraceID().String(),
					SpanID:  spanCtx.SpanID().String(),
					Sampled: spanCtx.IsSampled(),
				}
				ctx = requestctx.WithTrace(ctx, info)
				w.Header().Set(traceIDHeader, info.TraceID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))

			if rc := chi.RouteContext(ctx); rc != nil {
				if pattern := rc.RoutePattern(); pattern != "" {
					trace.SpanFromContext(ctx).SetName(r.Method + " " + SanitizeRoute(pattern))
				}
			}
		})
	}
}
