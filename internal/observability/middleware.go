package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/lguibr/Mimeflow/internal/observability/metrics"
)

// HTTPMiddleware records request metrics labeled by chi route pattern and logs each request.
func HTTPMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}
			duration := time.Since(start)
			m.RecordRequest("http", r.Method+" "+route, strconv.Itoa(code), duration.Seconds())

			log.Debug().
				Str("method", r.Method).
				Str("route", route).
				Int("status", code).
				Dur("duration", duration).
				Msg("HTTP request")
		})
	}
}
