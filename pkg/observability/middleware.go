package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rhuss/sktools/pkg/transport"
)

const unmatchedRoute = "unmatched"

// MetricsMiddleware counts and times every request by method, status class
// and ServeMux pattern. It reads r.Pattern after the mux has run, so it must
// wrap the mux directly.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		rec := transport.NewStatusRecorder(w)
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = unmatchedRoute
		}
		RequestsTotal.WithLabelValues(r.Method, statusClass(rec.Status()), route).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(began).Seconds())
	})
}

// statusClass buckets a status code as "2xx", "4xx" and so on. A handler
// that never wrote anything answered 200.
func statusClass(code int) string {
	if code == 0 {
		code = http.StatusOK
	}
	return strconv.Itoa(code/100) + "xx"
}
