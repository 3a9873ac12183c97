package transport

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recovery turns a handler panic into a 500 response. http.ErrAbortHandler
// is re-raised so net/http can abort the connection.
func Recovery(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := NewStatusRecorder(w)
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}
				logger.Error("handler panicked",
					"request_id", RequestIDFromContext(r.Context()),
					"path", r.URL.Path,
					"panic", p,
					"stack", string(debug.Stack()),
				)
				if rec.status == 0 {
					WriteError(w, ServerError("internal server error"))
				}
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
