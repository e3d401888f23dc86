package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kiranshivaraju/codereview/internal/api/response"
)

// Recovery turns a handler panic into a 500 envelope carrying the request id,
// so a caller can quote it when reporting the failure. http.ErrAbortHandler is
// re-raised untouched.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			reqID := chimw.GetReqID(r.Context())
			slog.Error("panic recovered",
				"error", rec,
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)

			var details any
			if reqID != "" {
				details = map[string]string{"request_id": reqID}
			}
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "An unexpected error occurred", details)
		}()
		next.ServeHTTP(w, r)
	})
}
