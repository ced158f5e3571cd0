package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/conduit/correlation"
	"github.com/xraph/conduit/logscope"
)

// Correlation runs the rest of the chain inside a logging scope bound to
// the request's X-Correlation-ID, generating one when the header is absent.
// The identifier is echoed on the response.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := correlation.OrNew(correlation.ID(strings.TrimSpace(r.Header.Get(correlation.HeaderName))))
		w.Header().Set(correlation.HeaderName, cid.String())
		_ = logscope.Run(r.Context(), cid, func(ctx context.Context) error {
			next.ServeHTTP(w, r.WithContext(ctx))
			return nil
		})
	})
}

// RequestLogging logs one line per request. Mounted after Correlation the
// line carries the request's correlation id.
func RequestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "request handled",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
