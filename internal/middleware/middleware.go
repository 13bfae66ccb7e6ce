package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"unified_portfolio/internal/logger"
)

// RequestLogger logs every request with its status, size and duration.
// Server errors log at error level, client errors at warn.
func RequestLogger(l *logger.Log) func(http.Handler) http.Handler {
	log := l.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				entry := log.WithFields(logger.Fields{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      ww.Status(),
					"bytes":       ww.BytesWritten(),
					"duration_ms": time.Since(start).Milliseconds(),
					"remote_ip":   getIP(r),
				})
				if id := chimw.GetReqID(r.Context()); id != "" {
					entry = entry.WithField("request_id", id)
				}

				switch status := ww.Status(); {
				case status >= 500:
					entry.Error("request failed")
				case status >= 400:
					entry.Warn("request rejected")
				default:
					entry.Debug("request served")
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
