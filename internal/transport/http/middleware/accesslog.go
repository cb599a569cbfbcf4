package middleware

import (
	"net/http"
	"time"

	"github.com/baechuer/chatdesk-auth/internal/logger"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// AccessLog writes one line per request. 5xx log at error, 4xx at warn.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		start := time.Now()

		next.ServeHTTP(sw, r)

		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		lg := logger.WithCtx(r.Context())
		ev := lg.Info()
		switch {
		case sw.status >= 500:
			ev = lg.Error()
		case sw.status >= 400:
			ev = lg.Warn()
		}
		ev.
			Str("method", r.Method).
			Str("route", routePattern(r)).
			Int("status", sw.status).
			Int("bytes", sw.bytes).
			Dur("latency", time.Since(start)).
			Str("remote_ip", clientIP(r)).
			Msg("http_request")
	})
}
