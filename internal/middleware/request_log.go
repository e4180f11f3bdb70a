package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/teamchat/internal/logger"
)

// RequestLog логирует method, path, статус и время выполнения (асинхронно, не блокирует).
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		d := time.Since(start)
		if ww.Status() >= http.StatusInternalServerError {
			logger.Errorf("http %s %s -> %d (%v) req=%s", r.Method, r.URL.Path, ww.Status(), d, chimw.GetReqID(r.Context()))
			return
		}
		if logger.IsDebug() || d >= 100*time.Millisecond {
			logger.Infof("http %s %s -> %d (%v)", r.Method, r.URL.Path, ww.Status(), d)
		}
	})
}
