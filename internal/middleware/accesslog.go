package middleware

import (
	"net/http"
	"time"

	"github.com/jamesprial/storegate/internal/interfaces"
	"github.com/jamesprial/storegate/internal/pipeline"
)

// AccessLog emits one line per request once it completes. Fields added with
// pipeline.AddLogField (such as the route name) are included.
func AccessLog(logger interfaces.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, extra := pipeline.WithLogFields(r.Context())
			rec := pipeline.NewStatusRecorder(w)

			next.ServeHTTP(rec, r.WithContext(ctx))

			fields := map[string]any{
				"request_id":  r.Header.Get(pipeline.RequestIDHeader),
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"remote_addr": r.RemoteAddr,
			}
			for k, v := range extra {
				fields[k] = v
			}

			switch {
			case rec.Status() >= 500:
				logger.Error("request completed", fields)
			case rec.Status() >= 400:
				logger.Warn("request completed", fields)
			default:
				logger.Info("request completed", fields)
			}
		})
	}
}
