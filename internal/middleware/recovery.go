package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/jamesprial/storegate/internal/interfaces"
	"github.com/jamesprial/storegate/internal/pipeline"
)

// Recovery turns a panic in next into a 500 JSON response and an error log.
// http.ErrAbortHandler is re-raised so net/http aborts the connection.
func Recovery(logger interfaces.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := pipeline.NewStatusRecorder(w)
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}

				if logger != nil {
					logger.Error("Recovered from panic", map[string]any{
						"panic":      fmt.Sprint(v),
						"method":     r.Method,
						"path":       r.URL.Path,
						"request_id": r.Header.Get(pipeline.RequestIDHeader),
						"stack":      string(debug.Stack()),
					})
				}
				if !rec.WroteHeader() {
					pipeline.WriteError(rec, pipeline.NewError(pipeline.KindInternal, "Internal Server Error"))
				}
			}()

			next.ServeHTTP(rec, r)
		})
	}
}
