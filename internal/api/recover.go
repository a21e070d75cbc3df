package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/drugquery/drugquery/internal/observability"
	"github.com/drugquery/drugquery/internal/ui"
)

// Recover turns a panic in a handler into the generic failure response and
// logs the stack.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				detail := fmt.Sprint(rec)
				logger.ErrorContext(r.Context(), "handler_panic",
					slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
					slog.String("path", r.URL.Path),
					slog.String("panic", detail),
					slog.String("stack", string(debug.Stack())),
				)

				failure := fallbackFailure(detail)
				if wantsHTML(r) {
					ui.Render(w, http.StatusInternalServerError, ui.IndexPage(ui.Page{
						StaticPath: staticPrefix,
						Error:      failure.Message,
						TraceID:    observability.TraceIDFromContext(r.Context()),
					}))
					return
				}
				writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL", failure.Message, false, nil)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func wantsHTML(r *http.Request) bool {
	if r.URL.Path == "/query" {
		return true
	}
	return !strings.HasPrefix(r.URL.Path, "/v1/") && strings.Contains(r.Header.Get("Accept"), "text/html")
}
