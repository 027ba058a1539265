package admin

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/Shavakan/masterlock/pkg/logging"
)

//go:embed templates/status.html
var templatesFS embed.FS

var statusTemplate = template.Must(template.ParseFS(templatesFS, "templates/status.html"))

// StatusPage returns an http.Handler that renders the election status as a
// self-refreshing HTML page.
func StatusPage(status func(ctx context.Context) StatusResponse) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := statusTemplate.Execute(&buf, status(r.Context())); err != nil {
			adminLog.Error("status page render failed", slog.String(logging.KeyError, err.Error()))
			http.Error(w, "failed to render status", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = buf.WriteTo(w)
	})
}
