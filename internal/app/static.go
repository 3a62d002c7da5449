package app

import (
	"log/slog"
	"mime"
	"net/http"
)

func init() {
	registerMimeType(".css", "text/css; charset=utf-8")
	registerMimeType(".js", "text/javascript; charset=utf-8")
}

// registerMimeType fills gaps in minimal containers whose mime tables lack web types.
func registerMimeType(ext, typ string) {
	if mime.TypeByExtension(ext) != "" {
		return
	}
	if err := mime.AddExtensionType(ext, typ); err != nil {
		slog.Default().Warn("register mime type", slog.String("ext", ext), slog.Any("error", err))
	}
}

// staticCacheHandler caches embedded assets in the browser for an hour and keeps
// browsers from sniffing the activity script into another type.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}
