package guard

import (
	"net"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-strategy/internal/audit"
)

var framedDestinations = map[string]struct{}{
	"iframe": {},
	"frame":  {},
	"embed":  {},
	"object": {},
}

// DetectFraming reports whether r is a navigation loaded inside a frame, based on the
// Fetch Metadata destination. Requests to a host ending in previewSuffix are exempt.
func DetectFraming(r *http.Request, previewSuffix string) (audit.FramingMetadata, bool) {
	dest := strings.ToLower(strings.TrimSpace(r.Header.Get("Sec-Fetch-Dest")))
	if _, ok := framedDestinations[dest]; !ok {
		return audit.FramingMetadata{}, false
	}
	host := requestHost(r)
	if previewSuffix != "" && strings.HasSuffix(host, strings.ToLower(previewSuffix)) {
		return audit.FramingMetadata{}, false
	}
	return audit.FramingMetadata{Host: host, Referer: r.Referer(), FetchDest: dest}, true
}

func requestHost(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}
