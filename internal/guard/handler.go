package guard

import (
	"net/http"

	"github.com/odyssey-erp/odyssey-strategy/internal/view"
)

var knownReasons = map[string]struct{}{
	ReasonSuspicious:   {},
	ReasonIPRestricted: {},
	ReasonUnauthorized: {},
}

// DeniedHandler serves the access-denied route redirects land on.
func (g *Guard) DeniedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reason := r.URL.Query().Get("reason")
		if _, ok := knownReasons[reason]; !ok {
			reason = ReasonUnauthorized
		}
		g.render(w, http.StatusForbidden, view.PageAccessDenied, view.TemplateData{
			Title:       "Access denied",
			CurrentPath: r.URL.Path,
			Data:        DeniedView{Reason: reason},
		})
	}
}
