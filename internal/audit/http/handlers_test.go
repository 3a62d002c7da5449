package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-strategy/internal/audit"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.TimelineRow
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

func newAuditHandler(service *stubTimelineService) *Handler {
	handler := NewHandler(nil, service)
	handler.now = func() time.Time { return time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC) }
	return handler
}

func TestListReturnsJSON(t *testing.T) {
	rows := []audit.TimelineRow{{ID: "1", Action: audit.ActionUnauthorized, Severity: audit.SeverityHigh, UserID: "9"}}
	service := &stubTimelineService{result: audit.Result{Rows: rows, Paging: audit.PagingInfo{Page: 1, PageSize: 20}}}
	handler := newAuditHandler(service)

	req := httptest.NewRequest(http.MethodGet, "/admin/security-events?from=2025-03-01&to=2025-03-14&severity=HIGH", nil)
	rr := httptest.NewRecorder()
	handler.handleList(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body audit.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Rows, 1)
	assert.Equal(t, "9", body.Rows[0].UserID)
	assert.Equal(t, 1, body.Paging.Page)
	assert.Equal(t, audit.SeverityHigh, service.lastFilters.Severity)
	assert.Equal(t, "2025-03-01", service.lastFilters.From.Format("2006-01-02"))
	assert.Equal(t, "2025-03-15", service.lastFilters.To.Format("2006-01-02"))
}

func TestListDefaultsToLastWeek(t *testing.T) {
	service := &stubTimelineService{}
	handler := newAuditHandler(service)

	rr := httptest.NewRecorder()
	handler.handleList(rr, httptest.NewRequest(http.MethodGet, "/admin/security-events", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, defaultDateRange, service.lastFilters.To.Sub(service.lastFilters.From))
	assert.Equal(t, defaultPageSize, service.lastFilters.PageSize)
}

func TestListRejectsBadFilters(t *testing.T) {
	handler := newAuditHandler(&stubTimelineService{})
	for _, query := range []string{"severity=loud", "page=0", "from=2025-03-10&to=2025-03-01", "from=2024-01-01&to=2025-03-01"} {
		rr := httptest.NewRecorder()
		handler.handleList(rr, httptest.NewRequest(http.MethodGet, "/admin/security-events?"+query, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, query)
	}
}

func TestExportCSV(t *testing.T) {
	rows := []audit.TimelineRow{{
		ID:       "1",
		At:       time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
		Action:   audit.ActionSuspiciousURL,
		Resource: audit.ResourceSecurity,
		Severity: audit.SeverityHigh,
		Metadata: audit.SuspiciousURLMetadata{URL: "/goals?q=<script>", Pattern: "script-tag"},
	}}
	handler := newAuditHandler(&stubTimelineService{exportRows: rows})

	rr := httptest.NewRecorder()
	handler.handleExport(rr, httptest.NewRequest(http.MethodGet, "/admin/security-events/export.csv", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/csv")
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "security.suspicious_url")
	assert.Contains(t, lines[1], "script-tag")
}
