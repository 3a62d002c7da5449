package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-strategy/internal/activity"
	"github.com/odyssey-erp/odyssey-strategy/internal/observability"
)

type stubInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	info, ok := s.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func serveHealth(t *testing.T, inspector QueueInspector) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(inspector, nil).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	return rec
}

func TestHealthReportsQueues(t *testing.T) {
	rec := serveHealth(t, stubInspector{infos: map[string]*asynq.QueueInfo{
		QueueSecurity: {Queue: QueueSecurity, Pending: 4, Failed: 1},
	}})
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `{"queue":"security","pending":4,"failed":1}`)
	assert.Contains(t, body, `{"queue":"default","pending":0,"failed":0}`)
}

func TestHealthUnavailableOnInspectorError(t *testing.T) {
	rec := serveHealth(t, stubInspector{err: errors.New("redis down")})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthWithoutInspector(t *testing.T) {
	rec := serveHealth(t, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, strings.Count(rec.Body.String(), `"pending":0`))
}

func TestSweepCron(t *testing.T) {
	reg := SweepCron(0)
	assert.Equal(t, "@every 1m0s", reg.Spec)
	assert.Equal(t, activity.TaskTypeSweep, reg.Task.Type())

	reg = SweepCron(30 * time.Second)
	assert.Equal(t, "@every 30s", reg.Spec)
}

func TestNewWorkerRejectsBadCron(t *testing.T) {
	_, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Cron:      []CronRegistration{{Spec: "not a schedule", Task: activity.NewSweepTask()}},
	})
	assert.Error(t, err)
}

func TestTrackedRecordsRuns(t *testing.T) {
	metrics := observability.NewMetrics()
	boom := errors.New("boom")
	handler := Tracked(metrics, activity.TaskTypeSweep, func(context.Context, *asynq.Task) error { return boom })

	err := handler(context.Background(), activity.NewSweepTask())
	assert.ErrorIs(t, err, boom)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `odyssey_jobs_total{job="session:sweep",status="failure"} 1`)
}
