package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRepo struct {
	mu         sync.Mutex
	inserted   []Event
	rows       []TimelineRow
	insertErr  error
	lastOffset int
	lastLimit  int
}

func (s *stubRepo) InsertEvent(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, ev)
	return nil
}

func (s *stubRepo) ListEvents(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	s.lastOffset = offset
	s.lastLimit = limit
	if limit < len(s.rows) {
		return s.rows[:limit], nil
	}
	return s.rows, nil
}

func (s *stubRepo) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.inserted))
	copy(out, s.inserted)
	return out
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubRepo{rows: []TimelineRow{
		{ID: "1", Action: ActionUnauthorized, Severity: SeverityHigh},
		{ID: "2", Action: ActionSessionTimeout, Severity: SeverityMedium},
		{ID: "3", Action: ActionUnauthenticated, Severity: SeverityMedium},
	}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
	assert.True(t, result.Paging.HasNext)
	assert.Equal(t, 1, result.Paging.PrevPage)
	assert.Equal(t, 3, result.Paging.NextPage)
	assert.Equal(t, 2, repo.lastOffset)
	assert.Equal(t, 3, repo.lastLimit)
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, result.Paging.PageSize)
	assert.Equal(t, maxPageSize+1, repo.lastLimit)
	assert.NotNil(t, result.Rows)
}

func TestServiceRecordFillsIdentity(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)
	fixed := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	err := svc.Record(context.Background(), Event{
		Action:   ActionUnauthorized,
		Resource: ResourceAccess,
		Severity: SeverityHigh,
		Metadata: UnauthorizedMetadata{RequiredRoles: []string{"admin"}, UserRole: "manager", Action: "view"},
	})
	require.NoError(t, err)
	stored := repo.events()
	require.Len(t, stored, 1)
	assert.NotEqual(t, uuid.Nil, stored[0].ID)
	assert.Equal(t, fixed, stored[0].OccurredAt)
}

func TestEventValidate(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
	}{
		{"missing action", Event{Resource: ResourceAuth, Severity: SeverityLow}},
		{"bad severity", Event{Action: ActionLogin, Resource: ResourceAuth, Severity: "loud"}},
		{"metadata on wrong resource", Event{Action: ActionUnauthorized, Resource: ResourceSession, Severity: SeverityHigh, Metadata: UnauthorizedMetadata{}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.ev.Validate(), ErrInvalidEvent)
		})
	}
}

func TestDecodeMetadataRestoresVariant(t *testing.T) {
	raw, err := EncodeMetadata(UnauthorizedMetadata{RequiredRoles: []string{"admin"}, UserRole: "manager", Action: "edit"})
	require.NoError(t, err)

	meta, err := DecodeMetadata(raw)
	require.NoError(t, err)
	unauthorized, ok := meta.(UnauthorizedMetadata)
	require.True(t, ok, "expected UnauthorizedMetadata, got %T", meta)
	assert.Equal(t, "manager", unauthorized.UserRole)

	_, err = DecodeMetadata([]byte(`{"kind":"mystery","data":{}}`))
	assert.Error(t, err)

	meta, err = DecodeMetadata([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestAsyncRecorderCompletesPending(t *testing.T) {
	repo := &stubRepo{}
	rec := NewAsyncRecorder(NewService(repo), nil, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	p := rec.Record(ctx, Event{Action: ActionLogout, Resource: ResourceAuth, Severity: SeverityLow})
	cancel()

	require.NoError(t, p.Wait(context.Background()))
	assert.Len(t, repo.events(), 1)
}

func TestAsyncRecorderRejectsInvalidEvent(t *testing.T) {
	repo := &stubRepo{}
	rec := NewAsyncRecorder(NewService(repo), nil, time.Second)

	err := rec.Record(context.Background(), Event{}).Wait(context.Background())
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.Empty(t, repo.events())
}

func TestBatchWaitReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	var batch Batch
	batch.Add(Resolved(nil))
	batch.Add(Go(func() error { return boom }))
	batch.Add(nil)

	assert.Equal(t, 2, batch.Len())
	assert.ErrorIs(t, batch.Wait(context.Background()), boom)
}

func TestObservedSeesEveryEvent(t *testing.T) {
	var seen []string
	rec := Observed(Discard{}, func(ev Event) { seen = append(seen, ev.Action) })
	_ = rec.Record(context.Background(), Event{Action: ActionLogin})
	_ = rec.Record(context.Background(), Event{Action: ActionLogout})
	assert.Equal(t, []string{ActionLogin, ActionLogout}, seen)
}
