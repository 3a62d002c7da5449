package planning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-strategy/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-strategy/internal/platform/httpx"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	cacheNamespace  = "planning"

	// localSummaryTTL bounds how long a replica serves its own copy when a
	// bump notification is missed.
	localSummaryTTL = 30 * time.Second
)

type summaryMemo struct {
	day string
	sum Summary
	at  time.Time
}

// Service validates planning writes and serves the cached dashboard summary.
type Service struct {
	repo     Repository
	cache    *cache.Versioned
	validate *validator.Validate
	policy   *bluemonday.Policy
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	memo *summaryMemo
}

// NewService constructs a Service. summaries may be nil to disable caching.
func NewService(repo Repository, summaries *cache.Versioned, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		cache:    summaries,
		validate: validator.New(),
		policy:   bluemonday.UGCPolicy(),
		logger:   logger,
		now:      time.Now,
	}
}

// NewSummaryCache builds the versioned cache used for dashboard summaries.
func NewSummaryCache(client redis.UniversalClient, ttl time.Duration) *cache.Versioned {
	return cache.NewVersioned(client, cacheNamespace, ttl)
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ListGoals returns a page of goals.
func (s *Service) ListGoals(ctx context.Context, filter ListFilter) ([]Goal, error) {
	return s.repo.ListGoals(ctx, page(filter))
}

// GetGoal returns one goal.
func (s *Service) GetGoal(ctx context.Context, id int64) (Goal, error) {
	return s.repo.GetGoal(ctx, id)
}

// CreateGoal validates and stores a goal.
func (s *Service) CreateGoal(ctx context.Context, in GoalInput) (Goal, error) {
	in, err := s.cleanGoal(in)
	if err != nil {
		return Goal{}, err
	}
	goal, err := s.repo.InsertGoal(ctx, in)
	if err != nil {
		return Goal{}, err
	}
	s.invalidate(ctx)
	return goal, nil
}

// UpdateGoal validates and replaces a goal.
func (s *Service) UpdateGoal(ctx context.Context, id int64, in GoalInput) (Goal, error) {
	in, err := s.cleanGoal(in)
	if err != nil {
		return Goal{}, err
	}
	goal, err := s.repo.UpdateGoal(ctx, id, in)
	if err != nil {
		return Goal{}, err
	}
	s.invalidate(ctx)
	return goal, nil
}

// DeleteGoal removes a goal and its initiatives.
func (s *Service) DeleteGoal(ctx context.Context, id int64) error {
	if err := s.repo.DeleteGoal(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// ListInitiatives returns a page of initiatives.
func (s *Service) ListInitiatives(ctx context.Context, filter ListFilter) ([]Initiative, error) {
	return s.repo.ListInitiatives(ctx, page(filter))
}

// CreateInitiative validates and stores an initiative.
func (s *Service) CreateInitiative(ctx context.Context, in InitiativeInput) (Initiative, error) {
	in, err := s.cleanInitiative(in)
	if err != nil {
		return Initiative{}, err
	}
	created, err := s.repo.InsertInitiative(ctx, in)
	if err != nil {
		return Initiative{}, err
	}
	s.invalidate(ctx)
	return created, nil
}

// UpdateInitiative validates and replaces an initiative.
func (s *Service) UpdateInitiative(ctx context.Context, id int64, in InitiativeInput) (Initiative, error) {
	in, err := s.cleanInitiative(in)
	if err != nil {
		return Initiative{}, err
	}
	updated, err := s.repo.UpdateInitiative(ctx, id, in)
	if err != nil {
		return Initiative{}, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// DeleteInitiative removes an initiative.
func (s *Service) DeleteInitiative(ctx context.Context, id int64) error {
	if err := s.repo.DeleteInitiative(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// Dashboard returns the summary, served from cache while the planning version is unchanged.
func (s *Service) Dashboard(ctx context.Context) (Summary, error) {
	now := s.now()
	today := now.UTC().Truncate(24 * time.Hour)
	day := today.Format("2006-01-02")
	if sum, ok := s.memoized(day, now); ok {
		return sum, nil
	}
	key, err := s.cache.BuildKey(ctx, cacheNamespace, "summary", day)
	if err != nil {
		s.logger.Warn("planning cache key", slog.Any("error", err))
		return s.repo.Summary(ctx, today)
	}
	var sum Summary
	err = s.cache.FetchJSON(ctx, key, &sum, func(ctx context.Context) (any, error) {
		return s.repo.Summary(ctx, today)
	})
	if err != nil {
		return Summary{}, fmt.Errorf("planning: dashboard: %w", err)
	}
	s.mu.Lock()
	s.memo = &summaryMemo{day: day, sum: sum, at: now}
	s.mu.Unlock()
	return sum, nil
}

// ForgetSummary drops the in-process summary copy. It is called when another
// replica bumps the planning cache version.
func (s *Service) ForgetSummary() {
	s.mu.Lock()
	s.memo = nil
	s.mu.Unlock()
}

func (s *Service) memoized(day string, now time.Time) (Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memo == nil || s.memo.day != day || now.Sub(s.memo.at) >= localSummaryTTL {
		return Summary{}, false
	}
	return s.memo.sum, true
}

func (s *Service) invalidate(ctx context.Context) {
	s.ForgetSummary()
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("planning cache bump", slog.Any("error", err))
	}
}

func (s *Service) cleanGoal(in GoalInput) (GoalInput, error) {
	in.Title = strings.TrimSpace(s.policy.Sanitize(in.Title))
	in.Description = strings.TrimSpace(s.policy.Sanitize(in.Description))
	if in.Status == "" {
		in.Status = GoalOnTrack
	}
	if err := s.validate.Struct(in); err != nil {
		return in, validationError(err)
	}
	if in.Status == GoalCompleted && in.Progress < 100 {
		return in, fmt.Errorf("%w: completed goals must report 100%% progress", httpx.ErrValidation)
	}
	return in, nil
}

func (s *Service) cleanInitiative(in InitiativeInput) (InitiativeInput, error) {
	in.Title = strings.TrimSpace(s.policy.Sanitize(in.Title))
	in.Description = strings.TrimSpace(s.policy.Sanitize(in.Description))
	if in.Status == "" {
		in.Status = InitiativePlanned
	}
	if err := s.validate.Struct(in); err != nil {
		return in, validationError(err)
	}
	if in.StartDate != nil && in.EndDate != nil && in.EndDate.Before(*in.StartDate) {
		return in, fmt.Errorf("%w: endDate precedes startDate", httpx.ErrValidation)
	}
	return in, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field()+" "+fe.Tag())
		}
		return fmt.Errorf("%w: %s", httpx.ErrValidation, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
}

func page(filter ListFilter) ListFilter {
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return filter
}
