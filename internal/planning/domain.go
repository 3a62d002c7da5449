// Package planning manages the strategic goals and initiatives shown on the dashboard.
package planning

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-strategy/internal/platform/httpx"
)

// GoalStatus tracks how a goal is trending.
type GoalStatus string

const (
	GoalOnTrack   GoalStatus = "on_track"
	GoalAtRisk    GoalStatus = "at_risk"
	GoalOffTrack  GoalStatus = "off_track"
	GoalCompleted GoalStatus = "completed"
)

// InitiativeStatus tracks delivery of an initiative.
type InitiativeStatus string

const (
	InitiativePlanned    InitiativeStatus = "planned"
	InitiativeInProgress InitiativeStatus = "in_progress"
	InitiativeDone       InitiativeStatus = "done"
	InitiativeCancelled  InitiativeStatus = "cancelled"
)

var (
	ErrGoalNotFound       = fmt.Errorf("planning: goal %w", httpx.ErrNotFound)
	ErrInitiativeNotFound = fmt.Errorf("planning: initiative %w", httpx.ErrNotFound)
)

// Goal is a strategic objective.
type Goal struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      GoalStatus `json:"status"`
	Progress    int        `json:"progress"`
	OwnerID     *int64     `json:"ownerId,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Initiative is a piece of work contributing to a goal.
type Initiative struct {
	ID          int64            `json:"id"`
	GoalID      int64            `json:"goalId"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Status      InitiativeStatus `json:"status"`
	OwnerID     *int64           `json:"ownerId,omitempty"`
	StartDate   *time.Time       `json:"startDate,omitempty"`
	EndDate     *time.Time       `json:"endDate,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// GoalInput is the writable part of a goal.
type GoalInput struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description" validate:"max=4000"`
	Status      GoalStatus `json:"status" validate:"omitempty,oneof=on_track at_risk off_track completed"`
	Progress    int        `json:"progress" validate:"gte=0,lte=100"`
	OwnerID     *int64     `json:"ownerId" validate:"omitempty,gt=0"`
	DueDate     *time.Time `json:"dueDate"`
}

// InitiativeInput is the writable part of an initiative.
type InitiativeInput struct {
	GoalID      int64            `json:"goalId" validate:"required,gt=0"`
	Title       string           `json:"title" validate:"required,max=200"`
	Description string           `json:"description" validate:"max=4000"`
	Status      InitiativeStatus `json:"status" validate:"omitempty,oneof=planned in_progress done cancelled"`
	OwnerID     *int64           `json:"ownerId" validate:"omitempty,gt=0"`
	StartDate   *time.Time       `json:"startDate"`
	EndDate     *time.Time       `json:"endDate"`
}

// ListFilter narrows list queries.
type ListFilter struct {
	Status string
	GoalID int64
	Limit  int
	Offset int
}

// Summary aggregates the planning data for the dashboard.
type Summary struct {
	Goals              int            `json:"goals"`
	GoalsByStatus      map[string]int `json:"goalsByStatus"`
	AverageProgress    float64        `json:"averageProgress"`
	Initiatives        int            `json:"initiatives"`
	InitiativesByState map[string]int `json:"initiativesByStatus"`
	OverdueGoals       int            `json:"overdueGoals"`
}
