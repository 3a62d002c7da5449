package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-strategy/internal/activity"
	"github.com/odyssey-erp/odyssey-strategy/internal/observability"
)

const (
	// QueueDefault carries maintenance tasks such as the session sweep.
	QueueDefault = "default"
	// QueueSecurity carries audit events and is drained first.
	QueueSecurity = "security"
)

// Tracked wraps handler so every run lands in the job metrics under name.
func Tracked(metrics *observability.Metrics, name string, handler asynq.HandlerFunc) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		return metrics.Track(name).End(handler(ctx, t))
	}
}

// SweepCron schedules the idle-session sweep every interval.
func SweepCron(interval time.Duration) CronRegistration {
	if interval <= 0 {
		interval = time.Minute
	}
	return CronRegistration{
		Spec:    fmt.Sprintf("@every %s", interval),
		Task:    activity.NewSweepTask(),
		Options: []asynq.Option{asynq.Queue(QueueDefault), asynq.Unique(interval)},
	}
}
