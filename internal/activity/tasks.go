package activity

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

// TaskTypeSweep is the periodic task expiring idle sessions.
const TaskTypeSweep = "session:sweep"

// NewSweepTask constructs the sweep task. It carries no payload.
func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeSweep, nil, asynq.MaxRetry(0))
}

// HandleSweepTask runs one sweep per task.
func HandleSweepTask(m *Monitor, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, _ *asynq.Task) error {
		n, err := m.Sweep(ctx)
		if n > 0 {
			logger.Info("session sweep", slog.Int("expired", n))
		}
		return err
	}
}
