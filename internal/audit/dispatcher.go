package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TaskTypeRecord is the Asynq task carrying one security event.
const TaskTypeRecord = "audit:record"

type taskPayload struct {
	ID          string          `json:"id"`
	Action      string          `json:"action"`
	Resource    string          `json:"resource"`
	ResourceID  string          `json:"resource_id,omitempty"`
	Description string          `json:"description"`
	UserID      string          `json:"user_id,omitempty"`
	Severity    Severity        `json:"severity"`
	Metadata    json.RawMessage `json:"metadata"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// NewRecordTask encodes ev as an Asynq task.
func NewRecordTask(ev Event) (*asynq.Task, error) {
	meta, err := EncodeMetadata(ev.Metadata)
	if err != nil {
		return nil, err
	}
	payload := taskPayload{
		ID:          ev.ID.String(),
		Action:      ev.Action,
		Resource:    ev.Resource,
		ResourceID:  ev.ResourceID,
		Description: ev.Description,
		UserID:      ev.UserID,
		Severity:    ev.Severity,
		Metadata:    meta,
		OccurredAt:  ev.OccurredAt,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRecord, data, asynq.MaxRetry(5), asynq.Timeout(30*time.Second)), nil
}

// ParseRecordTask decodes the task payload back into an Event.
func ParseRecordTask(task *asynq.Task) (Event, error) {
	var payload taskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return Event{}, fmt.Errorf("audit: decode task: %w", err)
	}
	id, err := uuid.Parse(payload.ID)
	if err != nil {
		return Event{}, fmt.Errorf("audit: decode task id: %w", err)
	}
	meta, err := DecodeMetadata(payload.Metadata)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:          id,
		Action:      payload.Action,
		Resource:    payload.Resource,
		ResourceID:  payload.ResourceID,
		Description: payload.Description,
		UserID:      payload.UserID,
		Severity:    payload.Severity,
		Metadata:    meta,
		OccurredAt:  payload.OccurredAt,
	}, nil
}

// Enqueuer is the subset of asynq.Client used by Dispatcher.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher hands events to the worker through Asynq.
type Dispatcher struct {
	client Enqueuer
	queue  string
	logger *slog.Logger
	now    func() time.Time
}

// NewDispatcher constructs a Dispatcher publishing on queue.
func NewDispatcher(client Enqueuer, queue string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if queue == "" {
		queue = "default"
	}
	return &Dispatcher{client: client, queue: queue, logger: logger, now: time.Now}
}

// Record enqueues ev without blocking the caller.
func (d *Dispatcher) Record(ctx context.Context, ev Event) *Pending {
	if err := ev.Validate(); err != nil {
		d.logger.Warn("audit event rejected", slog.String("action", ev.Action), slog.Any("error", err))
		return Resolved(err)
	}
	ev = ev.prepare(d.now)
	detached := context.WithoutCancel(ctx)
	return Go(func() error {
		task, err := NewRecordTask(ev)
		if err != nil {
			return err
		}
		if _, err := d.client.EnqueueContext(detached, task, asynq.Queue(d.queue), asynq.TaskID(ev.ID.String())); err != nil {
			d.logger.Error("audit enqueue", slog.String("action", ev.Action), slog.Any("error", err))
			return err
		}
		return nil
	})
}

// HandleRecordTask returns the worker-side handler storing events through service.
func HandleRecordTask(service *Service) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		ev, err := ParseRecordTask(task)
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return service.Record(ctx, ev)
	}
}
