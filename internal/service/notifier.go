package service

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/warit/csvmatch/internal/domain"
	"github.com/warit/csvmatch/internal/logger"
)

// Notifier publishes task lifecycle events for the task-management
// collaborator. Delivery is best-effort: a notification failure never fails
// the task transition it reports.
type Notifier interface {
	TaskEvent(ctx context.Context, task *domain.Task, event string)
}

// Lifecycle event names published by the state machine.
const (
	EventTaskQueued     = "task.queued"
	EventTaskProcessing = "task.processing"
	EventTaskCompleted  = "task.completed"
	EventTaskFailed     = "task.failed"
	EventTaskRequeued   = "task.requeued"
)

// NoopNotifier discards all events. Used when no webhook is configured.
type NoopNotifier struct{}

// TaskEvent implements Notifier.
func (NoopNotifier) TaskEvent(ctx context.Context, task *domain.Task, event string) {}

// WebhookNotifier POSTs lifecycle events to a configured webhook URL.
type WebhookNotifier struct {
	client *resty.Client
	url    string
	logger *logger.Logger
}

// NewWebhookNotifier creates a webhook notifier.
// Parameters:
//   - url: webhook endpoint receiving event payloads.
//   - timeout: per-request timeout.
//   - log: logger instance.
// Returns:
//   - *WebhookNotifier: initialized notifier.
func NewWebhookNotifier(url string, timeout time.Duration, log *logger.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &WebhookNotifier{
		client: client,
		url:    url,
		logger: log,
	}
}

type taskEventPayload struct {
	Event       string             `json:"event"`
	TaskID      string             `json:"task_id"`
	OwnerID     string             `json:"owner_id"`
	Status      domain.TaskStatus  `json:"status"`
	RowCount    int                `json:"row_count,omitempty"`
	ErrorKind   domain.FailureKind `json:"error_kind,omitempty"`
	ErrorDetail string             `json:"error_detail,omitempty"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

// TaskEvent implements Notifier.
func (n *WebhookNotifier) TaskEvent(ctx context.Context, task *domain.Task, event string) {
	payload := taskEventPayload{
		Event:       event,
		TaskID:      task.ID,
		OwnerID:     task.OwnerID,
		Status:      task.Status,
		RowCount:    task.RowCount,
		ErrorKind:   task.ErrorKind,
		ErrorDetail: task.ErrorDetail,
		OccurredAt:  time.Now().UTC(),
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(n.url)
	if err != nil {
		n.logger.WithFields(logger.Fields{
			logger.FieldTaskID: task.ID,
			"event":            event,
		}).WithError(err).Warn("Failed to deliver task event")
		return
	}
	if resp.IsError() {
		n.logger.WithFields(logger.Fields{
			logger.FieldTaskID: task.ID,
			"event":            event,
			logger.FieldStatus: resp.StatusCode(),
		}).Warn("Task event webhook returned an error status")
	}
}
