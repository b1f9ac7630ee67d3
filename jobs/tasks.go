package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/dealport/dealport/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSecurityAlert notifies operators about admission-layer
	// degradation, e.g. the rate limit store going dark under fail-closed.
	TaskTypeSecurityAlert = "admission:security-alert"
	// TaskTypeAbuseScan periodically reports identifiers that exhausted
	// their budget, for abuse follow-up.
	TaskTypeAbuseScan = "admission:abuse-scan"
)

// SecurityAlertPayload describes an admission degradation event.
type SecurityAlertPayload struct {
	Kind       string    `json:"kind"`
	Policy     string    `json:"policy"`
	Detail     string    `json:"detail"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewSecurityAlertTask constructs an Asynq task.
func NewSecurityAlertTask(payload SecurityAlertPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSecurityAlert, data), nil
}

// SecurityAlertJob surfaces admission degradation events to operators.
type SecurityAlertJob struct {
	logger   *slog.Logger
	metricsV *jobmetrics.Metrics
}

// NewSecurityAlertJob constructs the job.
func NewSecurityAlertJob(logger *slog.Logger, metrics *jobmetrics.Metrics) *SecurityAlertJob {
	return &SecurityAlertJob{logger: logger, metricsV: metrics}
}

func (j *SecurityAlertJob) metrics() *jobmetrics.Metrics {
	if j.metricsV != nil {
		return j.metricsV
	}
	return defaultJobMetrics
}

// Handle processes TaskTypeSecurityAlert tasks.
func (j *SecurityAlertJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics().Track("security_alert")
	var payload SecurityAlertPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(fmt.Errorf("decode security alert: %v: %w", err, asynq.SkipRetry))
	}
	// TODO: deliver to the ops mailbox once SMTP wiring lands.
	j.logger.Error("security alert",
		slog.String("kind", payload.Kind),
		slog.String("policy", payload.Policy),
		slog.String("detail", payload.Detail),
		slog.Time("occurredAt", payload.OccurredAt))
	return tracker.End(nil)
}

// NewAbuseScanTask constructs the recurring abuse scan task.
func NewAbuseScanTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskTypeAbuseScan, nil), nil
}
