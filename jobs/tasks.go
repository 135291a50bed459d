package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGLReconcile reconciles subledgers against the GL for one period.
	TaskGLReconcile = "gl:reconcile"
	// TaskGLIntegrity scans posted batches of one period for integrity violations.
	TaskGLIntegrity = "gl:integrity"

	// PeriodCurrent and PeriodPrevious are resolved against the job clock at run time.
	PeriodCurrent  = "current"
	PeriodPrevious = "previous"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ReconcilePayload scopes a reconcile run. Empty axes fall back to the worker configuration.
type ReconcilePayload struct {
	Period  string   `json:"period"`
	Axes    []string `json:"axes,omitempty"`
	Modules []string `json:"modules,omitempty"`
}

// IntegrityPayload scopes an integrity scan.
type IntegrityPayload struct {
	Period string `json:"period"`
}

// NewReconcileTask creates an Asynq task for the reconcile job.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	if payload.Period == "" {
		payload.Period = PeriodCurrent
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLReconcile, body, asynq.Queue(QueueDefault), asynq.Timeout(15*time.Minute)), nil
}

// NewIntegrityTask creates an Asynq task for the integrity job.
func NewIntegrityTask(period string) (*asynq.Task, error) {
	if period == "" {
		period = PeriodPrevious
	}
	body, err := json.Marshal(IntegrityPayload{Period: period})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrity, body, asynq.Queue(QueueDefault), asynq.Timeout(30*time.Minute)), nil
}

// ResolvePeriod turns a payload period into a YYYY-MM code relative to now.
func ResolvePeriod(period string, now time.Time) (string, error) {
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	switch strings.ToLower(strings.TrimSpace(period)) {
	case "", PeriodCurrent:
		return first.Format("2006-01"), nil
	case PeriodPrevious:
		return first.AddDate(0, -1, 0).Format("2006-01"), nil
	}
	if _, err := time.Parse("2006-01", period); err != nil {
		return "", fmt.Errorf("jobs: invalid period %q", period)
	}
	return period, nil
}
