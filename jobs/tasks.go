// Package jobs runs the background tasks of the portal on Asynq.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTupleSyncDrain retries queued tuple mutations.
	TaskTupleSyncDrain = "tuplesync:drain"
	// TaskTupleSyncReconcile sweeps partners for row/tuple divergence.
	TaskTupleSyncReconcile = "tuplesync:reconcile"
)

// DrainPayload bounds one drain run.
type DrainPayload struct {
	Limit int `json:"limit"`
}

// ReconcilePayload selects the partner to sweep; empty means all partners.
type ReconcilePayload struct {
	PartnerID string `json:"partner_id,omitempty"`
}

// NewDrainTask constructs a drain task.
func NewDrainTask(limit int) (*asynq.Task, error) {
	body, err := json.Marshal(DrainPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	// a drain that overlaps the next tick would only race on the same rows
	return asynq.NewTask(TaskTupleSyncDrain, body, asynq.Queue(QueueDefault), asynq.Unique(time.Minute)), nil
}

// NewReconcileTask constructs a reconcile task.
func NewReconcileTask(partnerID string) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcilePayload{PartnerID: partnerID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTupleSyncReconcile, body, asynq.Queue(QueueDefault), asynq.Timeout(30*time.Minute)), nil
}

// NewTask builds a task by type name with default payload, for manual triggers.
func NewTask(name, partnerID string) (*asynq.Task, error) {
	switch name {
	case TaskTupleSyncDrain:
		return NewDrainTask(0)
	case TaskTupleSyncReconcile:
		return NewReconcileTask(partnerID)
	default:
		return nil, fmt.Errorf("jobs: unsupported task %q", name)
	}
}
