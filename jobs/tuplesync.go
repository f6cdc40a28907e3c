package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/partnerportal/portal/internal/jobs"
	"github.com/partnerportal/portal/internal/tuplesync"
)

// Syncer is the part of tuplesync.Synchronizer the jobs drive.
type Syncer interface {
	DrainOutbox(ctx context.Context, limit int) (tuplesync.DrainResult, error)
	ReconcileAll(ctx context.Context) (tuplesync.Report, error)
	ReconcilePartner(ctx context.Context, partnerID string) (tuplesync.Report, error)
}

// TupleSyncJobs handles the drain and reconcile tasks.
type TupleSyncJobs struct {
	Sync    Syncer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewTupleSyncJobs wires dependencies for the handlers.
func NewTupleSyncJobs(sync Syncer, logger *slog.Logger, metrics *jobmetrics.Metrics) *TupleSyncJobs {
	if logger == nil {
		logger = slog.Default()
	}
	return &TupleSyncJobs{Sync: sync, Logger: logger, Metrics: metrics}
}

// Handlers lists the task handlers for worker registration.
func (j *TupleSyncJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskTupleSyncDrain, Handler: j.HandleDrain},
		{Type: TaskTupleSyncReconcile, Handler: j.HandleReconcile},
	}
}

// HandleDrain processes TaskTupleSyncDrain tasks.
func (j *TupleSyncJobs) HandleDrain(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Sync == nil {
		return errors.New("tuplesync drain: handler not configured")
	}
	var payload DrainPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskTupleSyncDrain)
	defer func() { tracker.End(err) }()

	start := time.Now()
	res, err := j.Sync.DrainOutbox(ctx, payload.Limit)
	j.Metrics.AddOutbox("applied", res.Applied)
	j.Metrics.AddOutbox("failed", res.Failed-res.Dead)
	j.Metrics.AddOutbox("dead", res.Dead)
	if err != nil {
		j.Logger.Error("drain tuple outbox", slog.Any("error", err))
		return err
	}
	if res.Applied+res.Failed > 0 {
		j.Logger.Info("drained tuple outbox",
			slog.Int("applied", res.Applied), slog.Int("failed", res.Failed), slog.Int("dead", res.Dead),
			slog.Duration("duration", time.Since(start)))
	}
	return nil
}

// HandleReconcile processes TaskTupleSyncReconcile tasks.
func (j *TupleSyncJobs) HandleReconcile(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Sync == nil {
		return errors.New("tuplesync reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskTupleSyncReconcile)
	defer func() { tracker.End(err) }()

	logger := j.Logger.With(slog.String("partner_id", payload.PartnerID))
	start := time.Now()
	var rep tuplesync.Report
	if payload.PartnerID == "" {
		rep, err = j.Sync.ReconcileAll(ctx)
	} else {
		rep, err = j.Sync.ReconcilePartner(ctx, payload.PartnerID)
	}
	if err != nil {
		logger.Error("reconcile tuples", slog.Any("error", err))
		return err
	}
	logger.Info("reconciled tuples",
		slog.Int("partners", rep.Partners), slog.Int("written", rep.Written),
		slog.Int("deleted", rep.Deleted), slog.Int("failures", rep.Failures),
		slog.Duration("duration", time.Since(start)))
	return nil
}
