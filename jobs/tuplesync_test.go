package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/partnerportal/portal/internal/jobs"
	"github.com/partnerportal/portal/internal/tuplesync"
)

type fakeSyncer struct {
	drained    int
	drainRes   tuplesync.DrainResult
	drainErr   error
	all        int
	partners   []string
	reconError error
}

func (f *fakeSyncer) DrainOutbox(_ context.Context, limit int) (tuplesync.DrainResult, error) {
	f.drained = limit
	return f.drainRes, f.drainErr
}

func (f *fakeSyncer) ReconcileAll(context.Context) (tuplesync.Report, error) {
	f.all++
	return tuplesync.Report{Partners: 3, Written: 1}, f.reconError
}

func (f *fakeSyncer) ReconcilePartner(_ context.Context, partnerID string) (tuplesync.Report, error) {
	f.partners = append(f.partners, partnerID)
	return tuplesync.Report{Partners: 1}, f.reconError
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestDrainRecordsOutboxResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	sync := &fakeSyncer{drainRes: tuplesync.DrainResult{Applied: 4, Failed: 3, Dead: 1}}
	j := NewTupleSyncJobs(sync, nil, jobmetrics.NewMetrics(reg))

	task, err := NewDrainTask(25)
	require.NoError(t, err)
	require.NoError(t, j.HandleDrain(context.Background(), task))

	assert.Equal(t, 25, sync.drained)
	assert.Equal(t, 4.0, counterValue(t, reg, "portal_jobs_outbox_entries_total", map[string]string{"result": "applied"}))
	assert.Equal(t, 2.0, counterValue(t, reg, "portal_jobs_outbox_entries_total", map[string]string{"result": "failed"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "portal_jobs_outbox_entries_total", map[string]string{"result": "dead"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "portal_jobs_total", map[string]string{"job": TaskTupleSyncDrain, "status": "success"}))
}

func TestDrainFailureCountsJobFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	sync := &fakeSyncer{drainErr: errors.New("store down")}
	j := NewTupleSyncJobs(sync, nil, jobmetrics.NewMetrics(reg))

	task, err := NewDrainTask(0)
	require.NoError(t, err)
	require.Error(t, j.HandleDrain(context.Background(), task))
	assert.Equal(t, 1.0, counterValue(t, reg, "portal_jobs_failures_total", map[string]string{"job": TaskTupleSyncDrain}))
}

func TestBadPayloadSkipsRetry(t *testing.T) {
	j := NewTupleSyncJobs(&fakeSyncer{}, nil, nil)
	err := j.HandleReconcile(context.Background(), asynq.NewTask(TaskTupleSyncReconcile, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	err = j.HandleDrain(context.Background(), asynq.NewTask(TaskTupleSyncDrain, []byte("nope")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestReconcileScopesToPartner(t *testing.T) {
	sync := &fakeSyncer{}
	j := NewTupleSyncJobs(sync, nil, nil)

	all, err := NewReconcileTask("")
	require.NoError(t, err)
	require.NoError(t, j.HandleReconcile(context.Background(), all))
	assert.Equal(t, 1, sync.all)

	one, err := NewReconcileTask("p-1")
	require.NoError(t, err)
	require.NoError(t, j.HandleReconcile(context.Background(), one))
	assert.Equal(t, []string{"p-1"}, sync.partners)

	sync.reconError = errors.New("fga unavailable")
	assert.Error(t, j.HandleReconcile(context.Background(), one))
}

func TestUnconfiguredHandlerErrors(t *testing.T) {
	var j *TupleSyncJobs
	task, _ := NewDrainTask(1)
	assert.Error(t, j.HandleDrain(context.Background(), task))
}

func TestNewTaskByName(t *testing.T) {
	task, err := NewTask(TaskTupleSyncReconcile, "p-9")
	require.NoError(t, err)
	var payload ReconcilePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "p-9", payload.PartnerID)

	_, err = NewTask("mail:send", "")
	assert.Error(t, err)
}

func TestHandlersRegistered(t *testing.T) {
	handlers := NewTupleSyncJobs(&fakeSyncer{}, nil, nil).Handlers()
	require.Len(t, handlers, 2)
	assert.Equal(t, TaskTupleSyncDrain, handlers[0].Type)
	assert.Equal(t, TaskTupleSyncReconcile, handlers[1].Type)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0}`, rec.Body.String())
}
