package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/orderflow/internal/jobs"
	"github.com/odyssey-erp/orderflow/internal/recurring"
)

type stubGenerator struct {
	calls  []time.Time
	report recurring.GenerationReport
	err    error
}

func (s *stubGenerator) GenerateDueOrders(ctx context.Context, now time.Time) (recurring.GenerationReport, error) {
	s.calls = append(s.calls, now)
	return s.report, s.err
}

func newRecorder() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

func TestRecurringGenerateJobUsesClockWithoutPayload(t *testing.T) {
	gen := &stubGenerator{report: recurring.GenerationReport{
		Generated: []recurring.GeneratedOrder{{SubscriptionID: uuid.New(), OrderID: uuid.New(), DueDate: "2025-12-01"}},
		Skipped:   2,
	}}
	metrics := newRecorder()
	job := NewRecurringGenerateJob(gen, nil, metrics)
	job.WithClock(func() time.Time { return time.Date(2025, 12, 1, 0, 5, 0, 0, time.UTC) })

	task, err := NewRecurringGenerateTask(time.Time{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, gen.calls, 1)
	require.Equal(t, "2025-12-01", gen.calls[0].Format(time.DateOnly))

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ItemsCounter(TaskRecurringGenerate, "generated")))
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.ItemsCounter(TaskRecurringGenerate, "skipped")))
}

func TestRecurringGenerateJobHonoursAsOf(t *testing.T) {
	gen := &stubGenerator{}
	job := NewRecurringGenerateJob(gen, nil, newRecorder())
	task, err := NewRecurringGenerateTask(time.Date(2026, 1, 1, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, "2026-01-01", gen.calls[0].Format(time.DateOnly))
}

func TestRecurringGenerateJobErrors(t *testing.T) {
	gen := &stubGenerator{err: errors.New("db unavailable")}
	job := NewRecurringGenerateJob(gen, nil, newRecorder())
	task, _ := NewRecurringGenerateTask(time.Time{})
	require.Error(t, job.Handle(context.Background(), task))

	bad := asynq.NewTask(TaskRecurringGenerate, []byte(`{"as_of":"tomorrow"}`))
	err := job.Handle(context.Background(), bad)
	require.ErrorIs(t, err, asynq.SkipRetry)

	var nilJob *RecurringGenerateJob
	require.Error(t, nilJob.Handle(context.Background(), task))
}

type stubPruner struct {
	retention time.Duration
	removed   int64
}

func (s *stubPruner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.retention = olderThan
	return s.removed, nil
}

func TestIdempotencyCleanupHandler(t *testing.T) {
	pruner := &stubPruner{removed: 4}
	handler := NewIdempotencyCleanupHandler(pruner, nil, newRecorder())

	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, 48*time.Hour, pruner.retention)

	require.NoError(t, handler(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, defaultRetention, pruner.retention)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil, nil).MountRoutes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var body queueStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, QueueDefault, body.Queue)
}

type stubEnqueuer struct {
	calls []time.Time
	err   error
}

func (s *stubEnqueuer) EnqueueRecurringGenerate(ctx context.Context, asOf time.Time) (*asynq.TaskInfo, error) {
	s.calls = append(s.calls, asOf)
	if s.err != nil {
		return nil, s.err
	}
	return &asynq.TaskInfo{ID: TaskRecurringGenerate + ":" + asOf.Format(time.DateOnly), Queue: QueueDefault}, nil
}

func newOperatorRouter(enq RecurringEnqueuer) http.Handler {
	h := NewHandler(nil, enq, nil)
	h.now = func() time.Time { return time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC) }
	r := chi.NewRouter()
	h.MountOperatorRoutes(r)
	return r
}

func TestRunRecurringEnqueuesForRequestedDay(t *testing.T) {
	enq := &stubEnqueuer{}
	router := newOperatorRouter(enq)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/recurring/run", nil))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var body enqueueResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.True(t, body.Queued)
	require.Equal(t, "2026-03-02", body.AsOf)
	require.Equal(t, "recurring:generate:2026-03-02", body.TaskID)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/recurring/run?date=2026-02-28", nil))
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, enq.calls, 2)
	require.Equal(t, "2026-02-28", enq.calls[1].Format(time.DateOnly))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/recurring/run?date=28-02-2026", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Len(t, enq.calls, 2)
}

func TestRunRecurringReportsConflictAndQueueErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	newOperatorRouter(&stubEnqueuer{err: asynq.ErrTaskIDConflict}).
		ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/recurring/run?date=2026-03-01", nil))
	require.Equal(t, http.StatusConflict, rr.Code)
	var body enqueueResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.False(t, body.Queued)
	require.Equal(t, "2026-03-01", body.AsOf)

	rr = httptest.NewRecorder()
	newOperatorRouter(&stubEnqueuer{err: errors.New("redis down")}).
		ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/recurring/run", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestOperatorRoutesNeedEnqueuer(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil, nil).MountOperatorRoutes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/recurring/run", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}
