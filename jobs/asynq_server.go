package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/orderflow/internal/platform/httpx"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueDefault: 1,
		},
		Logger: newAsynqLogger(cfg.Logger),
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, err
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: cfg.Logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	client := asynq.NewClient(redisOpts)
	return &Client{client: client}, nil
}

// EnqueueRecurringGenerate enqueues a generation pass for asOf. The task id
// is derived from the date so repeated requests for one day collapse.
func (c *Client) EnqueueRecurringGenerate(ctx context.Context, asOf time.Time) (*asynq.TaskInfo, error) {
	task, err := NewRecurringGenerateTask(asOf)
	if err != nil {
		return nil, err
	}
	id := TaskRecurringGenerate + ":" + asOf.UTC().Format(time.DateOnly)
	return c.client.EnqueueContext(ctx, task, asynq.TaskID(id), asynq.Retention(24*time.Hour))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// RecurringEnqueuer queues a recurring generation pass.
type RecurringEnqueuer interface {
	EnqueueRecurringGenerate(ctx context.Context, asOf time.Time) (*asynq.TaskInfo, error)
}

// Handler exposes HTTP endpoints for job observability and operator triggers.
type Handler struct {
	inspector *asynq.Inspector
	enqueuer  RecurringEnqueuer
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandler constructs an HTTP handler for jobs endpoints. enqueuer may be
// nil, in which case no operator routes are mounted.
func NewHandler(inspector *asynq.Inspector, enqueuer RecurringEnqueuer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, enqueuer: enqueuer, logger: logger, now: time.Now}
}

// MountRoutes attaches the public job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

// MountOperatorRoutes attaches routes that enqueue work; mount behind auth.
func (h *Handler) MountOperatorRoutes(r chi.Router) {
	if h.enqueuer == nil {
		return
	}
	r.Post("/jobs/recurring/run", h.runRecurring)
}

type enqueueResult struct {
	TaskID string `json:"taskId,omitempty"`
	Queue  string `json:"queue,omitempty"`
	AsOf   string `json:"asOf"`
	Queued bool   `json:"queued"`
}

// runRecurring queues a generation pass for ?date=YYYY-MM-DD (default today
// UTC). A second request for the same day collides on the task id and is
// reported without queueing again.
func (h *Handler) runRecurring(w http.ResponseWriter, r *http.Request) {
	asOf := h.now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: date must be YYYY-MM-DD", shared.ErrValidation))
			return
		}
		asOf = parsed
	}
	day := asOf.Format(time.DateOnly)
	info, err := h.enqueuer.EnqueueRecurringGenerate(r.Context(), asOf)
	switch {
	case errors.Is(err, asynq.ErrTaskIDConflict):
		httpx.JSON(w, http.StatusConflict, enqueueResult{TaskID: TaskRecurringGenerate + ":" + day, AsOf: day})
		return
	case err != nil:
		h.logger.Error("enqueue recurring generate", slog.String("as_of", day), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue unavailable", "could not enqueue generation")
		return
	}
	h.logger.Info("recurring generate enqueued", slog.String("as_of", day), slog.String("task_id", info.ID))
	httpx.JSON(w, http.StatusAccepted, enqueueResult{TaskID: info.ID, Queue: info.Queue, AsOf: day, Queued: true})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	status := queueStatus{Queue: QueueDefault}
	if h.inspector != nil {
		info, err := h.inspector.GetQueueInfo(QueueDefault)
		if err != nil {
			h.logger.Warn("jobs health", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		if info != nil {
			status = queueStatus{Queue: info.Queue, Pending: info.Pending, Active: info.Active, Retry: info.Retry}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

type queueStatus struct {
	Queue   string `json:"queue"`
	Pending int    `json:"pending"`
	Active  int    `json:"active"`
	Retry   int    `json:"retry"`
}

// asynqLogger routes asynq's internal logging through slog.
type asynqLogger struct {
	logger *slog.Logger
}

func newAsynqLogger(logger *slog.Logger) asynq.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return asynqLogger{logger: logger.With(slog.String("component", "asynq"))}
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
