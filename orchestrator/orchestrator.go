package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/tenantrag/core"
	"github.com/poiesic/tenantrag/ingestion"
	"github.com/poiesic/tenantrag/metrics"
	"github.com/poiesic/tenantrag/retry"
	"github.com/poiesic/tenantrag/storage"
)

const (
	// DefaultMaxQueueDepth is the default bound on pending plus processing tasks.
	DefaultMaxQueueDepth = 1000

	// DefaultTaskTimeout bounds a single pipeline run.
	DefaultTaskTimeout = 10 * time.Minute
)

// errInterrupted is recorded on tasks a previous process left unfinished.
var errInterrupted = errors.New("interrupted by restart")

// Handler runs ingestion for a task.
type Handler interface {
	Ingest(ctx context.Context, req ingestion.Request) (*core.IngestResult, error)
	Abandon(ctx context.Context, req ingestion.Request, cause error) error
}

// Job describes a document version to ingest.
type Job struct {
	TenantID   core.TenantID
	DocumentID string
	// Version of the document. Zero lets the handler register Text as a new
	// version.
	Version int
	Text    string
	// IdempotencyKey deduplicates submissions within the tenant. Defaults
	// to the quoted document ID and "v<version>", or the content hash of
	// Text when Version is zero.
	IdempotencyKey string
}

func (j Job) key() string {
	switch {
	case j.IdempotencyKey != "":
		return j.IdempotencyKey
	case j.Version > 0:
		return fmt.Sprintf("%q/v%d", j.DocumentID, j.Version)
	default:
		return fmt.Sprintf("%q/%s", j.DocumentID, core.ContentHash(j.Text))
	}
}

// taskKey scopes an idempotency key to its tenant.
type taskKey struct {
	tenant core.TenantID
	key    string
}

type entry struct {
	task *core.Task
	req  ingestion.Request
	done chan struct{}
}

// Orchestrator schedules ingestion tasks onto a fixed-size worker pool.
type Orchestrator struct {
	tasks   storage.TaskRepository
	handler Handler
	pool    *ants.Pool

	workers       int
	maxQueueDepth int
	policy        retry.Policy
	taskTimeout   time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	active  map[string]*entry  // non-terminal tasks by ID
	byKey   map[taskKey]string // idempotency key -> active task ID
	queue   []string           // FIFO of PENDING task IDs ready to run
	stopped bool

	wake           chan struct{}
	finished       chan struct{}
	quit           chan struct{}
	dispatcherDone chan struct{}
	inflight       sync.WaitGroup
	started        atomic.Bool
	startOnce      sync.Once
	stopOnce       sync.Once

	runCtx     context.Context
	cancelRuns context.CancelFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithWorkers sets the number of tasks processed in parallel.
// Default is runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(o *Orchestrator) error {
		if n < 1 {
			return fmt.Errorf("%w: workers must be positive", core.ErrConfig)
		}
		o.workers = n
		return nil
	}
}

// WithMaxQueueDepth bounds how many tasks may be pending or processing.
func WithMaxQueueDepth(n int) Option {
	return func(o *Orchestrator) error {
		if n < 1 {
			return fmt.Errorf("%w: max queue depth must be positive", core.ErrConfig)
		}
		o.maxQueueDepth = n
		return nil
	}
}

// WithMaxAttempts sets how many times a task runs before it is FAILED.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) error {
		if n < 1 {
			return fmt.Errorf("%w: max attempts must be positive", core.ErrConfig)
		}
		o.policy.MaxAttempts = n
		return nil
	}
}

// WithBackoff sets the retry backoff base and cap.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(o *Orchestrator) error {
		if base < 0 || maxDelay < 0 {
			return fmt.Errorf("%w: backoff must not be negative", core.ErrConfig)
		}
		o.policy.BaseDelay = base
		o.policy.MaxDelay = maxDelay
		return nil
	}
}

// WithTaskTimeout bounds each pipeline run.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *Orchestrator) error {
		if d <= 0 {
			return fmt.Errorf("%w: task timeout must be positive", core.ErrConfig)
		}
		o.taskTimeout = d
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// New creates an orchestrator. Call Start to begin processing.
func New(tasks storage.TaskRepository, handler Handler, opts ...Option) (*Orchestrator, error) {
	if tasks == nil {
		return nil, ErrTaskRepositoryRequired
	}
	if handler == nil {
		return nil, ErrHandlerRequired
	}

	o := &Orchestrator{
		tasks:         tasks,
		handler:       handler,
		workers:       runtime.NumCPU(),
		maxQueueDepth: DefaultMaxQueueDepth,
		policy:        retry.DefaultPolicy(),
		taskTimeout:   DefaultTaskTimeout,
		logger:        slog.Default(),
		active:        make(map[string]*entry),
		byKey:         make(map[taskKey]string),
		wake:          make(chan struct{}, 1),
		quit:          make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	pool, err := ants.NewPool(o.workers)
	if err != nil {
		return nil, err
	}
	o.pool = pool
	o.finished = make(chan struct{}, o.workers)
	o.dispatcherDone = make(chan struct{})
	o.runCtx, o.cancelRuns = context.WithCancel(context.Background())
	o.logger = o.logger.With("component", "orchestrator")
	return o, nil
}

// Start marks tasks left unfinished by a previous process as FAILED and
// starts dispatching. Tasks submitted before Start wait in the queue.
func (o *Orchestrator) Start(ctx context.Context) error {
	var err error
	o.startOnce.Do(func() {
		if err = o.failInterrupted(ctx); err != nil {
			return
		}
		o.started.Store(true)
		go o.dispatch()
		o.logger.Info("orchestrator started", "workers", o.workers, "max_queue_depth", o.maxQueueDepth)
	})
	return err
}

// Stop stops dispatching and waits for in-flight runs to finish. If ctx
// expires first, in-flight runs are cancelled and ctx's error is returned.
// Tasks still PENDING stay PENDING and are failed by the next Start.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
	o.stopOnce.Do(func() { close(o.quit) })
	if o.started.Load() {
		<-o.dispatcherDone
	}

	idle := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(idle)
	}()

	defer o.pool.Release()
	select {
	case <-idle:
		o.cancelRuns()
		return nil
	case <-ctx.Done():
		o.cancelRuns()
		return ctx.Err()
	}
}

func (o *Orchestrator) failInterrupted(ctx context.Context) error {
	stored, err := o.tasks.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	for _, task := range stored {
		if task.State.Terminal() {
			continue
		}
		o.mu.Lock()
		_, live := o.active[task.ID]
		o.mu.Unlock()
		if live {
			continue
		}

		o.logger.Warn("failing interrupted task", "task", task.ID, "tenant", task.TenantID, "document", task.DocumentID)
		task.State = core.TaskFailed
		task.LastError = errInterrupted.Error()
		task.UpdatedAt = time.Now()
		if err := o.tasks.SaveTask(ctx, task); err != nil {
			return err
		}
		metrics.TaskTransitions.WithLabelValues(core.TaskFailed.String()).Inc()

		if task.Version > 0 {
			req := ingestion.Request{TenantID: task.TenantID, DocumentID: task.DocumentID, Version: task.Version}
			if err := o.handler.Abandon(ctx, req, errInterrupted); err != nil && !errors.Is(err, storage.ErrNotFound) {
				o.logger.Error("failed to abandon interrupted document", "task", task.ID, "err", err)
			}
		}
	}
	return nil
}

// Submit admits a job, or returns the task already responsible for its
// idempotency key. Returns an error wrapping core.ErrCapacity when the
// backlog is full.
func (o *Orchestrator) Submit(ctx context.Context, job Job) (*core.Task, error) {
	if err := core.ValidateTenant(job.TenantID); err != nil {
		return nil, err
	}
	if job.DocumentID == "" {
		return nil, fmt.Errorf("%w: id is empty", core.ErrInvalidDocument)
	}
	key := job.key()
	scoped := taskKey{tenant: job.TenantID, key: key}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return nil, ErrStopped
	}

	if id, ok := o.byKey[scoped]; ok {
		o.logger.Debug("joined existing task", "task", id, "key", key)
		return cloneTask(o.active[id].task), nil
	}

	prev, err := o.tasks.TaskByKey(ctx, job.TenantID, key)
	switch {
	case err == nil && prev.State == core.TaskSucceeded:
		o.logger.Debug("returning completed task", "task", prev.ID, "key", key)
		return prev, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	if len(o.active) >= o.maxQueueDepth {
		metrics.TaskRejections.Inc()
		return nil, fmt.Errorf("%w: %d tasks pending or processing", core.ErrCapacity, len(o.active))
	}

	now := time.Now()
	task := &core.Task{
		ID:             uuid.NewString(),
		TenantID:       job.TenantID,
		DocumentID:     job.DocumentID,
		Version:        job.Version,
		IdempotencyKey: key,
		State:          core.TaskPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.tasks.SaveTask(ctx, task); err != nil {
		return nil, err
	}

	o.active[task.ID] = &entry{
		task: task,
		req: ingestion.Request{
			TenantID:   job.TenantID,
			DocumentID: job.DocumentID,
			Version:    job.Version,
			Text:       job.Text,
		},
		done: make(chan struct{}),
	}
	o.byKey[scoped] = task.ID
	o.queue = append(o.queue, task.ID)
	o.notify()

	metrics.TaskTransitions.WithLabelValues(core.TaskPending.String()).Inc()
	metrics.TaskBacklog.Set(float64(len(o.active)))
	o.logger.Info("task submitted", "task", task.ID, "tenant", task.TenantID, "document", task.DocumentID, "version", task.Version)
	return cloneTask(task), nil
}

// Task returns a copy of the task with the given ID.
func (o *Orchestrator) Task(ctx context.Context, id string) (*core.Task, error) {
	o.mu.Lock()
	if e, ok := o.active[id]; ok {
		task := cloneTask(e.task)
		o.mu.Unlock()
		return task, nil
	}
	o.mu.Unlock()

	task, err := o.tasks.GetTask(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return task, err
}

// Status returns the state, attempt count and last error of a task.
func (o *Orchestrator) Status(ctx context.Context, id string) (core.TaskStatus, error) {
	task, err := o.Task(ctx, id)
	if err != nil {
		return core.TaskStatus{}, err
	}
	return task.Status(), nil
}

// Cancel cancels a PENDING task, including one waiting to be retried.
// A PROCESSING task cannot be cancelled: the error wraps core.ErrTaskRunning.
// A terminal task yields core.ErrInvalidTransition.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*core.Task, error) {
	o.mu.Lock()
	if e, ok := o.active[id]; ok {
		defer o.mu.Unlock()
		if !core.CanTransition(e.task.State, core.TaskCancelled) {
			return nil, fmt.Errorf("%w: %s", core.ErrTaskRunning, id)
		}
		o.queue = slices.DeleteFunc(o.queue, func(queued string) bool { return queued == id })
		o.transition(e, core.TaskCancelled)
		o.logger.Info("task cancelled", "task", id)
		return cloneTask(e.task), nil
	}
	o.mu.Unlock()

	task, err := o.Task(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: task %s is %s", core.ErrInvalidTransition, id, task.State)
}

// Wait blocks until the task is terminal or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, id string) (*core.Task, error) {
	o.mu.Lock()
	e, ok := o.active[id]
	o.mu.Unlock()
	if !ok {
		return o.Task(ctx, id)
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return cloneTask(e.task), nil
}

// Backlog returns the number of pending or processing tasks.
func (o *Orchestrator) Backlog() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

func (o *Orchestrator) notify() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// dispatch hands queued tasks to the pool while workers are free.
func (o *Orchestrator) dispatch() {
	defer close(o.dispatcherDone)

	idle := o.workers
	for {
		for idle > 0 {
			e := o.next()
			if e == nil {
				break
			}
			idle--
			o.inflight.Add(1)
			err := o.pool.Submit(func() {
				defer o.inflight.Done()
				o.run(e)
				o.finished <- struct{}{}
			})
			if err != nil {
				o.inflight.Done()
				idle++
				o.complete(e, nil, core.Transient(fmt.Errorf("submit to worker pool: %w", err)))
			}
		}

		select {
		case <-o.wake:
		case <-o.finished:
			idle++
		case <-o.quit:
			return
		}
	}
}

// next pops the queue head and moves it to PROCESSING.
func (o *Orchestrator) next() *entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.queue) > 0 {
		id := o.queue[0]
		o.queue = o.queue[1:]
		e, ok := o.active[id]
		if !ok || e.task.State != core.TaskPending {
			continue
		}
		e.task.AttemptCount++
		o.transition(e, core.TaskProcessing)
		return e
	}
	return nil
}

func (o *Orchestrator) run(e *entry) {
	ctx, cancel := context.WithTimeout(o.runCtx, o.taskTimeout)
	defer cancel()

	o.logger.Debug("running task", "task", e.task.ID, "attempt", e.task.AttemptCount)
	result, err := o.invoke(ctx, e.req)
	o.complete(e, result, err)
}

func (o *Orchestrator) invoke(ctx context.Context, req ingestion.Request) (result *core.IngestResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, core.Fatal(fmt.Errorf("handler panicked: %v", r))
		}
	}()
	return o.handler.Ingest(ctx, req)
}

// complete records the outcome of a run.
func (o *Orchestrator) complete(e *entry, result *core.IngestResult, err error) {
	o.mu.Lock()
	task := e.task
	switch {
	case err == nil:
		task.LastError = ""
		task.Result = result
		if result != nil {
			task.Version = result.Version
		}
		o.transition(e, core.TaskSucceeded)
		o.logger.Info("task succeeded", "task", task.ID, "attempts", task.AttemptCount)

	case core.IsTransient(err) && task.AttemptCount < o.policy.MaxAttempts:
		task.LastError = err.Error()
		o.transition(e, core.TaskPending)
		delay := o.policy.Delay(task.AttemptCount)
		o.logger.Warn("task failed, will retry", "task", task.ID, "attempt", task.AttemptCount, "delay", delay, "err", err)
		time.AfterFunc(delay, func() { o.requeue(task.ID) })

	default:
		task.LastError = err.Error()
		o.transition(e, core.TaskFailed)
		o.logger.Error("task failed", "task", task.ID, "attempts", task.AttemptCount, "err", err)
	}
	state := task.State
	o.mu.Unlock()

	if state == core.TaskFailed {
		if abandonErr := o.handler.Abandon(o.runCtx, e.req, err); abandonErr != nil {
			o.logger.Error("failed to abandon document", "task", task.ID, "err", abandonErr)
		}
	}
}

func (o *Orchestrator) requeue(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.active[id]; ok && e.task.State == core.TaskPending {
		o.queue = append(o.queue, id)
		o.notify()
	}
}

// transition moves e to state and persists it. Callers hold o.mu.
func (o *Orchestrator) transition(e *entry, state core.TaskState) {
	e.task.State = state
	e.task.UpdatedAt = time.Now()
	if err := o.tasks.SaveTask(context.Background(), e.task); err != nil {
		o.logger.Error("failed to persist task", "task", e.task.ID, "state", state, "err", err)
	}
	metrics.TaskTransitions.WithLabelValues(state.String()).Inc()

	if state.Terminal() {
		delete(o.active, e.task.ID)
		scoped := taskKey{tenant: e.task.TenantID, key: e.task.IdempotencyKey}
		if o.byKey[scoped] == e.task.ID {
			delete(o.byKey, scoped)
		}
		close(e.done)
		metrics.TaskBacklog.Set(float64(len(o.active)))
	}
}

func cloneTask(t *core.Task) *core.Task {
	c := *t
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return &c
}
