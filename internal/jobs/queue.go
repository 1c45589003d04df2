package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inodb/vrs-registry/internal/storage"
)

// Time limits for one run. The soft limit cancels the task's context;
// the hard limit abandons a task that ignores cancellation.
const (
	DefaultSoftTimeLimit = 3600 * time.Second
	DefaultHardTimeLimit = 3900 * time.Second
)

// Task is the work of one run. It receives the pool's shared store and
// returns the path of the produced output file.
type Task func(ctx context.Context, store storage.Store) (outputPath string, err error)

// StoreProvider opens the storage backend a worker pool writes
// through. It is invoked at most once per Queue.
type StoreProvider func(ctx context.Context) (storage.Store, error)

// Options tune a queue. Zero values select the defaults.
type Options struct {
	Workers       int
	QueueDepth    int
	SoftTimeLimit time.Duration
	HardTimeLimit time.Duration
	Logger        *zap.Logger
}

// Queue accepts runs, executes them on a bounded worker pool, and
// records outcomes in the backend.
type Queue struct {
	backend  Backend
	provider StoreProvider
	logger   *zap.Logger

	soft time.Duration
	hard time.Duration

	tasks chan job
	wg    sync.WaitGroup

	storeMu sync.Mutex
	store   storage.Store
}

type job struct {
	id   string
	task Task
}

// NewQueue starts a queue with its worker pool.
func NewQueue(backend Backend, provider StoreProvider, opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 64
	}
	if opts.SoftTimeLimit <= 0 {
		opts.SoftTimeLimit = DefaultSoftTimeLimit
	}
	if opts.HardTimeLimit <= 0 {
		opts.HardTimeLimit = DefaultHardTimeLimit
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	q := &Queue{
		backend:  backend,
		provider: provider,
		logger:   opts.Logger,
		soft:     opts.SoftTimeLimit,
		hard:     opts.HardTimeLimit,
		tasks:    make(chan job, opts.QueueDepth),
	}
	q.wg.Add(opts.Workers)
	for range opts.Workers {
		go q.worker()
	}
	return q
}

// Submit registers a run and queues it for execution. A run ID whose
// recorded state is anything but PENDING is a conflict. retryAfter is
// the poll estimate reported back while the run is in flight.
func (q *Queue) Submit(ctx context.Context, id string, retryAfter int, task Task) error {
	existing, err := q.backend.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing != nil {
		return &DuplicateRunError{ID: id, State: existing.State}
	}
	if err := q.backend.Set(ctx, Result{ID: id, State: StateSent, RetryAfter: retryAfter}); err != nil {
		return err
	}
	select {
	case q.tasks <- job{id: id, task: task}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the recorded result for a run. Unknown IDs are
// PENDING.
func (q *Queue) Status(ctx context.Context, id string) (*Result, error) {
	r, err := q.backend.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return &Result{ID: id, State: StatePending}, nil
	}
	return r, nil
}

// Forget drops the stored result for a run.
func (q *Queue) Forget(ctx context.Context, id string) error {
	return q.backend.Forget(ctx, id)
}

// Stop drains queued runs and shuts the pool down, closing the shared
// store.
func (q *Queue) Stop() {
	close(q.tasks)
	q.wg.Wait()
	q.storeMu.Lock()
	defer q.storeMu.Unlock()
	if q.store != nil {
		if err := q.store.Close(); err != nil {
			q.logger.Error("failed to close job store", zap.Error(err))
		}
		q.store = nil
	}
}

// sharedStore opens the store on first use. All workers write through
// the same instance.
func (q *Queue) sharedStore(ctx context.Context) (storage.Store, error) {
	q.storeMu.Lock()
	defer q.storeMu.Unlock()
	if q.store == nil {
		store, err := q.provider(ctx)
		if err != nil {
			return nil, err
		}
		q.store = store
	}
	return q.store, nil
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.tasks {
		q.runOne(j)
	}
}

// runOne executes a single run and records its outcome. The task gets
// a context with the soft deadline; a task still running at the hard
// deadline is abandoned.
func (q *Queue) runOne(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.soft)
	defer cancel()

	type outcome struct {
		path string
		err  error
		lost bool
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				q.logger.Error("job worker panicked",
					zap.String("run_id", j.id), zap.Any("panic", r))
				done <- outcome{lost: true}
			}
		}()
		store, err := q.sharedStore(ctx)
		if err != nil {
			done <- outcome{err: fmt.Errorf("open store: %w", err)}
			return
		}
		path, err := j.task(ctx, store)
		done <- outcome{path: path, err: err}
	}()

	var result Result
	select {
	case o := <-done:
		result = q.classify(ctx, j.id, o.path, o.err, o.lost)
	case <-time.After(q.hard):
		cancel()
		result = Result{
			ID:        j.id,
			State:     StateFailure,
			ErrorCode: ErrTimeLimitExceeded,
			Message:   fmt.Sprintf("run exceeded the hard time limit of %s", q.hard),
		}
	}

	if err := q.backend.Set(context.Background(), result); err != nil {
		q.logger.Error("failed to record run result",
			zap.String("run_id", j.id), zap.Error(err))
	}
}

// classify derives the recorded outcome. TIME_LIMIT_EXCEEDED is
// reserved for the run's own soft limit; a downstream timeout wrapped
// in the task's error is an ordinary run failure.
func (q *Queue) classify(ctx context.Context, id, path string, err error, lost bool) Result {
	switch {
	case lost:
		return Result{ID: id, State: StateFailure, ErrorCode: ErrWorkerLost,
			Message: "the worker processing the run died"}
	case err == nil:
		q.logger.Info("run succeeded", zap.String("run_id", id))
		return Result{ID: id, State: StateSuccess, OutputPath: path}
	case ctx.Err() == context.DeadlineExceeded:
		return Result{ID: id, State: StateFailure, ErrorCode: ErrTimeLimitExceeded,
			Message: err.Error()}
	default:
		q.logger.Warn("run failed", zap.String("run_id", id), zap.Error(err))
		return Result{ID: id, State: StateFailure, ErrorCode: ErrRunFailure,
			Message: err.Error()}
	}
}
