package queue

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxRunTime caps how long a single job may run.
const DefaultMaxRunTime = 4 * time.Hour

// Worker repeatedly reserves jobs from a Backend and performs them. On success
// the message is deleted. On failure the job is given up on right away, since
// MaxAttempts is 1, and by default the message is left in place so that SQS
// delivers it again once its visibility timeout runs out.
type Worker struct {
	name                     string
	backend                  *Backend
	logger                   log.Logger
	dispatcher               Dispatcher
	ledger                   FailedLedger
	parallelism              int
	sleepDelay               time.Duration
	maxRunTime               time.Duration
	destroyFailedJobs        bool
	queueLengthGauge         metrics.Gauge
	jobCounter               metrics.Counter
	checkQueueLengthInterval time.Duration
}

// UseName names the worker in logs and metrics.
func UseName(name string) func(*Worker) {
	return func(worker *Worker) {
		worker.name = name
	}
}

// UseLogger is an option for NewWorker that feeds the worker with a Logger of choice.
func UseLogger(logger log.Logger) func(*Worker) {
	return func(worker *Worker) {
		worker.logger = logger
	}
}

// UseParallelism is an option for NewWorker that sets how many jobs run at once.
func UseParallelism(parallelism int) func(*Worker) {
	return func(worker *Worker) {
		worker.parallelism = parallelism
	}
}

// UseSleepDelay sets how long Consume waits after finding the queue empty.
func UseSleepDelay(delay time.Duration) func(*Worker) {
	return func(worker *Worker) {
		worker.sleepDelay = delay
	}
}

// UseMaxRunTime caps the run time of every job. A payload may ask for less
// with MaxRunTimer, never for more.
func UseMaxRunTime(maxRunTime time.Duration) func(*Worker) {
	return func(worker *Worker) {
		worker.maxRunTime = maxRunTime
	}
}

// UseDestroyFailedJobs deletes the message of failed jobs instead of leaving
// it for redelivery.
func UseDestroyFailedJobs(destroy bool) func(*Worker) {
	return func(worker *Worker) {
		worker.destroyFailedJobs = destroy
	}
}

// UseDispatcher is an option for NewWorker to swap the event dispatcher implementation
func UseDispatcher(dispatcher Dispatcher) func(*Worker) {
	return func(worker *Worker) {
		worker.dispatcher = dispatcher
	}
}

// UseFailedLedger records failed jobs into the ledger.
func UseFailedLedger(ledger FailedLedger) func(*Worker) {
	return func(worker *Worker) {
		worker.ledger = ledger
	}
}

// UseGauge is an option for NewWorker that reports the approximate queue length.
func UseGauge(gauge metrics.Gauge, interval time.Duration) func(*Worker) {
	return func(worker *Worker) {
		worker.queueLengthGauge = gauge
		worker.checkQueueLengthInterval = interval
	}
}

// UseCounter is an option for NewWorker that counts processed jobs by status.
func UseCounter(counter metrics.Counter) func(*Worker) {
	return func(worker *Worker) {
		worker.jobCounter = counter
	}
}

// NewWorker creates a Worker that consumes jobs from backend.
func NewWorker(backend *Backend, opts ...func(*Worker)) *Worker {
	w := Worker{
		name:        "default",
		backend:     backend,
		logger:      log.NewNopLogger(),
		dispatcher:  &SyncDispatcher{},
		parallelism: runtime.NumCPU(),
		sleepDelay:  5 * time.Second,
		maxRunTime:  DefaultMaxRunTime,
	}
	for _, f := range opts {
		f(&w)
	}
	return &w
}

// Backend returns the backend the worker consumes.
func (w *Worker) Backend() *Backend {
	return w.backend
}

// Name returns the worker name.
func (w *Worker) Name() string {
	return w.name
}

// Subscribe subscribes a listener to the job events of this worker.
func (w *Worker) Subscribe(listener Listener) {
	w.dispatcher.Subscribe(listener)
}

// Consume reserves and runs jobs until the context is canceled or the queue
// cannot be resolved. Service errors while reserving are logged and retried
// after the sleep delay.
func (w *Worker) Consume(ctx context.Context) error {
	var jobChan = make(chan *Job)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobChan)
		for {
			job, err := w.backend.Reserve(ctx)
			if errors.Is(err, ErrNoQueue) {
				return err
			}
			if err != nil && ctx.Err() == nil {
				_ = level.Warn(w.logger).Log("msg", "reserve failed", "queue", w.name, "err", err)
			}
			if job == nil {
				if !w.sleep(ctx) {
					return ctx.Err()
				}
				continue
			}
			select {
			case jobChan <- job:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	if w.queueLengthGauge != nil {
		interval := w.checkQueueLengthInterval
		if interval == 0 {
			interval = 15 * time.Second
		}
		ticker := time.NewTicker(interval)
		g.Go(func() error {
			for {
				select {
				case <-ticker.C:
					w.gauge(ctx)
				case <-ctx.Done():
					ticker.Stop()
					return ctx.Err()
				}
			}
		})
	}
	for i := 0; i < w.parallelism; i++ {
		g.Go(func() error {
			for job := range jobChan {
				w.Run(ctx, job)
			}
			return nil
		})
	}
	return g.Wait()
}

// WorkOff runs up to num jobs one after another and stops early when the
// queue is empty. It returns the number of succeeded and failed jobs.
func (w *Worker) WorkOff(ctx context.Context, num int) (success, failure int, err error) {
	for i := 0; i < num; i++ {
		job, rerr := w.backend.Reserve(ctx)
		if rerr != nil {
			return success, failure, rerr
		}
		if job == nil {
			break
		}
		if w.Run(ctx, job) {
			success++
		} else {
			failure++
		}
	}
	return success, failure, nil
}

// Run performs a reserved job and reports whether it succeeded. If ctx is
// canceled while the job runs, the job is neither failed nor deleted.
func (w *Worker) Run(ctx context.Context, job *Job) bool {
	maxRunTime := w.MaxRunTime(job)
	runCtx, cancel := context.WithTimeout(ctx, maxRunTime)
	defer cancel()

	start := time.Now()
	err := w.invoke(runCtx, job, maxRunTime)
	if err != nil && ctx.Err() != nil {
		// Shutting down. The message becomes visible again once its
		// visibility timeout runs out.
		_ = level.Info(w.logger).Log("msg", "job interrupted, left for redelivery", "queue", w.name, "id", job.ID, "job", job.Name())
		return false
	}
	if err != nil {
		job.LastError = err.Error()
		_ = level.Warn(w.logger).Log("msg", "job failed", "queue", w.name, "id", job.ID, "job", job.Name(), "attempts", job.Attempts, "err", err)
		w.Reschedule(ctx, job, err)
		w.count("failure")
		return false
	}

	if err := job.Destroy(ctx); err != nil {
		// The job ran, but the message will be delivered again.
		_ = level.Warn(w.logger).Log("msg", "job completed but not deleted", "queue", w.name, "id", job.ID, "err", err)
	}
	_ = level.Info(w.logger).Log("msg", "job completed", "queue", w.name, "id", job.ID, "job", job.Name(), "duration", time.Since(start))
	_ = w.dispatcher.Dispatch(ctx, AfterSuccess, AfterSuccessPayload{Job: job})
	w.count("success")
	return true
}

// MaxRunTime returns the run time allowed for the job: the payload's own
// limit when it has a shorter one, the worker's otherwise.
func (w *Worker) MaxRunTime(job *Job) time.Duration {
	if d := job.MaxRunTime(); d > 0 && d < w.maxRunTime {
		return d
	}
	return w.maxRunTime
}

// Reschedule handles a failed job. The attempt is counted, and if attempts
// remain the job is rescheduled. SQS jobs have a single attempt and cannot be
// rescheduled, so they always end up in the failure path.
func (w *Worker) Reschedule(ctx context.Context, job *Job, cause error) {
	job.Attempts++
	if job.Attempts < job.MaxAttempts() {
		_ = w.dispatcher.Dispatch(ctx, BeforeRetry, BeforeRetryPayload{Err: cause, Job: job})
		err := job.RescheduleAt(w.backend.DBTimeNow())
		if err == nil {
			return
		}
		if !IsUnsupported(err) {
			_ = level.Warn(w.logger).Log("msg", "reschedule failed", "queue", w.name, "id", job.ID, "err", err)
		}
	}
	w.failed(ctx, job, cause)
}

func (w *Worker) failed(ctx context.Context, job *Job, cause error) {
	_ = w.dispatcher.Dispatch(ctx, BeforeAbort, BeforeAbortPayload{Err: cause, Job: job})

	if p, err := job.PayloadObject(); err == nil {
		if hook, ok := p.(FailureHook); ok {
			if err := callFailureHook(ctx, hook, job); err != nil {
				_ = level.Warn(w.logger).Log("msg", "failure hook failed", "queue", w.name, "id", job.ID, "err", err)
			}
		}
	}

	if w.destroyFailedJobs {
		if err := job.Destroy(ctx); err != nil {
			_ = level.Warn(w.logger).Log("msg", "failed job not deleted", "queue", w.name, "id", job.ID, "err", err)
		}
		_ = level.Info(w.logger).Log("msg", "failed job removed", "queue", w.name, "id", job.ID)
	} else {
		job.MarkFailed(cause)
		_ = level.Info(w.logger).Log("msg", "failed job left for redelivery", "queue", w.name, "id", job.ID)
	}

	if w.ledger != nil {
		if job.FailedAt.IsZero() {
			job.FailedAt = w.backend.DBTimeNow()
		}
		if err := w.ledger.Record(ctx, recordOf(job)); err != nil {
			_ = level.Warn(w.logger).Log("msg", "failed job not recorded", "queue", w.name, "id", job.ID, "err", err)
		}
	}
}

func (w *Worker) invoke(ctx context.Context, job *Job, maxRunTime time.Duration) error {
	// Decode before the payload runs in its own goroutine, so the job is
	// not mutated concurrently once the run time expires.
	if _, err := job.PayloadObject(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("job panicked: %v", r)
			}
		}()
		done <- job.Invoke(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.Errorf("execution expired: max run time is %s", maxRunTime)
	}
}

func callFailureHook(ctx context.Context, hook FailureHook, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failure hook panicked: %v", r)
		}
	}()
	return hook.Failure(ctx, job)
}

func (w *Worker) sleep(ctx context.Context) bool {
	timer := time.NewTimer(w.sleepDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *Worker) gauge(ctx context.Context) {
	n, err := w.backend.Count(ctx)
	if err != nil {
		_ = level.Warn(w.logger).Log("err", err)
		return
	}
	w.queueLengthGauge.With("queue", w.name).Set(float64(n))
}

func (w *Worker) count(status string) {
	if w.jobCounter == nil {
		return
	}
	w.jobCounter.With("queue", w.name, "status", status).Add(1)
}
