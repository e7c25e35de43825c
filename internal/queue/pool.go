// Package queue runs the background workers that execute queued OCR
// jobs. Workers coordinate only through the job row's lock token and
// lease deadline; there is no in-process shared state between them.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/formahead/docproc/internal/events"
	"github.com/formahead/docproc/internal/store"
	"github.com/formahead/docproc/internal/store/model"
	"github.com/formahead/docproc/pkg/metrics"
)

// Processor executes one job attempt. Process runs the full pipeline
// for the job's document; Abandon is called once no retry remains so
// the parent document can be marked failed.
type Processor interface {
	Process(ctx context.Context, job *model.Job) error
	Abandon(ctx context.Context, job *model.Job, cause error) error
}

// Publisher is the slice of the event producer the pool needs.
type Publisher interface {
	Write(ctx context.Context, kind string, body io.Reader) error
}

type Config struct {
	Workers       int
	PollInterval  time.Duration
	Heartbeat     time.Duration
	LeaseDuration time.Duration
	JobTimeout    time.Duration
	MaxAttempts   int
	Backoff       Backoff
	GCRetention   time.Duration
}

type Pool struct {
	store     store.Store
	processor Processor
	cfg       Config
	clock     Clock
	publisher Publisher
	log       *zap.SugaredLogger
}

type PoolOption func(*Pool)

// WithClock replaces the wall clock, used by tests.
func WithClock(c Clock) PoolOption {
	return func(p *Pool) {
		p.clock = c
	}
}

// WithPublisher emits a JobAttemptEvent after every attempt.
func WithPublisher(pub Publisher) PoolOption {
	return func(p *Pool) {
		p.publisher = pub
	}
}

func NewPool(s store.Store, processor Processor, cfg Config, opts ...PoolOption) *Pool {
	p := &Pool{
		store:     s,
		processor: processor,
		cfg:       cfg,
		clock:     SystemClock(),
		log:       zap.S().Named("worker_pool"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run starts the workers and the job garbage collector and blocks
// until the context is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			p.runWorker(ctx, worker)
			return nil
		})
	}
	g.Go(func() error {
		p.runGC(ctx)
		return nil
	})
	return g.Wait()
}

func (p *Pool) runWorker(ctx context.Context, worker int) {
	log := p.log.With("worker", worker)
	ticker := jitterbug.New(p.cfg.PollInterval, &jitterbug.Norm{Stdev: 30 * time.Millisecond, Mean: 0})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// drain everything that is ready before sleeping again
		for {
			job, err := p.claim(ctx)
			if err != nil {
				if !errors.Is(err, store.ErrRecordNotFound) {
					log.Errorw("failed to claim job", "error", err)
				}
				break
			}
			p.runAttempt(ctx, log, job)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (p *Pool) claim(ctx context.Context) (*model.Job, error) {
	token := uuid.NewString()
	return p.store.Job().Claim(ctx, token, p.cfg.LeaseDuration, p.clock.Now())
}

// runAttempt executes one claimed job end-to-end: heartbeat goroutine,
// per-attempt timeout, and the retry/fail decision afterwards.
func (p *Pool) runAttempt(ctx context.Context, log *zap.SugaredLogger, job *model.Job) {
	token := ""
	if job.LockToken != nil {
		token = *job.LockToken
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	heartbeatDone := make(chan struct{})
	go p.runHeartbeat(attemptCtx, cancel, job.ID, token, heartbeatDone)

	started := p.clock.Now()
	err := p.processor.Process(attemptCtx, job)
	if err == nil && attemptCtx.Err() != nil {
		err = attemptCtx.Err()
	}
	cancel()
	<-heartbeatDone
	p.settle(ctx, log, job, token, err, p.clock.Now().Sub(started))
}

// settle records the attempt outcome. The retry decision: fatal errors
// and exhausted budgets fail the job, everything else goes back to the
// pending pool with a backoff delay.
func (p *Pool) settle(ctx context.Context, log *zap.SugaredLogger, job *model.Job, token string, attemptErr error, elapsed time.Duration) {
	now := p.clock.Now()
	jobStore := p.store.Job()

	switch {
	case attemptErr == nil:
		if err := jobStore.Complete(ctx, job.ID, token, now); err != nil {
			// lost the lock mid-flight, the result belongs to whoever
			// holds it now
			log.Warnw("job completed but lock was lost", "job", job.ID, "error", err)
			p.recordAttempt(ctx, job, "lost_lock", attemptErr, elapsed)
			return
		}
		log.Infow("job completed", "job", job.ID, "attempt", job.Attempts, "duration", elapsed)
		p.recordAttempt(ctx, job, "completed", nil, elapsed)

	case IsFatal(attemptErr):
		p.failJob(ctx, log, job, token, attemptErr, now)
		p.recordAttempt(ctx, job, "failed", attemptErr, elapsed)

	case job.Attempts >= p.cfg.MaxAttempts:
		p.failJob(ctx, log, job, token, attemptErr, now)
		p.recordAttempt(ctx, job, "exhausted", attemptErr, elapsed)

	default:
		runAt := now.Add(p.cfg.Backoff.NextDelay(job.Attempts))
		if err := jobStore.ReleaseForRetry(ctx, job.ID, token, runAt, attemptErr.Error()); err != nil {
			log.Warnw("failed to release job for retry", "job", job.ID, "error", err)
		}
		log.Infow("job attempt failed, retrying", "job", job.ID, "attempt", job.Attempts, "run_at", runAt, "error", attemptErr)
		p.recordAttempt(ctx, job, "retried", attemptErr, elapsed)
	}
}

func (p *Pool) failJob(ctx context.Context, log *zap.SugaredLogger, job *model.Job, token string, cause error, now time.Time) {
	if err := p.store.Job().Fail(ctx, job.ID, token, cause.Error(), now); err != nil {
		log.Warnw("failed to mark job failed", "job", job.ID, "error", err)
		return
	}
	if err := p.processor.Abandon(ctx, job, cause); err != nil {
		log.Errorw("failed to abandon document", "job", job.ID, "document", job.DocumentID, "error", err)
	}
	log.Warnw("job failed permanently", "job", job.ID, "attempt", job.Attempts, "error", cause)
}

// runHeartbeat renews the lease until the attempt context ends. Losing
// the lock cancels the attempt: the work would be discarded anyway.
func (p *Pool) runHeartbeat(ctx context.Context, cancel context.CancelFunc, jobID uuid.UUID, token string, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		lockedUntil := p.clock.Now().Add(p.cfg.LeaseDuration)
		if err := p.store.Job().Heartbeat(ctx, jobID, token, lockedUntil); err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				p.log.Warnw("job lease lost, cancelling attempt", "job", jobID)
				cancel()
				return
			}
			p.log.Warnw("failed to renew job lease", "job", jobID, "error", err)
		}
	}
}

func (p *Pool) recordAttempt(ctx context.Context, job *model.Job, result string, attemptErr error, elapsed time.Duration) {
	reason := ""
	if attemptErr != nil {
		reason = "error"
		if IsFatal(attemptErr) {
			reason = "fatal"
		}
	}
	metrics.IncreaseJobAttemptsMetric(result, reason)
	metrics.ObserveJobAttemptDurationMetric(result, elapsed.Seconds())

	if p.publisher == nil {
		return
	}
	event := events.JobAttemptEvent{
		JobID:      job.ID.String(),
		DocumentID: job.DocumentID.String(),
		Attempt:    job.Attempts,
		Result:     result,
	}
	if attemptErr != nil {
		event.Error = attemptErr.Error()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := p.publisher.Write(ctx, events.JobAttemptMessageKind, bytes.NewReader(body)); err != nil {
		p.log.Warnw("failed to publish job attempt event", "job", job.ID, "error", err)
	}
}

// runGC periodically deletes terminal jobs older than the retention
// window.
func (p *Pool) runGC(ctx context.Context) {
	if p.cfg.GCRetention <= 0 {
		return
	}
	interval := p.cfg.GCRetention / 4
	if interval > time.Hour {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cutoff := p.clock.Now().Add(-p.cfg.GCRetention)
		deleted, err := p.store.Job().DeleteTerminalBefore(ctx, cutoff)
		if err != nil {
			p.log.Errorw("job gc failed", "error", err)
			continue
		}
		if deleted > 0 {
			p.log.Infow("job gc done", "deleted", deleted)
		}
	}
}
