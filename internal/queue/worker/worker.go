package worker

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mwaller89/accounthub/internal/actorctx"
	"github.com/mwaller89/accounthub/internal/jobs"
	"github.com/mwaller89/accounthub/internal/mail"
	"github.com/mwaller89/accounthub/internal/observability"
	"github.com/mwaller89/accounthub/internal/queue"
)

type Config struct {
	WorkerID      string
	Concurrency   int
	PollTimeout   time.Duration
	ShutdownGrace time.Duration
}

type Worker struct {
	cfg     Config
	queue   *queue.Queue
	mailer  mail.Mailer
	log     *slog.Logger
	metrics *observability.MailMetrics
	prom    *observability.Prom
}

func New(cfg Config, q *queue.Queue, mailer mail.Mailer, log *slog.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 2 * time.Second
	}

	return &Worker{
		cfg:     cfg,
		queue:   q,
		mailer:  mailer,
		log:     log,
		metrics: observability.NewMailMetrics(),
	}
}

// WithProm attaches prometheus collectors; without it the worker still keeps
// its in-process counters.
func (w *Worker) WithProm(p *observability.Prom) *Worker {
	w.prom = p
	return w
}

func (w *Worker) Metrics() *observability.MailMetrics {
	return w.metrics
}

// Run consumes jobs until ctx is cancelled, then waits for in-flight sends to
// drain (bounded by ShutdownGrace).
func (w *Worker) Run(ctx context.Context) error {
	sem := make(chan struct{}, w.cfg.Concurrency)

	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			return w.drain(&wg)
		default:
		}

		j, err := w.queue.Dequeue(ctx, w.cfg.PollTimeout)

		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			if ctx.Err() != nil {
				return w.drain(&wg)
			}
			w.log.Error("dequeue failed", "err", err, "worker_id", w.cfg.WorkerID)
			continue
		}

		w.metrics.IncClaimed()

		sem <- struct{}{}
		wg.Add(1)

		go func(j jobs.Job) {
			defer wg.Done()
			defer func() { <-sem }()

			w.processOne(ctx, j)
		}(j)
	}
}

func (w *Worker) drain(wg *sync.WaitGroup) error {
	done := make(chan struct{})

	go func() {
		wg.Wait()
		close(done)
	}()

	grace := w.cfg.ShutdownGrace

	if grace <= 0 {
		grace = 10 * time.Second
	}

	select {
	case <-done:
	case <-time.After(grace):
		w.log.Error("shutdown grace exceeded, abandoning in-flight jobs")
	}

	snap := w.metrics.Snapshot()
	w.log.Info("worker stats",
		"claimed", snap.Claimed,
		"done", snap.Done,
		"retried", snap.Retried,
		"dead_lettered", snap.DeadLettered,
		"avg_ms", snap.AverageDuration.Milliseconds(),
	)

	return nil
}

func (w *Worker) processOne(ctx context.Context, j jobs.Job) {
	start := time.Now()

	if w.prom != nil {
		w.prom.MailJobsInFlight.Inc()
		defer w.prom.MailJobsInFlight.Dec()
	}

	err := w.execute(ctx, j)

	elapsed := time.Since(start)
	w.metrics.ObserveDuration(elapsed)

	result := "done"

	if err != nil {
		result = "failed"
		if j.Attempts+1 < j.MaxTries {
			result = "retry"
		}
	}

	if w.prom != nil {
		w.prom.MailJobDuration.WithLabelValues(string(j.Type), result).Observe(elapsed.Seconds())
		w.prom.MailJobResults.WithLabelValues(string(j.Type), result).Inc()
	}

	if err == nil {
		w.metrics.IncDone()
		return
	}

	w.metrics.IncFailed()
	w.handleFailure(ctx, j, err)
}

func (w *Worker) execute(ctx context.Context, j jobs.Job) error {
	p, err := jobs.DecodePayload(j)

	if err != nil {
		return err
	}

	msg := mail.Message{
		Email:     p.Email,
		FirstName: p.FirstName,
		UID:       strconv.FormatInt(p.UserID, 10),
		Token:     p.Token,
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	sendCtx = actorctx.WithUserID(sendCtx, p.UserID)

	switch j.Type {
	case jobs.JobSendActivationEmail:
		return w.mailer.SendActivationEmail(sendCtx, msg)
	case jobs.JobSendPasswordResetEmail:
		return w.mailer.SendPasswordResetEmail(sendCtx, msg)
	case jobs.JobSendEmailResetEmail:
		return w.mailer.SendEmailResetEmail(sendCtx, msg)
	default:
		return jobs.ErrInvalidJobType
	}
}

// handleFailure re-enqueues with backoff until MaxTries, then dead-letters
// (logged; account emails can be re-requested via the resend endpoints).
func (w *Worker) handleFailure(ctx context.Context, j jobs.Job, cause error) {
	j.Attempts++

	if j.Attempts >= j.MaxTries {
		w.metrics.IncDeadLettered()
		w.log.Error("job dead-lettered",
			"job_id", j.ID,
			"job_type", string(j.Type),
			"attempts", j.Attempts,
			"err", cause,
		)
		return
	}

	w.metrics.IncRetried()

	delay := ExponentialBackoff(j.Attempts - 1)

	w.log.Warn("job retry scheduled",
		"job_id", j.ID,
		"job_type", string(j.Type),
		"attempt", j.Attempts,
		"delay_ms", delay.Milliseconds(),
		"err", cause,
	)

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		// push back immediately so the job survives shutdown
	}

	requeueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := w.queue.Enqueue(requeueCtx, j); err != nil {
		w.log.Error("requeue failed, job lost", "job_id", j.ID, "err", err)
	}
}
