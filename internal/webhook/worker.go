package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Processor applies one webhook body.
type Processor interface {
	Handle(ctx context.Context, slug string, raw []byte) error
}

// Source is where the worker takes events from. Every dequeued envelope is
// settled by exactly one of Ack, Requeue or DeadLetter.
type Source interface {
	Recover(ctx context.Context) (int, error)
	Dequeue(ctx context.Context, timeout time.Duration) (Envelope, bool, error)
	Ack(ctx context.Context, env Envelope) error
	Requeue(ctx context.Context, env Envelope) error
	DeadLetter(ctx context.Context, env Envelope) error
}

// Worker drains the webhook queue. Failing events are retried with a
// linear backoff and dead-lettered after maxAttempts. Events interrupted by
// shutdown go back on the queue.
type Worker struct {
	source      Source
	processor   Processor
	maxAttempts int
	backoff     time.Duration
	poll        time.Duration
	logger      *slog.Logger
}

// NewWorker builds a worker.
func NewWorker(source Source, processor Processor, maxAttempts int, logger *slog.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Worker{
		source:      source,
		processor:   processor,
		maxAttempts: maxAttempts,
		backoff:     time.Second,
		poll:        5 * time.Second,
		logger:      logger,
	}
}

// Run processes events until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	n, err := w.source.Recover(ctx)
	if err != nil {
		return err
	}
	w.logger.Info("webhook worker started", "max_attempts", w.maxAttempts, "recovered", n)
	for {
		if ctx.Err() != nil {
			w.logger.Info("webhook worker stopped")
			return nil
		}

		env, ok, err := w.source.Dequeue(ctx, w.poll)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("webhook dequeue failed", "error", err)
			w.sleep(ctx, w.backoff)
			continue
		}
		if !ok {
			continue
		}
		w.Process(ctx, env)
	}
}

// Process handles one envelope, retrying and dead-lettering as needed.
func (w *Worker) Process(ctx context.Context, env Envelope) {
	logger := w.logger.With("webhook_id", env.ID, "provider", env.Provider)
	for env.Attempts < w.maxAttempts {
		env.Attempts++
		err := w.handle(ctx, env)
		if err == nil {
			logger.Debug("webhook processed", "attempt", env.Attempts)
			if err := w.source.Ack(context.WithoutCancel(ctx), env); err != nil {
				logger.Error("webhook ack failed", "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			// the attempt was cut short, it does not count
			env.Attempts--
			w.requeue(ctx, env, logger)
			return
		}
		env.LastError = err.Error()
		logger.Warn("webhook processing failed", "attempt", env.Attempts, "error", err)
		if env.Attempts < w.maxAttempts && !w.sleep(ctx, time.Duration(env.Attempts)*w.backoff) {
			w.requeue(ctx, env, logger)
			return
		}
	}

	logger.Error("webhook moved to dead letter list", "attempts", env.Attempts, "error", env.LastError)
	if err := w.source.DeadLetter(context.WithoutCancel(ctx), env); err != nil {
		logger.Error("dead letter push failed", "error", err)
	}
}

func (w *Worker) requeue(ctx context.Context, env Envelope, logger *slog.Logger) {
	logger.Info("webhook returned to queue on shutdown", "attempts", env.Attempts)
	if err := w.source.Requeue(context.WithoutCancel(ctx), env); err != nil {
		logger.Error("webhook requeue failed", "error", err)
	}
}

func (w *Worker) handle(ctx context.Context, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.processor.Handle(ctx, env.Provider, env.Payload)
}

// sleep waits for d and reports false if ctx ended first.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
