package retry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/eleven-am/relay/internal/domain"
	"github.com/eleven-am/relay/internal/ports"
)

// Tracker re-enters failed operations into the host pipeline on an
// exponential backoff schedule. An operation keeps one backoff state across
// attempts, dropped when the operation reaches a terminal outcome.
type Tracker struct {
	sender ports.RequestSender
	cfg    domain.RetryConfig
	logger *slog.Logger

	mu       sync.Mutex
	backoffs map[uint64]backoff.BackOff
	timers   map[uint64]*time.Timer
	stopped  bool
}

func New(sender ports.RequestSender, cfg domain.RetryConfig, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		sender:   sender,
		cfg:      cfg,
		logger:   logger.With("component", "retry-tracker"),
		backoffs: make(map[uint64]backoff.BackOff),
		timers:   make(map[uint64]*time.Timer),
	}
}

func (t *Tracker) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.cfg.InitialInterval
	bo.MaxInterval = t.cfg.MaxInterval
	bo.Multiplier = t.cfg.Multiplier
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// TrackForRetry schedules op for a future attempt. An operation whose
// expiration already passed fails with a cancellation error instead of being
// scheduled.
func (t *Tracker) TrackForRetry(nowMicros int64, cause error, op *domain.Operation) {
	if op.IsExpired(nowMicros) {
		t.forget(op.ID())
		op.Fail(domain.NewCancellationError(op.Expiration()))
		return
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		op.Fail(cause)
		return
	}

	bo, tracked := t.backoffs[op.ID()]
	if !tracked {
		bo = t.newBackOff()
		t.backoffs[op.ID()] = bo
		op.NestCompletion(func(o *domain.Operation, err error) {
			t.forget(o.ID())
			if err != nil {
				o.Fail(err)
			} else {
				o.Complete()
			}
		})
	}

	delay := bo.NextBackOff()
	if delay == backoff.Stop {
		delete(t.backoffs, op.ID())
		t.mu.Unlock()
		op.Fail(cause)
		return
	}

	op.SetRetryCount(op.RetryCount() + 1)
	t.logger.Debug("operation scheduled for retry",
		"op", op.ID(), "path", op.Path(), "attempt", op.RetryCount(), "delay", delay, "cause", cause)

	t.timers[op.ID()] = time.AfterFunc(delay, func() {
		t.fire(op)
	})
	t.mu.Unlock()
}

func (t *Tracker) fire(op *domain.Operation) {
	t.mu.Lock()
	delete(t.timers, op.ID())
	stopped := t.stopped
	t.mu.Unlock()

	if stopped {
		return
	}

	if op.IsExpired(domain.NowMicros()) {
		t.forget(op.ID())
		op.Fail(domain.NewCancellationError(op.Expiration()))
		return
	}
	t.sender.SendRequest(op)
}

func (t *Tracker) forget(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.backoffs, id)
	if timer, ok := t.timers[id]; ok {
		timer.Stop()
		delete(t.timers, id)
	}
}

// Stop cancels all scheduled attempts. Operations waiting on a retry never
// re-enter the pipeline after Stop.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}

// Pending reports how many operations are waiting on a scheduled attempt.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
