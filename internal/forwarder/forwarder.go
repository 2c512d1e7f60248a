// Package forwarder wires the encoder, the batch buffer and a delivery
// client together. It is the only component the observation sources call.
//
// Observations are encoded and buffered synchronously on the caller's
// goroutine. Sealed batches go onto a bounded queue read by a single
// delivery worker (Run), so a slow or unreachable Zabbix fills the queue
// and the buffer instead of blocking the caller.
package forwarder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/weewx-zbxsender/bridge/internal/buffer"
	"github.com/weewx-zbxsender/bridge/internal/clock"
	"github.com/weewx-zbxsender/bridge/internal/encoder"
	"github.com/weewx-zbxsender/bridge/internal/metrics"
	"github.com/weewx-zbxsender/bridge/internal/models"
	"github.com/weewx-zbxsender/bridge/internal/sender"
	"github.com/weewx-zbxsender/bridge/internal/spool"
)

// State is the forwarder's position in its delivery cycle.
type State int

const (
	Idle State = iota
	Buffering
	Flushing
	Backoff
)

var stateNames = []string{"Idle", "Buffering", "Flushing", "Backoff"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options configures a Forwarder.
type Options struct {
	Buffer                 buffer.Options
	QueueSize              int
	MaxRetryCount          int
	BackoffBase            time.Duration
	BackoffMax             time.Duration
	MaxDeliveriesPerSecond float64

	// Clock defaults to the real clock.
	Clock clock.Clock
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// Spool, when set, receives samples still undelivered at shutdown.
	Spool *spool.Spool
}

// Forwarder orchestrates encode → buffer → deliver with retry and backoff.
type Forwarder struct {
	enc     *encoder.Encoder
	buf     *buffer.Buffer
	client  sender.Client
	opts    Options
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter

	queue chan models.Batch

	mu           sync.Mutex
	state        State
	exponent     int
	backoffUntil time.Time
	closed       bool

	// deliverMu serialises client calls between Run and OnShutdown.
	deliverMu sync.Mutex
	// intake is held shared while an observation is buffered and
	// exclusively while OnShutdown closes intake.
	intake sync.RWMutex
}

// New creates a Forwarder. Call Run to start delivering.
func New(enc *encoder.Encoder, client sender.Client, opts Options, logger *zap.Logger) *Forwarder {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.MaxRetryCount <= 0 {
		opts.MaxRetryCount = 1
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}

	f := &Forwarder{
		enc:     enc,
		buf:     buffer.New(opts.Buffer, opts.Clock),
		client:  client,
		opts:    opts,
		clock:   opts.Clock,
		logger:  logger.Named("forwarder"),
		metrics: opts.Metrics,
		queue:   make(chan models.Batch, opts.QueueSize),
	}
	if opts.MaxDeliveriesPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(opts.MaxDeliveriesPerSecond), 1)
	}
	f.metrics.SetState(Idle.String(), stateNames)
	return f
}

// State returns the current state.
func (f *Forwarder) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// BackoffUntil returns the end of the current backoff, or the zero time.
func (f *Forwarder) BackoffUntil() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Backoff {
		return time.Time{}
	}
	return f.backoffUntil
}

// Buffered returns the number of samples in the open batch.
func (f *Forwarder) Buffered() int { return f.buf.Len() }

// Queued returns the number of sealed batches awaiting delivery.
func (f *Forwarder) Queued() int { return len(f.queue) }

// setStateLocked moves to next and records the transition.
// Must be called with f.mu held.
func (f *Forwarder) setStateLocked(next State) {
	if f.state == next {
		return
	}
	f.logger.Debug("State transition",
		zap.Stringer("from", f.state),
		zap.Stringer("to", next))
	f.state = next
	f.metrics.SetState(next.String(), stateNames)
}

// OnObservation encodes obs and buffers its samples, sealing a batch when
// the buffer is full or old enough. It never returns an error and never
// panics into the caller.
func (f *Forwarder) OnObservation(obs models.Observation) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Observation handling panicked",
				zap.String("source", obs.Source),
				zap.Any("panic", r))
		}
	}()

	f.intake.RLock()
	defer f.intake.RUnlock()
	f.accept(obs)
}

// accept buffers obs unless intake is closed. Callers hold f.intake shared.
func (f *Forwarder) accept(obs models.Observation) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		f.logger.Warn("Observation received after shutdown, ignoring",
			zap.String("source", obs.Source),
			zap.Int("fields", len(obs.Fields)))
		return
	}

	f.metrics.IncObservations()
	samples, skipped := f.enc.Encode(obs)
	for _, s := range skipped {
		f.logger.Warn("Dropped sample",
			zap.String("reason", models.DropEncodeError),
			zap.String("key", f.enc.Prefix()+s.Field),
			zap.String("detail", s.Reason))
	}
	f.metrics.AddDropped(models.DropEncodeError, len(skipped))
	f.metrics.AddEncoded(len(samples))

	if len(samples) == 0 {
		return
	}
	f.drop(f.buf.Add(samples...), models.DropBufferOverflow, "buffer full")

	f.mu.Lock()
	if f.state == Idle {
		f.setStateLocked(Buffering)
	}
	f.mu.Unlock()
	f.metrics.SetBuffered(f.buf.Len())

	if f.buf.ShouldFlush() {
		f.flush("threshold")
	}
}

// OnFlushTick seals whatever is buffered so partial batches age out.
func (f *Forwarder) OnFlushTick() {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed || f.buf.Len() == 0 {
		return
	}
	f.flush("timer")
}

// flush seals one batch and queues it for the delivery worker. While
// backing off, or when the queue is full, samples stay in the buffer.
func (f *Forwarder) flush(trigger string) {
	f.mu.Lock()
	if f.state == Backoff {
		if f.clock.Now().Before(f.backoffUntil) {
			f.mu.Unlock()
			return
		}
		f.setStateLocked(Buffering)
	}
	f.mu.Unlock()

	batch := f.buf.Drain()
	if batch.Empty() {
		return
	}

	select {
	case f.queue <- batch:
		f.mu.Lock()
		if f.state != Backoff {
			f.setStateLocked(Flushing)
		}
		f.mu.Unlock()
		f.logger.Debug("Sealed batch",
			zap.Uint64("seq", batch.Seq()),
			zap.Int("samples", batch.Len()),
			zap.String("trigger", trigger))
	default:
		f.drop(f.buf.Requeue(batch.Entries()), models.DropBufferOverflow, "buffer full")
		f.logger.Debug("Delivery queue full, keeping samples buffered",
			zap.Int("buffered", f.buf.Len()))
	}
	f.metrics.SetBuffered(f.buf.Len())
	f.metrics.SetQueued(len(f.queue))
}

// backoffRemaining returns how long delivery must still wait.
func (f *Forwarder) backoffRemaining() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Backoff {
		return 0
	}
	if d := f.backoffUntil.Sub(f.clock.Now()); d > 0 {
		return d
	}
	return 0
}

// endBackoff leaves Backoff once its delay has elapsed.
func (f *Forwarder) endBackoff() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Backoff && !f.clock.Now().Before(f.backoffUntil) {
		f.setStateLocked(Buffering)
	}
}

// Run is the delivery worker. It blocks until ctx is done; an attempt in
// flight when ctx is cancelled runs to completion or to its own timeout.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		f.metrics.SetQueued(len(f.queue))

		if wait := f.backoffRemaining(); wait > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-f.clock.After(wait):
				f.endBackoff()
				f.flush("retry")
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case batch := <-f.queue:
			if f.limiter != nil {
				if err := f.limiter.Wait(ctx); err != nil {
					f.drop(f.buf.Requeue(batch.Entries()), models.DropBufferOverflow, "buffer full")
					return nil
				}
			}
			f.deliver(context.WithoutCancel(ctx), batch)
		}
	}
}

// deliver makes one delivery attempt and applies the outcome.
func (f *Forwarder) deliver(ctx context.Context, batch models.Batch) {
	if batch.Empty() {
		return
	}
	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()

	f.mu.Lock()
	f.setStateLocked(Flushing)
	f.mu.Unlock()

	res := f.try(ctx, batch)
	retry := f.settle(batch, res)

	f.mu.Lock()
	defer f.mu.Unlock()
	if res.Status == models.StatusOK || (res.Status == models.StatusPartial && len(retry) == 0) {
		f.exponent = 0
		f.setStateLocked(Idle)
		if f.buf.Len() > 0 {
			f.setStateLocked(Buffering)
		}
		return
	}

	f.drop(f.buf.Requeue(retry), models.DropBufferOverflow, "buffer full")
	delay := f.backoffDelay(f.exponent)
	f.exponent++
	f.backoffUntil = f.clock.Now().Add(delay)
	f.setStateLocked(Backoff)
	f.logger.Warn("Delivery failed, backing off",
		zap.String("status", string(res.Status)),
		zap.Duration("delay", delay),
		zap.Int("requeued", len(retry)),
		zap.Error(res.Err))
}

// try calls the client once and records the attempt.
func (f *Forwarder) try(ctx context.Context, batch models.Batch) models.DeliveryResult {
	res := f.client.Deliver(ctx, batch)
	f.metrics.ObserveFlush(string(res.Status), res.Latency)
	f.logger.Info("Flush attempt",
		zap.String("relay", f.client.Name()),
		zap.Uint64("seq", batch.Seq()),
		zap.Int("samples", batch.Len()),
		zap.String("status", string(res.Status)),
		zap.Duration("latency", res.Latency),
		zap.Int("processed", res.Processed),
		zap.Int("rejected", res.Rejected+countRejected(res.Failed)),
		zap.String("info", res.Info))
	return res
}

// settle accounts for delivered and rejected samples and returns the
// entries to redeliver, with their attempt count incremented. Entries that
// reached MaxRetryCount are dropped.
func (f *Forwarder) settle(batch models.Batch, res models.DeliveryResult) []models.Entry {
	if res.Status == models.StatusOK {
		f.metrics.AddDelivered(batch.Len())
		return nil
	}

	delivered := len(res.Succeeded)
	if delivered == 0 {
		delivered = res.Processed
	}
	f.metrics.AddDelivered(delivered)

	if res.Rejected > 0 {
		f.logger.Warn("Dropped samples",
			zap.String("reason", models.DropBackendRejected),
			zap.Int("count", res.Rejected),
			zap.Uint64("seq", batch.Seq()),
			zap.String("info", res.Info))
		f.metrics.AddDropped(models.DropBackendRejected, res.Rejected)
	}

	var retry []models.Entry
	for _, failure := range res.Failed {
		if failure.Index < 0 || failure.Index >= batch.Len() {
			continue
		}
		e := batch.Entry(failure.Index)
		e.Attempts++
		switch {
		case !failure.Retryable:
			f.drop([]models.Entry{e}, models.DropBackendRejected, failure.Reason)
		case e.Attempts >= f.opts.MaxRetryCount:
			f.drop([]models.Entry{e}, models.DropMaxRetry, failure.Reason)
		default:
			retry = append(retry, e)
		}
	}
	return retry
}

// backoffDelay returns base·2^attempt capped at BackoffMax.
func (f *Forwarder) backoffDelay(attempt int) time.Duration {
	delay := f.opts.BackoffBase
	for i := 0; i < attempt && delay < f.opts.BackoffMax; i++ {
		delay *= 2
	}
	if delay > f.opts.BackoffMax {
		delay = f.opts.BackoffMax
	}
	return delay
}

// drop logs and counts entries discarded without delivery.
func (f *Forwarder) drop(entries []models.Entry, reason, detail string) {
	for _, e := range entries {
		f.logger.Warn("Dropped sample",
			zap.String("reason", reason),
			zap.String("host", e.Sample.Host),
			zap.String("key", e.Sample.Key),
			zap.Int64("clock", e.Sample.Clock),
			zap.Int("attempts", e.Attempts),
			zap.String("detail", detail))
	}
	f.metrics.AddDropped(reason, len(entries))
}

func countRejected(failures []models.SampleFailure) int {
	n := 0
	for _, fl := range failures {
		if !fl.Retryable {
			n++
		}
	}
	return n
}
