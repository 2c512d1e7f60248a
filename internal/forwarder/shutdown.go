package forwarder

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/weewx-zbxsender/bridge/internal/models"
)

// Restore loads samples spooled by a previous run into the head of the
// buffer and returns how many were restored.
func (f *Forwarder) Restore() int {
	if f.opts.Spool == nil {
		return 0
	}
	entries, err := f.opts.Spool.Restore()
	if err != nil {
		f.logger.Error("Failed to restore spooled samples", zap.Error(err))
		return 0
	}
	if len(entries) == 0 {
		return 0
	}
	f.drop(f.buf.Requeue(entries), models.DropBufferOverflow, "buffer full")

	f.mu.Lock()
	if f.state == Idle {
		f.setStateLocked(Buffering)
	}
	f.mu.Unlock()
	f.metrics.SetBuffered(f.buf.Len())

	f.logger.Info("Restored spooled samples", zap.Int("samples", len(entries)))
	return len(entries)
}

// OnShutdown stops accepting observations and makes one best-effort
// delivery pass over the queued batches and the open batch, ignoring any
// backoff. An attempt already in flight is waited for first. Samples still
// undelivered are spooled when a spool is configured and dropped
// otherwise. The returned error combines the failed final attempts.
func (f *Forwarder) OnShutdown(ctx context.Context) error {
	// Observations already being buffered finish before intake closes.
	f.intake.Lock()
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		f.intake.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()
	f.intake.Unlock()

	// Wait for Run's attempt, if any, before taking over the queue.
	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()

	var pending []models.Batch
	for len(f.queue) > 0 {
		pending = append(pending, <-f.queue)
	}

	f.logger.Info("Final flush",
		zap.Int("queued_batches", len(pending)),
		zap.Int("buffered_samples", f.buf.Len()))

	var (
		errs        error
		undelivered []models.Entry
		reachable   = true
	)
	final := func(batch models.Batch) {
		if batch.Empty() {
			return
		}
		if !reachable || ctx.Err() != nil {
			undelivered = append(undelivered, batch.Entries()...)
			return
		}
		res := f.try(ctx, batch)
		undelivered = append(undelivered, f.settle(batch, res)...)
		switch res.Status {
		case models.StatusOK:
		case models.StatusTransportError:
			reachable = false
			errs = multierr.Append(errs, fmt.Errorf("final flush of batch %d: %w", batch.Seq(), res.Err))
		default:
			if res.Err != nil {
				errs = multierr.Append(errs, fmt.Errorf("final flush of batch %d: %w", batch.Seq(), res.Err))
			}
		}
	}

	for _, b := range pending {
		final(b)
	}
	for {
		b := f.buf.Drain()
		if b.Empty() {
			break
		}
		final(b)
	}

	f.mu.Lock()
	f.setStateLocked(Idle)
	f.mu.Unlock()
	f.metrics.SetBuffered(0)
	f.metrics.SetQueued(0)

	if len(undelivered) == 0 {
		return errs
	}
	if f.opts.Spool == nil {
		f.drop(undelivered, models.DropShutdown, "no spool configured")
		return errs
	}
	discarded, err := f.opts.Spool.Store(undelivered)
	f.drop(discarded, models.DropSpoolFull, "oldest spool file removed")
	if err != nil {
		f.drop(undelivered, models.DropShutdown, err.Error())
		return multierr.Append(errs, fmt.Errorf("spool undelivered samples: %w", err))
	}
	f.logger.Info("Spooled undelivered samples", zap.Int("samples", len(undelivered)))
	return errs
}
