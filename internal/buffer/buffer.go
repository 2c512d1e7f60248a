// Package buffer accumulates encoded samples between deliveries and seals
// them into batches. All methods are safe for concurrent use: the flush
// ticker and the observation path may race on Drain.
package buffer

import (
	"sync"
	"time"

	"github.com/weewx-zbxsender/bridge/internal/clock"
	"github.com/weewx-zbxsender/bridge/internal/models"
)

// Options bounds the open batch.
type Options struct {
	// MaxBatchSize is the sample count at which ShouldFlush reports true
	// and the most samples a sealed batch holds.
	MaxBatchSize int
	// MaxBatchAge is the age of the oldest open sample at which
	// ShouldFlush reports true. Zero disables the age trigger.
	MaxBatchAge time.Duration
	// MaxBuffered caps the open samples. Zero means unbounded.
	MaxBuffered int
}

// Buffer is the open batch plus any requeued entries waiting in front of it.
type Buffer struct {
	opts  Options
	clock clock.Clock

	mu      sync.Mutex
	entries []models.Entry
	oldest  time.Time
	seq     uint64
}

// New creates an empty Buffer.
func New(opts Options, clk clock.Clock) *Buffer {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 1
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Buffer{opts: opts, clock: clk}
}

// Add appends samples to the open batch in order. When the buffer cap is
// exceeded the oldest entries are evicted and returned.
func (b *Buffer) Add(samples ...models.Sample) []models.Entry {
	if len(samples) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		b.oldest = b.clock.Now()
	}
	for _, s := range samples {
		b.entries = append(b.entries, models.Entry{Sample: s})
	}
	return b.evictLocked()
}

// Requeue places entries at the head of the open batch, ahead of anything
// added since they were sealed, so redelivery keeps encoded order. The
// age trigger counts from the requeue time.
func (b *Buffer) Requeue(entries []models.Entry) []models.Entry {
	if len(entries) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if len(b.entries) == 0 || now.Before(b.oldest) {
		b.oldest = now
	}
	merged := make([]models.Entry, 0, len(entries)+len(b.entries))
	merged = append(merged, entries...)
	merged = append(merged, b.entries...)
	b.entries = merged
	return b.evictLocked()
}

// evictLocked drops the oldest entries beyond MaxBuffered.
// Must be called with b.mu held.
func (b *Buffer) evictLocked() []models.Entry {
	if b.opts.MaxBuffered <= 0 || len(b.entries) <= b.opts.MaxBuffered {
		return nil
	}
	over := len(b.entries) - b.opts.MaxBuffered
	evicted := make([]models.Entry, over)
	copy(evicted, b.entries[:over])
	b.entries = append(b.entries[:0], b.entries[over:]...)
	return evicted
}

// ShouldFlush reports whether the open batch reached MaxBatchSize or its
// oldest entry is at least MaxBatchAge old.
func (b *Buffer) ShouldFlush() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return false
	}
	if len(b.entries) >= b.opts.MaxBatchSize {
		return true
	}
	return b.opts.MaxBatchAge > 0 && b.clock.Now().Sub(b.oldest) >= b.opts.MaxBatchAge
}

// Drain seals up to MaxBatchSize entries from the head of the open batch
// and returns them. Entries beyond the limit stay open. Draining an empty
// buffer returns an empty batch.
func (b *Buffer) Drain() models.Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	n := len(b.entries)
	if n > b.opts.MaxBatchSize {
		n = b.opts.MaxBatchSize
	}
	if n == 0 {
		return models.Seal(0, now, nil)
	}

	b.seq++
	batch := models.Seal(b.seq, now, b.entries[:n])
	b.entries = append(b.entries[:0], b.entries[n:]...)
	if len(b.entries) == 0 {
		b.oldest = time.Time{}
	}
	return batch
}

// Len returns the number of open entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Oldest returns the time the oldest open entry entered the buffer, or the
// zero time when empty.
func (b *Buffer) Oldest() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.oldest
}
