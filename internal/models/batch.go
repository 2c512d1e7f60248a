package models

import "time"

// Batch is an ordered, sealed group of entries awaiting delivery.
// A Batch is only constructed by Seal and exposes no mutators, so the
// entries a relay sees are the entries that were sealed.
type Batch struct {
	seq     uint64
	created time.Time
	entries []Entry
}

// Seal builds a Batch from a private copy of entries.
func Seal(seq uint64, created time.Time, entries []Entry) Batch {
	owned := make([]Entry, len(entries))
	copy(owned, entries)
	return Batch{seq: seq, created: created, entries: owned}
}

// Seq returns the batch sequence number assigned when it was sealed.
func (b Batch) Seq() uint64 { return b.seq }

// Created returns the time the batch was sealed.
func (b Batch) Created() time.Time { return b.created }

// Len returns the number of samples in the batch.
func (b Batch) Len() int { return len(b.entries) }

// Empty reports whether the batch holds no samples.
func (b Batch) Empty() bool { return len(b.entries) == 0 }

// Sample returns the i-th sample in encoded order.
func (b Batch) Sample(i int) Sample { return b.entries[i].Sample }

// Entry returns the i-th entry in encoded order.
func (b Batch) Entry(i int) Entry { return b.entries[i] }

// Samples returns a copy of the batch samples in encoded order.
func (b Batch) Samples() []Sample {
	out := make([]Sample, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.Sample
	}
	return out
}

// Entries returns a copy of the batch entries.
func (b Batch) Entries() []Entry {
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}
