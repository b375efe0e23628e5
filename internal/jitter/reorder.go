// Package jitter holds the receive-side buffering of the audio stream: a
// reorder buffer that releases frames strictly in sequence order, and the
// bounded playback queue drained by the playback driver.
package jitter

import (
	"time"

	"github.com/1ureka/audiolink/internal/protocol"
)

// Defaults used when ReorderOptions leaves a field zero.
const (
	DefaultStaleWindow = 1000
	DefaultLossTimeout = 500 * time.Millisecond
)

// Frame is a released payload together with its sequence number.
type Frame struct {
	Seq     uint32
	Payload []byte
}

// ReorderOptions configures a ReorderBuffer.
type ReorderOptions struct {
	// First is the sequence number released first.
	First uint32

	// StaleWindow bounds how far ahead of the next expected sequence number a
	// packet may be and still be held. Anything outside is discarded.
	StaleWindow uint32

	// LossTimeout is how long a gap may block release before the missing
	// sequence numbers are declared lost and skipped.
	LossTimeout time.Duration

	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

// ReorderStats counts what happened to admitted packets.
type ReorderStats struct {
	Released   uint64
	Duplicates uint64
	Stale      uint64
	Lost       uint64 // sequence numbers skipped by the loss timeout
}

// ReorderBuffer absorbs out-of-order packets and releases frames strictly in
// sequence order. It is goroutine-local (owned by the network receive task)
// and needs no locking.
type ReorderBuffer struct {
	expectedNext uint32
	entries      map[uint32][]byte
	staleWindow  uint32
	lossTimeout  time.Duration
	now          func() time.Time

	gapSince time.Time // zero while nothing is waiting behind expectedNext
	stats    ReorderStats
}

// NewReorderBuffer creates a buffer expecting opts.First.
func NewReorderBuffer(opts ReorderOptions) *ReorderBuffer {
	if opts.StaleWindow == 0 {
		opts.StaleWindow = DefaultStaleWindow
	}
	if opts.LossTimeout <= 0 {
		opts.LossTimeout = DefaultLossTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ReorderBuffer{
		expectedNext: opts.First,
		entries:      make(map[uint32][]byte),
		staleWindow:  opts.StaleWindow,
		lossTimeout:  opts.LossTimeout,
		now:          opts.Now,
	}
}

// Admit stores a packet and returns every frame that can now be released in
// order. Duplicates overwrite; packets outside the stale window are dropped.
func (b *ReorderBuffer) Admit(seq uint32, payload []byte) []Frame {
	if protocol.Distance(seq, b.expectedNext) >= b.staleWindow {
		// Either already released (behind us) or too far ahead to ever fill.
		if protocol.Before(seq, b.expectedNext) {
			b.stats.Duplicates++
		} else {
			b.stats.Stale++
		}
		return nil
	}
	if _, ok := b.entries[seq]; ok {
		b.stats.Duplicates++
	}
	b.entries[seq] = payload

	out := b.release(nil)
	return b.expire(out)
}

// Expire applies the loss timeout without admitting anything. The receive
// task calls it on control traffic so a stalled gap is skipped even while no
// audio is arriving.
func (b *ReorderBuffer) Expire() []Frame {
	return b.expire(nil)
}

// ExpectedNext returns the next sequence number the buffer will release.
func (b *ReorderBuffer) ExpectedNext() uint32 { return b.expectedNext }

// Pending returns how many packets are held waiting for a gap to fill.
func (b *ReorderBuffer) Pending() int { return len(b.entries) }

// Stats returns the counters accumulated so far.
func (b *ReorderBuffer) Stats() ReorderStats { return b.stats }

// release pops the consecutive run starting at expectedNext.
func (b *ReorderBuffer) release(out []Frame) []Frame {
	for {
		payload, ok := b.entries[b.expectedNext]
		if !ok {
			break
		}
		delete(b.entries, b.expectedNext)
		out = append(out, Frame{Seq: b.expectedNext, Payload: payload})
		b.stats.Released++
		b.expectedNext++
	}
	b.prune()

	if len(b.entries) == 0 {
		b.gapSince = time.Time{}
	} else if b.gapSince.IsZero() || len(out) > 0 {
		// A new gap starts now: either the first one, or the previous was filled.
		b.gapSince = b.now()
	}
	return out
}

// expire skips a gap that has blocked release for longer than lossTimeout.
func (b *ReorderBuffer) expire(out []Frame) []Frame {
	if len(b.entries) == 0 || b.gapSince.IsZero() {
		return out
	}
	if b.now().Sub(b.gapSince) < b.lossTimeout {
		return out
	}

	nearest, skip := b.nearest()
	b.stats.Lost += uint64(skip)
	b.expectedNext = nearest
	b.gapSince = time.Time{}
	return b.release(out)
}

// nearest finds the held sequence number closest ahead of expectedNext.
func (b *ReorderBuffer) nearest() (uint32, uint32) {
	best := b.staleWindow
	var seq uint32
	for key := range b.entries {
		if d := protocol.Distance(key, b.expectedNext); d < best {
			best, seq = d, key
		}
	}
	return seq, best
}

// prune abandons entries that fell outside the window after expectedNext moved.
func (b *ReorderBuffer) prune() {
	for key := range b.entries {
		if protocol.Distance(key, b.expectedNext) >= b.staleWindow {
			delete(b.entries, key)
			b.stats.Stale++
		}
	}
}
