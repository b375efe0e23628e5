package jitter

import (
	"math"
	"sync"
	"time"

	"github.com/1ureka/audiolink/internal/audio"
)

// TargetCount converts a buffering duration into a number of frames:
// duration * sampleRate / samplesPerFrame, rounded up, at least one.
func TargetCount(d time.Duration, format audio.Format, frameBytes int) int {
	samples := format.Samples(frameBytes)
	if samples <= 0 || d <= 0 {
		return 1
	}
	n := int(math.Ceil(d.Seconds() * float64(format.SampleRate) / float64(samples)))
	return max(n, 1)
}

// Queue is the playback queue between the network receive task (sole
// writer) and the playback driver (sole reader). It is bounded to the jitter
// target and drops the oldest frame on overflow.
type Queue struct {
	target int

	mu      sync.Mutex
	frames  [][]byte
	armed   chan struct{}
	isArmed bool
	dropped uint64

	notify chan struct{}
}

// NewQueue creates a queue that arms once target frames are waiting.
func NewQueue(target int) *Queue {
	return &Queue{
		target: max(target, 1),
		frames: make([][]byte, 0, max(target, 1)+1),
		armed:  make(chan struct{}),
		notify: make(chan struct{}, 1),
	}
}

// Push appends a frame. When the queue grows past the target the oldest frame
// is discarded; the return value reports that.
func (q *Queue) Push(frame []byte) (dropped bool) {
	q.mu.Lock()
	q.frames = append(q.frames, frame)
	if !q.isArmed && len(q.frames) >= q.target {
		q.isArmed = true
		close(q.armed)
	}
	if len(q.frames) > q.target {
		q.frames[0] = nil
		q.frames = q.frames[1:]
		q.dropped++
		dropped = true
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Pop removes the oldest frame. ok is false when the queue is empty.
func (q *Queue) Pop() (frame []byte, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return nil, false
	}
	frame = q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	return frame, true
}

// Armed returns a channel closed the first time the queue reaches its target.
// It is never reopened for the lifetime of the queue.
func (q *Queue) Armed() <-chan struct{} { return q.armed }

// IsArmed reports whether playback has been unblocked.
func (q *Queue) IsArmed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isArmed
}

// Len returns the number of frames waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Dropped returns how many frames were trimmed from the front.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Target returns the jitter target in frames.
func (q *Queue) Target() int { return q.target }

// Notify returns a channel signalled after each push.
func (q *Queue) Notify() <-chan struct{} { return q.notify }
