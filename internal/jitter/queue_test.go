package jitter_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/audiolink/internal/audio"
	"github.com/1ureka/audiolink/internal/jitter"
)

func TestTargetCount(t *testing.T) {
	frameBytes := audio.CD.FrameBytes(4096)

	// 200ms at 44.1kHz is 8820 samples, a bit over two 4096-sample frames.
	assert.Equal(t, 3, jitter.TargetCount(200*time.Millisecond, audio.CD, frameBytes))
	assert.Equal(t, 1, jitter.TargetCount(time.Millisecond, audio.CD, frameBytes))
	assert.Equal(t, 1, jitter.TargetCount(0, audio.CD, frameBytes))
	assert.Equal(t, 11, jitter.TargetCount(time.Second, audio.CD, frameBytes))
}

func TestQueueArmsOnceAtTarget(t *testing.T) {
	q := jitter.NewQueue(3)

	q.Push([]byte{1})
	q.Push([]byte{2})
	assert.False(t, q.IsArmed())
	select {
	case <-q.Armed():
		t.Fatal("armed below target")
	default:
	}

	q.Push([]byte{3})
	assert.True(t, q.IsArmed())
	<-q.Armed()

	// Draining never un-arms.
	for range 3 {
		_, ok := q.Pop()
		require.True(t, ok)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
	assert.True(t, q.IsArmed())
}

func TestQueueTrimsOldest(t *testing.T) {
	q := jitter.NewQueue(2)

	assert.False(t, q.Push([]byte{1}))
	assert.False(t, q.Push([]byte{2}))
	assert.True(t, q.Push([]byte{3}))
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, uint64(1), q.Dropped())

	frame, _ := q.Pop()
	assert.Equal(t, []byte{2}, frame)
	frame, _ = q.Pop()
	assert.Equal(t, []byte{3}, frame)
}

type recordingSink struct {
	mu     sync.Mutex
	frames [][]byte
	fail   int
	err    error
}

func (s *recordingSink) WriteFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return &audio.DeviceError{Op: "write", Device: "test", Want: len(frame), Err: s.err}
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

func TestDriverWaitsForArm(t *testing.T) {
	q := jitter.NewQueue(3)
	sink := &recordingSink{}
	playing := make(chan struct{})

	d := &jitter.Driver{Queue: q, Sink: sink, OnPlaying: func() { close(playing) }}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	q.Push([]byte{1})
	q.Push([]byte{2})
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sink.written(), "nothing plays before the target is reached")

	q.Push([]byte{3})
	<-playing
	require.Eventually(t, func() bool { return len(sink.written()) == 3 }, time.Second, 5*time.Millisecond)

	// After an underrun the next push plays without re-buffering.
	q.Push([]byte{4})
	require.Eventually(t, func() bool { return len(sink.written()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]byte{{1}, {2}, {3}, {4}}, sink.written())

	cancel()
	assert.NoError(t, <-done)
}

func TestDriverToleratesTransientFailures(t *testing.T) {
	q := jitter.NewQueue(3)
	sink := &recordingSink{fail: 2, err: errors.New("xrun")}
	d := &jitter.Driver{Queue: q, Sink: sink, MaxDeviceErrors: 5}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	for i := range 3 {
		q.Push([]byte{byte(i)})
	}
	require.Eventually(t, func() bool { return len(sink.written()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestDriverGivesUpOnClosedSink(t *testing.T) {
	q := jitter.NewQueue(1)
	sink := &recordingSink{fail: 1, err: os.ErrClosed}
	d := &jitter.Driver{Queue: q, Sink: sink}

	q.Push([]byte{1})
	err := d.Run(context.Background())
	assert.ErrorIs(t, err, audio.ErrDevice)
}

func TestDriverGivesUpAfterRepeatedFailures(t *testing.T) {
	q := jitter.NewQueue(1)
	sink := &recordingSink{fail: 100, err: errors.New("xrun")}
	d := &jitter.Driver{Queue: q, Sink: sink, MaxDeviceErrors: 3}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-time.After(time.Millisecond):
				q.Push([]byte{byte(i)})
			}
		}
	}()

	err := d.Run(context.Background())
	assert.ErrorIs(t, err, audio.ErrDevice)
	assert.Contains(t, err.Error(), "3 times")
}
