package jitter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/audiolink/internal/audio"
	"github.com/1ureka/audiolink/internal/util"
)

// Driver defaults.
const (
	DefaultUnderrunPoll    = 10 * time.Millisecond
	DefaultMaxDeviceErrors = 50
)

// Driver drains a Queue into a playback device. Nothing is written before the
// queue arms; after that, an empty queue is an underrun and the driver waits
// for the next push.
type Driver struct {
	Queue *Queue
	Sink  audio.FrameSink

	// UnderrunPoll bounds how long an underrun waits before looking again.
	UnderrunPoll time.Duration

	// MaxDeviceErrors is how many consecutive render failures are tolerated
	// before the driver gives up.
	MaxDeviceErrors int

	// OnPlaying is called once, when the queue arms.
	OnPlaying func()

	// Debug logs every render failure with its byte counts.
	Debug bool
}

// Run plays until ctx is cancelled (returning nil) or the sink fails for
// good.
func (d *Driver) Run(ctx context.Context) error {
	poll := d.UnderrunPoll
	if poll <= 0 {
		poll = DefaultUnderrunPoll
	}
	maxErrors := d.MaxDeviceErrors
	if maxErrors <= 0 {
		maxErrors = DefaultMaxDeviceErrors
	}

	select {
	case <-d.Queue.Armed():
	case <-ctx.Done():
		return nil
	}
	if d.OnPlaying != nil {
		d.OnPlaying()
	}

	timer := time.NewTimer(poll)
	defer timer.Stop()

	failures := 0
	dry := false
	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, ok := d.Queue.Pop()
		if !ok {
			if !dry {
				dry = true
				util.Stats.AddUnderrun()
				util.LogDebug("Playback underrun")
			}
			timer.Reset(poll)
			select {
			case <-d.Queue.Notify():
			case <-timer.C:
			case <-ctx.Done():
				return nil
			}
			continue
		}
		dry = false

		if err := d.Sink.WriteFrame(frame); err != nil {
			var devErr *audio.DeviceError
			if !errors.As(err, &devErr) || !devErr.Transient() {
				return err
			}
			failures++
			util.Stats.AddDeviceError()
			if d.Debug {
				util.LogDebug("Playback write failed: %s", devErr.Detail())
			}
			if failures >= maxErrors {
				return fmt.Errorf("playback device failed %d times in a row: %w", failures, err)
			}
			continue
		}
		failures = 0
		util.Stats.AddPlayed()
	}
}
