package stream

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/1ureka/audiolink/internal/protocol"
	"github.com/1ureka/audiolink/internal/transport"
)

const maxWatchdogPoll = 100 * time.Millisecond

// liveness records when the peer was last heard from.
type liveness struct {
	last atomic.Int64 // unix nanos
}

func newLiveness() *liveness {
	l := &liveness{}
	l.touch()
	return l
}

func (l *liveness) touch() { l.last.Store(time.Now().UnixNano()) }

func (l *liveness) silence() time.Duration {
	return time.Since(time.Unix(0, l.last.Load()))
}

// emitHeartbeats sends a heartbeat right away and then every interval, until
// ctx is done or the sender fails.
func emitHeartbeats(ctx context.Context, sender *transport.Sender, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seq uint32
	for {
		if err := sender.Send(ctx, protocol.NewHeartbeatPacket(seq, time.Now())); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
		seq++

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

// watchLiveness fails once the peer has been silent for more than twice the
// heartbeat interval. It polls rather than blocking on the connection so it
// sees the deadline even while a read is stuck.
func watchLiveness(ctx context.Context, l *liveness, interval time.Duration) error {
	timeout := 2 * interval
	ticker := time.NewTicker(max(min(interval/10, maxWatchdogPoll), time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if d := l.silence(); d > timeout {
				return fmt.Errorf("%w: peer silent for %s", ErrHeartbeatTimeout, d.Round(time.Millisecond))
			}
		case <-ctx.Done():
			return nil
		}
	}
}
