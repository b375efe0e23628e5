// Package stream runs the two ends of an audio stream. A Producer listens,
// serves one consumer at a time and streams captured frames; a Consumer
// connects, reorders and buffers what arrives and drives playback. Both ends
// watch each other's heartbeats and recover from any failure by starting a
// fresh session.
package stream

import (
	"errors"
	"fmt"
)

// Session termination causes, besides *protocol.FramingError and
// *audio.DeviceError.
var (
	// ErrConnectionLost covers EOF, resets, write failures and a peer's
	// close notification.
	ErrConnectionLost = errors.New("connection lost")

	// ErrHeartbeatTimeout means the peer went silent for longer than twice
	// the heartbeat interval.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")

	// ErrPeerClosed is a graceful close notification from the peer. It
	// matches ErrConnectionLost.
	ErrPeerClosed = fmt.Errorf("%w: peer closed the session", ErrConnectionLost)
)

// State is a supervisor state of either role.
type State int

// Producer states.
const (
	StateListening State = iota
	StateAccepted
	StateStreaming
	StateClosing
)

// Consumer states.
const (
	StateDisconnected State = iota + 16
	StateConnecting
	StateBuffering
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateAccepted:
		return "accepted"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Observer is told about every state change. It runs on the supervisor's
// goroutine (or the playback task for StatePlaying) and must not block.
type Observer func(State)

func (o Observer) notify(s State) {
	if o != nil {
		o(s)
	}
}
