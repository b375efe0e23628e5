package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/1ureka/audiolink/internal/protocol"
	"github.com/1ureka/audiolink/internal/util"
)

const sendBufferSize = 64 // outgoing packet channel capacity

// ErrSenderStopped is returned by Send once the sender loop has exited.
var ErrSenderStopped = errors.New("sender stopped")

// Sender serializes every outgoing packet of a session onto one writer, so
// audio frames and control packets never interleave mid-packet.
type Sender struct {
	w     io.Writer
	inbox chan *protocol.Packet

	done chan struct{}
	once sync.Once
	err  error
}

// NewSender creates a Sender writing to w. Run must be started for packets to
// go out.
func NewSender(w io.Writer) *Sender {
	return &Sender{
		w:     w,
		inbox: make(chan *protocol.Packet, sendBufferSize),
		done:  make(chan struct{}),
	}
}

// Run is the single-writer loop. It returns nil when ctx is cancelled and the
// write error otherwise; either way later Sends fail.
func (s *Sender) Run(ctx context.Context) error {
	for {
		select {
		case pkt := <-s.inbox:
			data := protocol.Encode(pkt)
			if _, err := s.w.Write(data); err != nil {
				err = fmt.Errorf("failed to send %s packet (seq=%d): %w", pkt.Kind, pkt.SeqNum, err)
				s.stop(err)
				return err
			}
			if pkt.Kind == protocol.KindAudio {
				util.Stats.AddSent(len(data))
			}

		case <-ctx.Done():
			s.stop(ErrSenderStopped)
			return nil
		}
	}
}

func (s *Sender) stop(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Send enqueues a packet for transmission. It blocks while the queue is full
// and fails when ctx is done or the loop has stopped.
func (s *Sender) Send(ctx context.Context, pkt *protocol.Packet) error {
	if len(pkt.Payload) > protocol.MaxPayloadSize {
		return &protocol.FramingError{Reason: protocol.ErrPayloadLength, Have: len(pkt.Payload), Want: protocol.MaxPayloadSize}
	}

	select {
	case <-s.done:
		return s.err
	default:
	}

	select {
	case s.inbox <- pkt:
		return nil
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the loop has exited.
func (s *Sender) Done() <-chan struct{} { return s.done }
