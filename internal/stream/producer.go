package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/1ureka/audiolink/internal/audio"
	"github.com/1ureka/audiolink/internal/config"
	"github.com/1ureka/audiolink/internal/protocol"
	"github.com/1ureka/audiolink/internal/transport"
	"github.com/1ureka/audiolink/internal/util"
)

// maxControlPayload bounds what the producer accepts from a consumer; only
// small control packets are expected in that direction.
const maxControlPayload = 64 * 1024

// Producer is the capture side. It listens for consumers, serves one at a
// time and goes back to listening whenever a session ends.
type Producer struct {
	cfg config.Config

	// Observer, if set, is told about every state change.
	Observer Observer

	// FirstSeq is the sequence number of the first frame of every session.
	FirstSeq uint32

	// OpenSource and Listen default to audio.OpenSource and transport.Listen.
	OpenSource func(device string, format audio.Format) (audio.FrameSource, error)
	Listen     func(kind transport.Kind, addr string) (transport.Listener, error)
}

// NewProducer creates a producer for a validated cfg.
func NewProducer(cfg config.Config) *Producer {
	return &Producer{
		cfg:        cfg,
		OpenSource: audio.OpenSource,
		Listen:     transport.Listen,
	}
}

// Run serves consumers until ctx is cancelled. Listener failures never end
// it; the listener is rebuilt after the restart delay.
func (p *Producer) Run(ctx context.Context) error {
	for {
		p.Observer.notify(StateListening)

		ln, err := p.Listen(p.cfg.Kind(), p.cfg.Addr())
		if err != nil {
			util.LogError("Failed to listen on %s: %v", p.cfg.Addr(), err)
		} else {
			util.LogInfo("Listening on %s (%s)", ln.Addr(), p.cfg.Kind())
			err = p.serve(ctx, ln)
			ln.Close()
		}

		if ctx.Err() != nil {
			return nil
		}
		util.LogWarning("Listener stopped: %v; restarting in %s", err, p.cfg.RestartDelay)
		if !sleep(ctx, p.cfg.RestartDelay) {
			return nil
		}
	}
}

// serve accepts consumers one after another. It only returns when Accept
// fails.
func (p *Producer) serve(ctx context.Context, ln transport.Listener) error {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			return err
		}

		p.Observer.notify(StateAccepted)
		util.LogSuccess("Consumer connected from %s", conn.RemoteAddr())

		err = p.session(ctx, conn)
		logSessionEnd("Consumer", err)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.Observer.notify(StateListening)
	}
}

// session streams to one consumer until something ends it.
func (p *Producer) session(ctx context.Context, conn transport.Conn) error {
	util.Stats.AddSession()
	sess := newSession(ctx, conn, p.cfg.JoinTimeout)
	format := p.cfg.Format()
	frameBytes := p.cfg.FrameBytes()

	src, err := p.OpenSource(p.cfg.Device, format)
	if err != nil {
		p.Observer.notify(StateClosing)
		sess.fail(err)
		sess.Close()
		return err
	}
	sess.setDevice(src)
	sess.log.Debug("Capture device %q opened (%s)", p.cfg.Device, format)

	sender := transport.NewSender(conn)
	sess.Go("sender", func(ctx context.Context) error {
		if err := sender.Run(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
		return nil
	})

	hello, err := protocol.NewHelloPacket(protocol.Hello{
		Version:    protocol.Version,
		Session:    sess.ID,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		BitDepth:   format.BitDepth,
		FrameBytes: frameBytes,
		FirstSeq:   p.FirstSeq,
	})
	if err == nil {
		// Nothing else may reach the sender before hello does.
		err = sender.Send(sess.ctx, hello)
	}
	if err != nil {
		sess.fail(fmt.Errorf("%w: send hello: %w", ErrConnectionLost, err))
	} else {
		live := newLiveness()
		seq := protocol.NewSeqGen(p.FirstSeq)
		interval := p.cfg.HeartbeatInterval

		sess.Go("capture", func(ctx context.Context) error {
			return p.capture(ctx, sess, src, sender, seq, frameBytes)
		})
		sess.Go("heartbeat", func(ctx context.Context) error {
			return emitHeartbeats(ctx, sender, interval)
		})
		sess.Go("control", func(ctx context.Context) error {
			return readControl(ctx, conn, live)
		})
		sess.Go("watchdog", func(ctx context.Context) error {
			return watchLiveness(ctx, live, interval)
		})
		p.Observer.notify(StateStreaming)
		sess.log.Info("Streaming %s in %d-byte frames", format, frameBytes)
	}

	<-sess.Done()
	p.Observer.notify(StateClosing)
	return sess.Close()
}

// capture reads frames and queues them for sending. Read failures are
// dropouts; only a closed or exhausted source, a send failure or too many
// failures in a row end the session.
func (p *Producer) capture(ctx context.Context, sess *Session, src audio.FrameSource, sender *transport.Sender, seq *protocol.SeqGen, frameBytes int) error {
	reads := make(chan frameRead)
	go pumpFrames(ctx, src, frameBytes, reads)

	failures := 0
	for {
		var r frameRead
		select {
		case r = <-reads:
		case <-ctx.Done():
			return nil
		}

		if err := r.err; err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("capture source exhausted: %w", err)
			}
			var devErr *audio.DeviceError
			if errors.As(err, &devErr) && !devErr.Transient() {
				return err
			}

			failures++
			util.Stats.AddDeviceError()
			if failures == 1 {
				sess.log.Warning("Capture read failed, dropping frame: %v", err)
			}
			if p.cfg.Debug && devErr != nil {
				sess.log.Debug("%s", devErr.Detail())
			}
			if failures >= p.cfg.MaxDeviceErrors {
				return fmt.Errorf("capture failed %d times in a row: %w", failures, err)
			}
			continue
		}
		failures = 0

		pkt := &protocol.Packet{Kind: protocol.KindAudio, SeqNum: seq.Next(), Payload: r.frame}
		if err := sender.Send(ctx, pkt); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
	}
}

type frameRead struct {
	frame []byte
	err   error
}

// pumpFrames reads src into out until ctx is done. A read blocked in the
// device keeps it alive past the session's tasks; it exits once Close
// releases the device.
func pumpFrames(ctx context.Context, src audio.FrameSource, size int, out chan<- frameRead) {
	for {
		frame, err := src.ReadFrame(size)
		select {
		case out <- frameRead{frame: frame, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

// readControl consumes what the consumer sends (heartbeats and a possible
// close notification) and feeds heartbeats to the liveness clock.
func readControl(ctx context.Context, conn transport.Conn, live *liveness) error {
	r := protocol.NewReader(conn, maxControlPayload)
	for {
		pkt, err := r.ReadPacket()
		if err != nil {
			return readErr(ctx, err)
		}
		switch pkt.Kind {
		case protocol.KindHeartbeat:
			live.touch()
		case protocol.KindClose:
			return ErrPeerClosed
		}
	}
}

// readErr classifies a read failure. Framing errors keep their identity;
// anything else means the connection is gone. A failure caused by the
// session stopping is not an error.
func readErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	if errors.Is(err, protocol.ErrFraming) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrConnectionLost, err)
}

// logSessionEnd reports how a session ended at the level it deserves.
func logSessionEnd(peer string, err error) {
	switch {
	case err == nil, errors.Is(err, errStopped), errors.Is(err, context.Canceled):
		util.LogInfo("%s session closed", peer)
	case errors.Is(err, ErrPeerClosed):
		util.LogInfo("%s disconnected", peer)
	case errors.Is(err, ErrHeartbeatTimeout), errors.Is(err, ErrConnectionLost):
		util.LogWarning("%s lost: %v", peer, err)
	default:
		util.LogError("%s session failed: %v", peer, err)
	}
}

// sleep waits for d or until ctx is done, reporting whether the full delay
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
