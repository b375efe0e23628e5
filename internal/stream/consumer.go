package stream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/1ureka/audiolink/internal/audio"
	"github.com/1ureka/audiolink/internal/config"
	"github.com/1ureka/audiolink/internal/jitter"
	"github.com/1ureka/audiolink/internal/protocol"
	"github.com/1ureka/audiolink/internal/transport"
	"github.com/1ureka/audiolink/internal/util"
)

const dialTimeout = 10 * time.Second

// Consumer is the playback side. It keeps a connection to the producer,
// reconnecting forever at a fixed delay, and plays what arrives.
type Consumer struct {
	cfg config.Config

	// Observer, if set, is told about every state change.
	Observer Observer

	// OpenSink and Dialer default to audio.OpenSink and a dialer of the
	// configured transport.
	OpenSink func(device string, format audio.Format) (audio.FrameSink, error)
	Dialer   transport.Dialer
}

// NewConsumer creates a consumer for a validated cfg.
func NewConsumer(cfg config.Config) (*Consumer, error) {
	d, err := transport.NewDialer(cfg.Kind(), cfg.Addr())
	if err != nil {
		return nil, err
	}
	return &Consumer{
		cfg:      cfg,
		OpenSink: audio.OpenSink,
		Dialer:   d,
	}, nil
}

// Run plays until ctx is cancelled. No failure ends it.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		c.Observer.notify(StateDisconnected)
		if ctx.Err() != nil {
			return nil
		}

		c.Observer.notify(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			util.LogWarning("Connection to %s failed: %v; retrying in %s", c.cfg.Addr(), err, c.cfg.ReconnectDelay)
		} else {
			util.LogSuccess("Connected to %s", conn.RemoteAddr())
			err = c.session(ctx, conn)
			logSessionEnd("Producer", err)
			if ctx.Err() != nil {
				c.Observer.notify(StateDisconnected)
				return nil
			}
		}

		if !sleep(ctx, c.cfg.ReconnectDelay) {
			c.Observer.notify(StateDisconnected)
			return nil
		}
	}
}

func (c *Consumer) dial(ctx context.Context) (transport.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	return c.Dialer.Dial(ctx)
}

// session plays one connection until something ends it.
func (c *Consumer) session(ctx context.Context, conn transport.Conn) error {
	util.Stats.AddSession()
	sess := newSession(ctx, conn, c.cfg.JoinTimeout)
	interval := c.cfg.HeartbeatInterval

	reader := protocol.NewReader(conn, 0)
	hello, err := c.handshake(conn, reader, interval)
	if err != nil {
		sess.fail(err)
		return sess.Close()
	}
	sess.setID(hello.Session)

	format := audio.Format{SampleRate: hello.SampleRate, Channels: hello.Channels, BitDepth: hello.BitDepth}
	if format != c.cfg.Format() {
		sess.log.Warning("Producer streams %s, configured for %s; following the producer", format, c.cfg.Format())
	}

	sink, err := c.OpenSink(c.cfg.Device, format)
	if err != nil {
		sess.fail(err)
		return sess.Close()
	}
	sess.setDevice(sink)

	target := jitter.TargetCount(c.cfg.BufferDuration, format, hello.FrameBytes)
	queue := jitter.NewQueue(target)
	reorder := jitter.NewReorderBuffer(jitter.ReorderOptions{
		First:       hello.FirstSeq,
		StaleWindow: uint32(c.cfg.StaleWindow),
		LossTimeout: c.cfg.LossTimeout,
	})
	live := newLiveness()
	sender := transport.NewSender(conn)

	c.Observer.notify(StateBuffering)
	sess.log.Info("Buffering %d frames (%s) of %s", target, c.cfg.BufferDuration, format)

	sess.Go("sender", func(ctx context.Context) error {
		if err := sender.Run(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
		return nil
	})
	sess.Go("receive", func(ctx context.Context) error {
		return receive(ctx, reader, hello.FrameBytes, reorder, queue, live)
	})
	driver := &jitter.Driver{
		Queue:           queue,
		Sink:            sink,
		MaxDeviceErrors: c.cfg.MaxDeviceErrors,
		Debug:           c.cfg.Debug,
		OnPlaying: func() {
			c.Observer.notify(StatePlaying)
			sess.log.Success("Playing")
		},
	}
	sess.Go("playback", driver.Run)
	sess.Go("keepalive", func(ctx context.Context) error {
		return emitHeartbeats(ctx, sender, interval)
	})
	sess.Go("watchdog", func(ctx context.Context) error {
		return watchLiveness(ctx, live, interval)
	})

	<-sess.Done()
	return sess.Close()
}

// handshake reads the producer's hello, giving up after the liveness
// deadline.
func (c *Consumer) handshake(conn transport.Conn, reader *protocol.Reader, interval time.Duration) (protocol.Hello, error) {
	timeout := 2 * interval
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return protocol.Hello{}, fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}

	pkt, err := reader.ReadPacket()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return protocol.Hello{}, fmt.Errorf("%w: no hello within %s", ErrHeartbeatTimeout, timeout)
		}
		return protocol.Hello{}, readErr(context.Background(), err)
	}
	if pkt.Kind == protocol.KindClose {
		return protocol.Hello{}, ErrPeerClosed
	}

	hello, err := protocol.ParseHello(pkt)
	if err != nil {
		return protocol.Hello{}, fmt.Errorf("%w: %w", protocol.ErrFraming, err)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return protocol.Hello{}, fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	return hello, nil
}

// receive is the only writer of the reorder buffer and the playback queue.
// Only heartbeats feed the liveness clock; audio alone does not prove the
// producer's heartbeat task is alive.
func receive(ctx context.Context, reader *protocol.Reader, frameBytes int, reorder *jitter.ReorderBuffer, queue *jitter.Queue, live *liveness) error {
	var prev jitter.ReorderStats
	for {
		pkt, err := reader.ReadPacket()
		if err != nil {
			return readErr(ctx, err)
		}

		var frames []jitter.Frame
		switch pkt.Kind {
		case protocol.KindAudio:
			if len(pkt.Payload) != frameBytes {
				return &protocol.FramingError{Reason: protocol.ErrPayloadLength, Have: len(pkt.Payload), Want: frameBytes}
			}
			util.Stats.AddRecv(protocol.HeaderSize + len(pkt.Payload))
			frames = reorder.Admit(pkt.SeqNum, pkt.Payload)
		case protocol.KindHeartbeat:
			live.touch()
			frames = reorder.Expire()
		case protocol.KindClose:
			return ErrPeerClosed
		case protocol.KindHello:
			return fmt.Errorf("%w: hello in the middle of a session", protocol.ErrFraming)
		}

		for _, f := range frames {
			if queue.Push(f.Payload) {
				util.Stats.AddTrimmed()
			}
		}

		stats := reorder.Stats()
		if d := stats.Duplicates + stats.Stale - prev.Duplicates - prev.Stale; d > 0 {
			util.Stats.AddDiscarded(d)
		}
		if d := stats.Lost - prev.Lost; d > 0 {
			util.Stats.AddLost(d)
			util.LogDebug("Skipped %d lost frames, resuming at %d", d, reorder.ExpectedNext())
		}
		prev = stats
	}
}
