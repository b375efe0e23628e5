package stream

import (
	"context"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/1ureka/audiolink/internal/audio"
	"github.com/1ureka/audiolink/internal/config"
	"github.com/1ureka/audiolink/internal/protocol"
	"github.com/1ureka/audiolink/internal/transport"
)

// testConfig is a fast-cycling configuration: 4-sample frames (16 bytes of
// CD audio) and sub-second timers.
func testConfig(role config.Role) config.Config {
	cfg := config.Default(role)
	cfg.Device = "test"
	cfg.Host = "127.0.0.1"
	cfg.Port = 1
	cfg.FrameSamples = 4
	cfg.BufferDuration = 500 * time.Microsecond // 6 frames
	cfg.HeartbeatInterval = 100 * time.Millisecond
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.RestartDelay = 20 * time.Millisecond
	cfg.LossTimeout = 100 * time.Millisecond
	cfg.JoinTimeout = time.Second
	return cfg
}

func frameOf(cfg config.Config, b byte) []byte {
	frame := make([]byte, cfg.FrameBytes())
	for i := range frame {
		frame[i] = b
	}
	return frame
}

// chanSource yields the frames fed into it and blocks otherwise, like a
// capture device with nothing to deliver yet.
type chanSource struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newChanSource() *chanSource {
	return &chanSource{frames: make(chan []byte, 256), closed: make(chan struct{})}
}

func (s *chanSource) ReadFrame(size int) ([]byte, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.closed:
		return nil, &audio.DeviceError{Op: "read", Device: "test", Want: size, Err: os.ErrClosed}
	}
}

func (s *chanSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// recordingSink keeps every frame written to it.
type recordingSink struct {
	mu     sync.Mutex
	frames [][]byte
	closes atomic.Int32
}

func (s *recordingSink) WriteFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSink) Close() error {
	s.closes.Add(1)
	return nil
}

func (s *recordingSink) written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

// stateLog collects observer notifications.
type stateLog struct {
	mu     sync.Mutex
	states []State
	ch     chan State
}

func newStateLog() *stateLog {
	return &stateLog{ch: make(chan State, 256)}
}

func (l *stateLog) observe(s State) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
	select {
	case l.ch <- s:
	default:
	}
}

func (l *stateLog) all() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

// waitFor blocks until want is observed.
func (l *stateLog) waitFor(t *testing.T, want State) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case s := <-l.ch:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("state %s not reached; saw %v", want, l.all())
		}
	}
}

// scriptedPeer is a raw TCP endpoint the tests drive packet by packet.
type scriptedPeer struct {
	t    *testing.T
	conn net.Conn
	r    *protocol.Reader
}

func (p *scriptedPeer) send(pkt *protocol.Packet) {
	p.t.Helper()
	_, err := p.conn.Write(protocol.Encode(pkt))
	require.NoError(p.t, err)
}

func (p *scriptedPeer) sendHello(cfg config.Config, first uint32) {
	p.t.Helper()
	pkt, err := protocol.NewHelloPacket(protocol.Hello{
		Version:    protocol.Version,
		Session:    "scripted-session",
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		BitDepth:   cfg.BitDepth,
		FrameBytes: cfg.FrameBytes(),
		FirstSeq:   first,
	})
	require.NoError(p.t, err)
	p.send(pkt)
}

func (p *scriptedPeer) heartbeat() {
	p.t.Helper()
	p.send(protocol.NewHeartbeatPacket(0, time.Now()))
}

// next reads packets until one of the given kind arrives.
func (p *scriptedPeer) next(kind protocol.Kind) *protocol.Packet {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		pkt, err := p.r.ReadPacket()
		require.NoError(p.t, err)
		if pkt.Kind == kind {
			return pkt
		}
	}
}

// scriptedProducer accepts consumer connections on a loopback port.
type scriptedProducer struct {
	ln    net.Listener
	conns chan net.Conn
}

func newScriptedProducer(t *testing.T) *scriptedProducer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	sp := &scriptedProducer{ln: ln, conns: make(chan net.Conn, 8)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			sp.conns <- c
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return sp
}

func (sp *scriptedProducer) accept(t *testing.T) *scriptedPeer {
	t.Helper()
	select {
	case c := <-sp.conns:
		t.Cleanup(func() { c.Close() })
		return &scriptedPeer{t: t, conn: c, r: protocol.NewReader(c, 0)}
	case <-time.After(3 * time.Second):
		t.Fatal("consumer did not connect")
		return nil
	}
}

func (sp *scriptedProducer) dialer(t *testing.T) transport.Dialer {
	return tcpDialer(t, sp.ln.Addr().String())
}

func tcpDialer(t *testing.T, addr string) transport.Dialer {
	d, err := transport.NewDialer(transport.KindTCP, addr)
	require.NoError(t, err)
	return d
}

// startConsumer runs c in the background until the test ends.
func startConsumer(t *testing.T, c *Consumer) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("consumer did not stop")
		}
	})
}

// startProducer runs p in the background and returns the address it listens
// on.
func startProducer(t *testing.T, p *Producer) string {
	addrs := make(chan string, 4)
	p.Listen = func(kind transport.Kind, _ string) (transport.Listener, error) {
		ln, err := transport.Listen(kind, "127.0.0.1:0")
		if err == nil {
			addrs <- ln.Addr().String()
		}
		return ln, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("producer did not stop")
		}
	})

	select {
	case addr := <-addrs:
		return addr
	case <-time.After(3 * time.Second):
		t.Fatal("producer did not listen")
		return ""
	}
}

// dialRaw connects a scripted consumer to addr.
func dialRaw(t *testing.T, addr string) *scriptedPeer {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return &scriptedPeer{t: t, conn: c, r: protocol.NewReader(c, 0)}
}

// releaseLog records the order resources are released in.
type releaseLog struct {
	mu    sync.Mutex
	items []string
}

func (l *releaseLog) add(s string) {
	l.mu.Lock()
	l.items = append(l.items, s)
	l.mu.Unlock()
}

func (l *releaseLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.items...)
}

// fakeConn is a transport.Conn that never carries data.
type fakeConn struct {
	log         *releaseLog
	closes      atomic.Int32
	deadlineSet atomic.Bool
}

func (c *fakeConn) Read([]byte) (int, error)    { return 0, io.EOF }
func (c *fakeConn) Write(p []byte) (int, error) { return len(p), nil }
func (c *fakeConn) RemoteAddr() string          { return "fake" }

func (c *fakeConn) SetDeadline(time.Time) error {
	c.deadlineSet.Store(true)
	return nil
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.log.add("conn")
	return nil
}

type fakeDevice struct {
	log    *releaseLog
	closes atomic.Int32
}

func (d *fakeDevice) Close() error {
	d.closes.Add(1)
	d.log.add("device")
	return nil
}
