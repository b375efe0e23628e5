package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/audiolink/internal/util"
)

const (
	highWaterMark = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // resume sending when bufferedAmount drops below this
	maxMessage    = 16 * 1024  // largest single DataChannel message we send

	signalTimeout = 30 * time.Second
)

// STUN servers for ICE candidate gathering. No TURN: peers are expected to
// reach each other directly.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// newPeerConnection creates a PeerConnection configured with Google STUN servers.
func newPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	}
	return webrtc.NewPeerConnection(config)
}

// newDataChannel creates a pre-negotiated, ordered and reliable DataChannel.
// Both sides create it with ID 0, so neither waits for OnDataChannel.
func newDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := true
	negotiated := true
	id := uint16(0)

	return pc.CreateDataChannel("audio", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
}

// dataChannel is the part of *webrtc.DataChannel that dcConn uses.
type dataChannel interface {
	Send(data []byte) error
	OnMessage(fn func(webrtc.DataChannelMessage))
	OnClose(fn func())
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(th uint64)
	OnBufferedAmountLow(fn func())
	Close() error
}

// dcConn turns a DataChannel into a byte stream. Inbound messages are fed
// through a pipe, so a slow reader holds back the DataChannel instead of
// buffering without bound.
//
// A deadline that fires breaks the connection for good; sessions only use
// deadlines to bound a handshake or to stop.
type dcConn struct {
	dc     dataChannel
	closer io.Closer // owning PeerConnection, may be nil
	remote string

	pr *io.PipeReader
	pw *io.PipeWriter

	drain chan struct{}

	dead     chan struct{}
	deadOnce sync.Once
	err      error // why dead closed

	mu    sync.Mutex
	timer *time.Timer

	closeOnce sync.Once
	closeErr  error
}

func newDCConn(dc dataChannel, closer io.Closer, remote string) *dcConn {
	pr, pw := io.Pipe()
	c := &dcConn{
		dc:     dc,
		closer: closer,
		remote: remote,
		pr:     pr,
		pw:     pw,
		drain:  make(chan struct{}, 1),
		dead:   make(chan struct{}),
	}

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case c.drain <- struct{}{}:
		default:
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		// Fails only once the conn is dead; the data has nowhere to go then.
		_, _ = c.pw.Write(msg.Data)
	})
	dc.OnClose(func() {
		c.expire(io.EOF)
	})

	return c
}

func (c *dcConn) expire(err error) {
	c.deadOnce.Do(func() {
		c.err = err
		close(c.dead)
		c.pw.CloseWithError(err)
	})
}

func (c *dcConn) Read(p []byte) (int, error) {
	return c.pr.Read(p)
}

// Write splits p into DataChannel messages, waiting while the channel's
// send buffer is above the high water mark.
func (c *dcConn) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		select {
		case <-c.dead:
			return written, c.writeErr()
		default:
		}

		if c.dc.BufferedAmount() > uint64(highWaterMark) {
			select {
			case <-c.drain:
			case <-c.dead:
				return written, c.writeErr()
			}
		}

		chunk := p[:min(len(p), maxMessage)]
		if err := c.dc.Send(chunk); err != nil {
			return written, err
		}
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}

func (c *dcConn) writeErr() error {
	if errors.Is(c.err, io.EOF) {
		return io.ErrClosedPipe
	}
	return c.err
}

func (c *dcConn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if t.IsZero() {
		return nil
	}
	d := time.Until(t)
	if d <= 0 {
		c.expire(os.ErrDeadlineExceeded)
		return nil
	}
	c.timer = time.AfterFunc(d, func() { c.expire(os.ErrDeadlineExceeded) })
	return nil
}

func (c *dcConn) RemoteAddr() string { return c.remote }

func (c *dcConn) Close() error {
	c.closeOnce.Do(func() {
		c.expire(net.ErrClosed)
		c.SetDeadline(time.Time{})
		c.pr.Close()

		errs := []error{c.dc.Close()}
		if c.closer != nil {
			errs = append(errs, c.closer.Close())
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// establish runs the signaling exchange over ws and returns the stream once
// the DataChannel is open. The offerer is the listening side.
func establish(ctx context.Context, ws wsMessenger, offerer bool) (*dcConn, error) {
	ctx, cancel := context.WithTimeout(ctx, signalTimeout)
	defer cancel()

	pc, err := newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}
	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create DataChannel: %w", err)
	}

	conn := newDCConn(dc, pc, ws.RemoteAddr().String())

	opened := make(chan struct{})
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(opened) })
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			conn.expire(io.EOF)
		}
	})

	s := &signaler{pc: pc, ws: ws}
	pc.OnICECandidate(s.onCandidate)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.watch()
	}()

	if offerer {
		if err := s.sendOffer(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to send offer: %w", err)
		}
	}

	for {
		select {
		case <-opened:
			util.LogDebug("WebRTC DataChannel established with %s", conn.remote)
			return conn, nil

		case err := <-errCh:
			// The peer hangs up signaling as soon as its side is open; once
			// both descriptions are in place ICE can finish without it.
			if s.complete() {
				errCh = nil
				continue
			}
			conn.Close()
			return nil, fmt.Errorf("signaling failed: %w", err)

		case <-ctx.Done():
			conn.Close()
			return nil, fmt.Errorf("signaling failed: %w", ctx.Err())
		}
	}
}

type rtcListener struct {
	*wsServer
}

func listenRTC(addr string) (*rtcListener, error) {
	srv, err := startWSServer(addr, signalPath)
	if err != nil {
		return nil, err
	}
	return &rtcListener{srv}, nil
}

// Accept waits for a peer to start signaling and returns the DataChannel
// stream. A peer whose negotiation fails is dropped and the next one waited
// for.
func (l *rtcListener) Accept(ctx context.Context) (Conn, error) {
	for {
		ws, err := l.waitForClient(ctx)
		if err != nil {
			return nil, err
		}

		conn, err := establish(ctx, ws, true)
		ws.Close()
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		util.LogWarning("WebRTC negotiation with %s failed: %v", ws.RemoteAddr(), err)
	}
}

type rtcDialer struct {
	url string
}

func (d *rtcDialer) Dial(ctx context.Context) (Conn, error) {
	ws, err := connect(ctx, d.url)
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	return establish(ctx, ws, false)
}
