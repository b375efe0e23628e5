// Package transport provides the byte-stream connections the audio stream
// runs over. Three kinds share one interface: plain TCP, a WebSocket carrying
// the stream in binary messages, and a WebRTC DataChannel set up through
// WebSocket signaling.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// Kind names a transport.
type Kind string

// Transport kinds.
const (
	KindTCP    Kind = "tcp"
	KindWS     Kind = "ws"
	KindWebRTC Kind = "webrtc"
)

// Kinds lists every supported transport, in the order they are offered to the
// user.
var Kinds = []Kind{KindTCP, KindWS, KindWebRTC}

// ParseKind validates a transport name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown transport %q (want tcp, ws or webrtc)", s)
}

// Conn is one established stream between producer and consumer.
//
// SetDeadline applies to both directions. A deadline in the past interrupts
// a blocked Read or Write, which is how a session stops its tasks.
type Conn interface {
	io.ReadWriteCloser
	SetDeadline(t time.Time) error
	RemoteAddr() string
}

// Listener hands out incoming connections.
type Listener interface {
	// Accept blocks until a peer connects or ctx is done.
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// Dialer opens outgoing connections to one fixed address.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Listen starts a listener of the given kind on addr (host:port).
func Listen(kind Kind, addr string) (Listener, error) {
	switch kind {
	case KindTCP:
		return listenTCP(addr)
	case KindWS:
		return listenWS(addr)
	case KindWebRTC:
		return listenRTC(addr)
	}
	return nil, fmt.Errorf("unknown transport %q", kind)
}

// NewDialer returns a dialer of the given kind for addr (host:port).
func NewDialer(kind Kind, addr string) (Dialer, error) {
	switch kind {
	case KindTCP:
		return &tcpDialer{addr: addr}, nil
	case KindWS:
		return &wsDialer{url: wsURL(addr, streamPath)}, nil
	case KindWebRTC:
		return &rtcDialer{url: wsURL(addr, signalPath)}, nil
	}
	return nil, fmt.Errorf("unknown transport %q", kind)
}
