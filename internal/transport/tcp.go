package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type tcpConn struct {
	*net.TCPConn
}

func (c tcpConn) RemoteAddr() string { return c.TCPConn.RemoteAddr().String() }

func newTCPConn(conn net.Conn) (Conn, error) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("unexpected connection type %T", conn)
	}
	// Frames are written whole; don't let Nagle hold back the tail of one.
	if err := tc.SetNoDelay(true); err != nil {
		tc.Close()
		return nil, err
	}
	return tcpConn{tc}, nil
}

type tcpListener struct {
	ln net.Listener
}

func listenTCP(addr string) (*tcpListener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &tcpListener{ln: ln}, nil
}

func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return newTCPConn(r.conn)
	case <-ctx.Done():
		// Unblock the pending Accept; the listener is unusable afterwards.
		l.ln.Close()
		if r := <-ch; r.conn != nil {
			r.conn.Close()
		}
		return nil, ctx.Err()
	}
}

func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }

func (l *tcpListener) Close() error {
	err := l.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

type tcpDialer struct {
	addr string
}

func (d *tcpDialer) Dial(ctx context.Context) (Conn, error) {
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", d.addr, err)
	}
	return newTCPConn(conn)
}
