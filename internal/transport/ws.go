package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamPath = "/stream"
	signalPath = "/signal"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsURL turns host:port (or an http(s)/ws(s) URL) into a WebSocket URL for
// path.
func wsURL(addr, path string) string {
	switch {
	case strings.HasPrefix(addr, "https://"):
		addr = "wss://" + strings.TrimPrefix(addr, "https://")
	case strings.HasPrefix(addr, "http://"):
		addr = "ws://" + strings.TrimPrefix(addr, "http://")
	case strings.HasPrefix(addr, "ws://"), strings.HasPrefix(addr, "wss://"):
	default:
		addr = "ws://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return addr + path
	}
	u.Path = path
	return u.String()
}

// wsServer is an HTTP server that upgrades requests on one path and hands the
// WebSocket connections to Accept.
type wsServer struct {
	listener net.Listener
	srv      *http.Server
	connCh   chan *websocket.Conn
	done     chan struct{}
	once     sync.Once
}

func startWSServer(addr, path string) (*wsServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start WS server: %w", err)
	}

	s := &wsServer{
		listener: listener,
		connCh:   make(chan *websocket.Conn),
		done:     make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, s.handleWS)
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		_ = s.srv.Serve(listener)
	}()

	return s, nil
}

// handleWS waits until the connection is accepted. Peers that arrive while a
// session is running queue here, like a TCP listen backlog.
func (s *wsServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	select {
	case s.connCh <- conn:
	case <-s.done:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closed"))
		conn.Close()
	}
}

// waitForClient blocks until a client connects or ctx is cancelled.
func (s *wsServer) waitForClient(ctx context.Context) (*websocket.Conn, error) {
	select {
	case conn := <-s.connCh:
		return conn, nil
	case <-s.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *wsServer) Addr() net.Addr { return s.listener.Addr() }

func (s *wsServer) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.srv.Close()
	})
	return err
}

// connect dials the given WebSocket URL and returns the connection.
func connect(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return conn, nil
}

// wsConn presents the binary messages of a WebSocket as one byte stream.
type wsConn struct {
	ws *websocket.Conn

	rmu sync.Mutex
	cur io.Reader // remainder of the message being read

	wmu sync.Mutex

	dmu           sync.Mutex
	writeDeadline time.Time
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	for {
		if c.cur == nil {
			typ, r, err := c.ws.NextReader()
			if err != nil {
				return 0, wsErr(err)
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			c.cur = r
		}

		n, err := c.cur.Read(p)
		if errors.Is(err, io.EOF) {
			c.cur = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

// wsErr maps a normal close to io.EOF and a timeout to
// os.ErrDeadlineExceeded, matching what a TCP stream reports.
func wsErr(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return io.EOF
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() && !errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %v", os.ErrDeadlineExceeded, err)
	}
	return err
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	// gorilla keeps the write deadline in a plain field read by
	// WriteMessage, so it is only ever set under wmu.
	c.dmu.Lock()
	deadline := c.writeDeadline
	c.dmu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return 0, err
	}

	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, wsErr(err)
	}
	return len(p), nil
}

// SetDeadline may be called while a Write is blocked. The new write
// deadline is recorded for the next Write and applied to the underlying
// connection so the blocked one returns.
func (c *wsConn) SetDeadline(t time.Time) error {
	c.dmu.Lock()
	c.writeDeadline = t
	c.dmu.Unlock()
	return errors.Join(c.ws.SetReadDeadline(t), c.ws.NetConn().SetWriteDeadline(t))
}

func (c *wsConn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

// Close sends a close frame best-effort, then drops the connection.
func (c *wsConn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(100*time.Millisecond))
	return c.ws.Close()
}

type wsListener struct {
	*wsServer
}

func listenWS(addr string) (*wsListener, error) {
	srv, err := startWSServer(addr, streamPath)
	if err != nil {
		return nil, err
	}
	return &wsListener{srv}, nil
}

func (l *wsListener) Accept(ctx context.Context) (Conn, error) {
	ws, err := l.waitForClient(ctx)
	if err != nil {
		return nil, err
	}
	return newWSConn(ws), nil
}

type wsDialer struct {
	url string
}

func (d *wsDialer) Dial(ctx context.Context) (Conn, error) {
	ws, err := connect(ctx, d.url)
	if err != nil {
		return nil, err
	}
	return newWSConn(ws), nil
}
