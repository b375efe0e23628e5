package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/audiolink/internal/protocol"
	"github.com/1ureka/audiolink/internal/transport"
	"github.com/1ureka/audiolink/internal/util"
)

// errStopped is the cause of a session closed by its owner rather than by a
// failure.
var errStopped = errors.New("session stopped")

// Session is one connection's worth of tasks. It owns the connection and the
// audio device and releases both exactly once, connection first, whatever
// ends it.
type Session struct {
	ID string

	conn   transport.Conn
	device io.Closer

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	joinTimeout time.Duration
	log         util.SessionLog

	mu        sync.Mutex
	closeOnce sync.Once
	connOnce  sync.Once
	devOnce   sync.Once
	cause     error
}

func newSession(parent context.Context, conn transport.Conn, joinTimeout time.Duration) *Session {
	ctx, cancel := context.WithCancelCause(parent)
	s := &Session{
		conn:        conn,
		ctx:         ctx,
		cancel:      cancel,
		joinTimeout: joinTimeout,
	}
	s.setID(uuid.NewString())
	return s
}

// setID renames the session, as the consumer does with the producer's id.
// Only valid before any task starts.
func (s *Session) setID(id string) {
	s.ID = id
	s.log = util.ForSession(id)
}

// setDevice hands the opened audio device to the session.
func (s *Session) setDevice(dev io.Closer) {
	s.mu.Lock()
	s.device = dev
	s.mu.Unlock()
}

// Go runs task as part of the session. The first task to fail (or to return
// at all, for tasks that should run until stopped) ends the session with its
// error as the cause.
func (s *Session) Go(name string, task func(ctx context.Context) error) {
	s.wg.Go(func() {
		err := task(s.ctx)
		if err == nil {
			if s.ctx.Err() != nil {
				return
			}
			err = errStopped
		}
		if s.ctx.Err() == nil {
			s.log.Debug("%s task ended: %v", name, err)
		}
		s.fail(err)
	})
}

// fail records cause (if none yet) and interrupts every task.
func (s *Session) fail(cause error) {
	s.cancel(cause)
	// Blocked reads and writes don't watch the context.
	_ = s.conn.SetDeadline(time.Now())
}

// Done is closed once the session has been asked to stop.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Err returns why the session stopped, or nil while it runs.
func (s *Session) Err() error {
	if s.ctx.Err() == nil {
		return nil
	}
	return context.Cause(s.ctx)
}

// Close stops every task, waits up to the join timeout for them, sends a
// best-effort close packet and releases the connection and then the device.
// It returns the cause the session ended with.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.fail(errStopped)

		joined := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(joined)
		}()
		select {
		case <-joined:
			s.farewell()
		case <-time.After(s.joinTimeout):
			s.log.Warning("Tasks did not stop within %s, releasing resources anyway", s.joinTimeout)
		}

		s.cause = context.Cause(s.ctx)
		s.releaseConn()
		s.releaseDevice()
	})
	return s.cause
}

// farewell tells the peer the session is over so it need not wait for the
// heartbeat deadline. Only safe once every writer has stopped.
func (s *Session) farewell() {
	if errors.Is(context.Cause(s.ctx), ErrConnectionLost) {
		return
	}
	_ = s.conn.SetDeadline(time.Now().Add(100 * time.Millisecond))
	_, _ = s.conn.Write(protocol.Encode(&protocol.Packet{Kind: protocol.KindClose}))
}

func (s *Session) releaseConn() {
	s.connOnce.Do(func() {
		if err := s.conn.Close(); err != nil {
			s.log.Debug("Closing connection: %v", err)
		}
	})
}

func (s *Session) releaseDevice() {
	s.devOnce.Do(func() {
		s.mu.Lock()
		dev := s.device
		s.mu.Unlock()
		if dev == nil {
			return
		}
		if err := dev.Close(); err != nil {
			s.log.Debug("Closing device: %v", err)
		}
	})
}
