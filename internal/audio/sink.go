package audio

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// writerSink writes raw PCM to a stream; closer is nil for stdout and the
// discard sink.
type writerSink struct {
	name   string
	w      io.Writer
	closer io.Closer

	once   sync.Once
	closed atomic.Bool
}

func newWriterSink(name string, w io.Writer, closer io.Closer) *writerSink {
	return &writerSink{name: name, w: w, closer: closer}
}

func (s *writerSink) WriteFrame(frame []byte) error {
	if s.closed.Load() {
		return &DeviceError{Op: "write", Device: s.name, Want: len(frame), Err: os.ErrClosed}
	}
	n, err := s.w.Write(frame)
	if err != nil {
		return &DeviceError{Op: "write", Device: s.name, N: n, Want: len(frame), Err: err}
	}
	return nil
}

// Close must not wait for an in-flight write; closing the file is what
// unblocks it.
func (s *writerSink) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}
