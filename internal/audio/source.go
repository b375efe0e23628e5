package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"
)

// readerSource reads raw PCM from a stream. closer is nil for stdin, which is
// never closed.
type readerSource struct {
	name   string
	r      io.Reader
	closer io.Closer
	once   sync.Once
	closed chan struct{}
}

func newReaderSource(name string, r io.Reader, closer io.Closer) *readerSource {
	return &readerSource{name: name, r: r, closer: closer, closed: make(chan struct{})}
}

func (s *readerSource) ReadFrame(size int) ([]byte, error) {
	select {
	case <-s.closed:
		return nil, &DeviceError{Op: "read", Device: s.name, Want: size, Err: os.ErrClosed}
	default:
	}

	buf := make([]byte, size)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case err == nil:
		return buf, nil
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	default:
		return nil, &DeviceError{Op: "read", Device: s.name, N: n, Want: size, Err: err}
	}
}

func (s *readerSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}

// toneSource generates a sine wave paced in real time, one frame per frame
// duration, like a capture device would. A frequency of zero yields silence.
type toneSource struct {
	name   string
	format Format
	hz     float64
	phase  float64

	ticker *time.Ticker
	period time.Duration
	once   sync.Once
	closed chan struct{}
}

func newToneSource(name string, format Format, hz float64) (*toneSource, error) {
	if format.BitDepth != 16 {
		return nil, &DeviceError{Op: "open", Device: name, Err: fmt.Errorf("tone generator needs 16-bit samples, got %d", format.BitDepth)}
	}
	if err := format.Validate(); err != nil {
		return nil, &DeviceError{Op: "open", Device: name, Err: err}
	}
	return &toneSource{name: name, format: format, hz: hz, closed: make(chan struct{})}, nil
}

func (s *toneSource) ReadFrame(size int) ([]byte, error) {
	select {
	case <-s.closed:
		if s.ticker != nil {
			s.ticker.Stop()
		}
		return nil, &DeviceError{Op: "read", Device: s.name, Want: size, Err: os.ErrClosed}
	default:
	}

	if s.ticker == nil {
		s.period = s.format.Duration(size)
		if s.period <= 0 {
			return nil, &DeviceError{Op: "read", Device: s.name, Want: size, Err: fmt.Errorf("frame of %d bytes is shorter than one sample", size)}
		}
		s.ticker = time.NewTicker(s.period)
	}

	select {
	case <-s.ticker.C:
	case <-s.closed:
		s.ticker.Stop()
		return nil, &DeviceError{Op: "read", Device: s.name, Want: size, Err: os.ErrClosed}
	}

	buf := make([]byte, size)
	if s.hz == 0 {
		return buf, nil
	}

	step := 2 * math.Pi * s.hz / float64(s.format.SampleRate)
	stride := s.format.BytesPerSample()
	for i := 0; i+stride <= size; i += stride {
		v := int16(math.Sin(s.phase) * 0.3 * math.MaxInt16)
		for ch := range s.format.Channels {
			off := i + ch*2
			buf[off] = byte(v)
			buf[off+1] = byte(v >> 8)
		}
		s.phase += step
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
	return buf, nil
}

func (s *toneSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
