package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// FrameSource yields fixed-size raw frames from a capture device.
type FrameSource interface {
	// ReadFrame returns exactly size bytes or an error. A finite source
	// returns io.EOF once exhausted.
	ReadFrame(size int) ([]byte, error)
	io.Closer
}

// FrameSink renders raw frames to a playback device.
type FrameSink interface {
	WriteFrame(frame []byte) error
	io.Closer
}

// ErrDevice matches every *DeviceError via errors.Is.
var ErrDevice = errors.New("audio device error")

// DeviceError is a capture or render failure.
type DeviceError struct {
	Op     string // "open", "read" or "write"
	Device string
	N      int // bytes transferred before the failure
	Want   int // bytes requested
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %q: %s: %v", e.Device, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() []error { return []error{ErrDevice, e.Err} }

// Detail adds the byte counts, for debug output.
func (e *DeviceError) Detail() string {
	return fmt.Sprintf("%s (%d/%d bytes)", e.Error(), e.N, e.Want)
}

// Transient reports whether the device may still work on the next call.
func (e *DeviceError) Transient() bool {
	return e.Op != "open" && !errors.Is(e.Err, os.ErrClosed)
}

// Device identities understood by OpenSource and OpenSink.
const (
	DeviceStdio = "-"
	DeviceNull  = "null"
	DeviceTone  = "tone"
)

// OpenSource opens a capture device:
//
//	stdin (-)    raw PCM from standard input
//	null         paced silence
//	tone[:hz]    paced sine wave (440 Hz by default)
//	<path>       raw PCM from a file or FIFO
func OpenSource(device string, format Format) (FrameSource, error) {
	switch {
	case device == "":
		return nil, &DeviceError{Op: "open", Device: device, Err: errors.New("no capture device configured")}
	case device == DeviceStdio:
		return newReaderSource(device, os.Stdin, nil), nil
	case device == DeviceNull:
		return newToneSource(device, format, 0)
	case device == DeviceTone || strings.HasPrefix(device, DeviceTone+":"):
		hz := 440.0
		if _, arg, ok := strings.Cut(device, ":"); ok {
			v, err := strconv.ParseFloat(arg, 64)
			if err != nil || v < 0 {
				return nil, &DeviceError{Op: "open", Device: device, Err: fmt.Errorf("invalid tone frequency %q", arg)}
			}
			hz = v
		}
		return newToneSource(device, format, hz)
	}

	f, err := os.Open(device)
	if err != nil {
		return nil, &DeviceError{Op: "open", Device: device, Err: err}
	}
	return newReaderSource(device, f, f), nil
}

// OpenSink opens a playback device:
//
//	stdout (-)   raw PCM to standard output
//	null         discard
//	<path>       raw PCM to a file or FIFO
func OpenSink(device string, format Format) (FrameSink, error) {
	switch device {
	case "":
		return nil, &DeviceError{Op: "open", Device: device, Err: errors.New("no playback device configured")}
	case DeviceStdio:
		return newWriterSink(device, os.Stdout, nil), nil
	case DeviceNull:
		return newWriterSink(device, io.Discard, nil), nil
	}

	f, err := os.OpenFile(device, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, &DeviceError{Op: "open", Device: device, Err: err}
	}
	return newWriterSink(device, f, f), nil
}
