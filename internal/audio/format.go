// Package audio provides the capture and playback collaborators of the stream:
// raw PCM frame sources and sinks, and the format arithmetic around them.
// Samples are opaque bytes at this layer; only the tone generator looks inside.
package audio

import (
	"fmt"
	"time"
)

// Format describes interleaved linear PCM.
type Format struct {
	SampleRate int // Hz
	Channels   int
	BitDepth   int // bits per sample per channel
}

// CD is 16-bit stereo at 44.1 kHz.
var CD = Format{SampleRate: 44100, Channels: 2, BitDepth: 16}

// BytesPerSample returns the size of one sample across all channels.
func (f Format) BytesPerSample() int {
	return f.Channels * f.BitDepth / 8
}

// FrameBytes returns the size in bytes of a frame of n samples.
func (f Format) FrameBytes(samples int) int {
	return samples * f.BytesPerSample()
}

// Samples returns the number of samples in n bytes.
func (f Format) Samples(bytes int) int {
	if f.BytesPerSample() == 0 {
		return 0
	}
	return bytes / f.BytesPerSample()
}

// Duration returns how long n bytes play for.
func (f Format) Duration(bytes int) time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(f.Samples(bytes)) * time.Second / time.Duration(f.SampleRate)
}

// Validate rejects formats the stream cannot carry.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("invalid channel count %d", f.Channels)
	}
	switch f.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("unsupported bit depth %d", f.BitDepth)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%d Hz / %d ch / %d bit", f.SampleRate, f.Channels, f.BitDepth)
}
