package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide stream counter.
var Stats = &stats{}

type stats struct {
	Sessions     atomic.Int64 // cumulative count of sessions since process start
	FramesSent   atomic.Int64 // audio frames written to the connection
	FramesRecv   atomic.Int64 // audio frames read from the connection
	FramesPlayed atomic.Int64 // frames handed to the playback device
	BytesSent    atomic.Int64 // cumulative wire bytes written
	BytesRecv    atomic.Int64 // cumulative wire bytes read
	Discarded    atomic.Int64 // duplicate or stale packets dropped by the reorder buffer
	Lost         atomic.Int64 // sequence numbers skipped by the loss timeout
	Trimmed      atomic.Int64 // frames dropped from the front of a full playback queue
	Underruns    atomic.Int64 // times the playback queue ran dry while playing
	DeviceErrors atomic.Int64 // transient capture or render failures
}

func (s *stats) AddSession()           { s.Sessions.Add(1) }
func (s *stats) AddSent(n int)         { s.FramesSent.Add(1); s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)         { s.FramesRecv.Add(1); s.BytesRecv.Add(int64(n)) }
func (s *stats) AddPlayed()            { s.FramesPlayed.Add(1) }
func (s *stats) AddDiscarded(n uint64) { s.Discarded.Add(int64(n)) }
func (s *stats) AddLost(n uint64)      { s.Lost.Add(int64(n)) }
func (s *stats) AddTrimmed()           { s.Trimmed.Add(1) }
func (s *stats) AddUnderrun()          { s.Underruns.Add(1) }
func (s *stats) AddDeviceError()       { s.DeviceErrors.Add(1) }

// snapshot is a point-in-time copy of the counters.
type snapshot struct {
	sent, recv, played                  int64
	bytesSent, bytesRecv                int64
	discarded, lost, trimmed, underruns int64
	deviceErrors                        int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		sent:         s.FramesSent.Load(),
		recv:         s.FramesRecv.Load(),
		played:       s.FramesPlayed.Load(),
		bytesSent:    s.BytesSent.Load(),
		bytesRecv:    s.BytesRecv.Load(),
		discarded:    s.Discarded.Load(),
		lost:         s.Lost.Load(),
		trimmed:      s.Trimmed.Load(),
		underruns:    s.Underruns.Load(),
		deviceErrors: s.DeviceErrors.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs stream statistics every
// interval while anything moved. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(diff(cur, prev), interval))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

func diff(cur, prev snapshot) snapshot {
	return snapshot{
		sent:         cur.sent - prev.sent,
		recv:         cur.recv - prev.recv,
		played:       cur.played - prev.played,
		bytesSent:    cur.bytesSent - prev.bytesSent,
		bytesRecv:    cur.bytesRecv - prev.bytesRecv,
		discarded:    cur.discarded - prev.discarded,
		lost:         cur.lost - prev.lost,
		trimmed:      cur.trimmed - prev.trimmed,
		underruns:    cur.underruns - prev.underruns,
		deviceErrors: cur.deviceErrors - prev.deviceErrors,
	}
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders one reporting period for the logger.
func formatStats(d snapshot, interval time.Duration) string {
	secs := interval.Seconds()
	line := fmt.Sprintf("Out: %s/s %4d fr | In: %s/s %4d fr | Played: %4d",
		formatBytes(float64(d.bytesSent)/secs), d.sent,
		formatBytes(float64(d.bytesRecv)/secs), d.recv,
		d.played,
	)
	if d.discarded+d.lost+d.trimmed+d.underruns+d.deviceErrors > 0 {
		line += fmt.Sprintf(" | Discarded: %d Lost: %d Trimmed: %d Underruns: %d DevErr: %d",
			d.discarded, d.lost, d.trimmed, d.underruns, d.deviceErrors)
	}
	return line
}
