package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide transfer/traffic counter.
var Stats = &stats{}

type stats struct {
	Started   atomic.Int64 // transfers started since process start
	Succeeded atomic.Int64 // transfers that reached Succeeded
	Failed    atomic.Int64 // transfers that reached Failed
	Retrans   atomic.Int64 // packets retransmitted after a timeout
	BytesSent atomic.Int64 // datagram bytes written to UDP sockets
	BytesRecv atomic.Int64 // datagram bytes read from UDP sockets
}

func (s *stats) AddTransfer()   { s.Started.Add(1) }
func (s *stats) AddSuccess()    { s.Succeeded.Add(1) }
func (s *stats) AddFailure()    { s.Failed.Add(1) }
func (s *stats) AddRetransmit() { s.Retrans.Add(1) }
func (s *stats) AddSent(n int)  { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)  { s.BytesRecv.Add(int64(n)) }
func (s *stats) Active() int64  { return s.Started.Load() - s.Succeeded.Load() - s.Failed.Load() }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// snapshot is a point-in-time copy of Stats.
type snapshot struct {
	sent, recv, ok, fail, retrans int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		sent:    s.BytesSent.Load(),
		recv:    s.BytesRecv.Load(),
		ok:      s.Succeeded.Load(),
		fail:    s.Failed.Load(),
		retrans: s.Retrans.Load(),
	}
}

// StartStatsReporter launches a goroutine that logs transfer statistics
// every interval. Quiet intervals are skipped. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		prev := Stats.snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				inS := float64(cur.recv-prev.recv) / secs
				outS := float64(cur.sent-prev.sent) / secs
				d := snapshot{
					ok:      cur.ok - prev.ok,
					fail:    cur.fail - prev.fail,
					retrans: cur.retrans - prev.retrans,
				}
				prev = cur

				if d.ok > 0 || d.fail > 0 || d.retrans > 0 || inS > 10 || outS > 10 {
					LogInfo("%s", formatStats(inS, outS, Stats.Active(), d))
				}

			case <-ctx.Done():
				return
			}
		}
	}()
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

// formatStats renders one reporter line from per-second rates and interval
// deltas.
func formatStats(inS, outS float64, active int64, d snapshot) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Transfers: %2d active %2d ok %2d failed | Retransmits: %d",
		formatBytes(inS),
		formatBytes(outS),
		active,
		d.ok,
		d.fail,
		d.retrans,
	)
}
