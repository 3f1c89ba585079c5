package bench

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Counters accumulates transfer statistics while a benchmark is running.
// Add is safe for concurrent use with Snapshot, so a reporter goroutine can
// observe a run in progress.
type Counters struct {
	start     time.Time
	bytes     atomic.Uint64
	transfers atomic.Uint64
}

func NewCounters() *Counters {
	return &Counters{start: time.Now()}
}

// Add records one completed transfer of n bytes.
func (c *Counters) Add(n int) {
	c.bytes.Add(uint64(n))
	c.transfers.Add(1)
}

// Snapshot returns the totals accumulated so far.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Bytes:     c.bytes.Load(),
		Transfers: c.transfers.Load(),
		Elapsed:   time.Since(c.start),
	}
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	Bytes     uint64
	Transfers uint64
	Elapsed   time.Duration
}

// Rate returns the average throughput in bytes per second.
func (s Snapshot) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Bytes) / s.Elapsed.Seconds()
}

// FormatRate renders a bytes-per-second value with a human-readable unit.
func FormatRate(bps float64) string {
	const unit = 1024.0
	switch {
	case bps >= unit*unit*unit:
		return fmt.Sprintf("%.2f GiB/s", bps/(unit*unit*unit))
	case bps >= unit*unit:
		return fmt.Sprintf("%.2f MiB/s", bps/(unit*unit))
	case bps >= unit:
		return fmt.Sprintf("%.2f KiB/s", bps/unit)
	default:
		return fmt.Sprintf("%.0f B/s", bps)
	}
}

// CPUTime holds process CPU time consumed during a run.
type CPUTime struct {
	User   time.Duration
	System time.Duration
}

// Result holds the final outcome of a benchmark run.
type Result struct {
	Transfers uint64
	Bytes     uint64
	Elapsed   time.Duration
	// Digest is the BLAKE2b-256 checksum of the transferred payload,
	// nil unless verification was enabled.
	Digest []byte
	// CPU is the process CPU time consumed during the run, zero on
	// platforms without getrusage support.
	CPU CPUTime
}

// Rate returns the average throughput in bytes per second.
func (r Result) Rate() float64 {
	return Snapshot{Bytes: r.Bytes, Elapsed: r.Elapsed}.Rate()
}

// String renders the run summary, e.g.
// "1024 transfers (total 2097152 bytes) in 1.5s => 1398101 bytes/sec (1.33 MiB/s)".
func (r Result) String() string {
	rate := r.Rate()
	return fmt.Sprintf("%d transfers (total %d bytes) in %s => %.0f bytes/sec (%s)",
		r.Transfers, r.Bytes, r.Elapsed.Round(time.Millisecond), rate, FormatRate(rate))
}
