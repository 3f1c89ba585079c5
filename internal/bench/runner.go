// Package bench implements the throughput measurement loop.
//
// The package deliberately knows nothing about gousb: it drives any
// io.ReadCloser/io.WriteCloser shaped stream, so the loop can be tested
// against in-memory fakes while the real runs use USB transfer streams.
package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hwbench/usbperf/internal/log"
)

// Source yields transfer payloads. Each Read returns data from at most one
// completed transfer. Reads must unblock with an error once the context
// passed to the run is cancelled; streams created with NewStreamContext
// behave that way.
type Source interface {
	io.ReadCloser
}

// Sink accepts transfer payloads. Close flushes transfers still in flight;
// Written then reports how many bytes actually reached the device.
type Sink interface {
	io.WriteCloser
	Written() int
}

// Config controls a benchmark run.
type Config struct {
	// BufferSize is the payload size of a single transfer in bytes.
	BufferSize int
	// Interval enables periodic rate reports on Report when > 0.
	Interval time.Duration
	// Verify enables the BLAKE2b-256 payload digest.
	Verify bool

	Logger *slog.Logger
	Raw    log.RawLogger
	// Report receives interval report lines.
	Report io.Writer
}

// Runner drives a single benchmark run. It is not safe for concurrent use
// and should not be reused after Read or Write returns.
type Runner struct {
	cfg    Config
	digest *Digest

	lastBytes uint64
	lastTime  time.Time
	next      time.Time
}

func New(cfg Config) (*Runner, error) {
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("buffer size must be positive, got %d", cfg.BufferSize)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	r := &Runner{cfg: cfg}
	if cfg.Verify {
		d, err := NewDigest()
		if err != nil {
			return nil, fmt.Errorf("init payload digest: %w", err)
		}
		r.digest = d
	}
	return r, nil
}

// Read measures sustained throughput of src until the context is cancelled
// or the stream fails. Cancellation is the normal way a run ends; the
// partial Result is valid even when an error is returned.
func (r *Runner) Read(ctx context.Context, src Source) (Result, error) {
	c := NewCounters()
	startCPU, haveCPU := cpuTimes()
	r.resetReports()
	r.cfg.Logger.Debug("read loop started", "bufferSize", r.cfg.BufferSize)

	buf := make([]byte, r.cfg.BufferSize)
	var runErr error
	for {
		n, err := src.Read(buf)
		if n > 0 {
			c.Add(n)
			r.digest.Write(buf[:n])
			if r.cfg.Raw != nil {
				r.cfg.Raw.Log(true, buf[:n])
			}
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				runErr = fmt.Errorf("read transfer: %w", err)
			}
			break
		}
		if ctx.Err() != nil {
			break
		}
		r.maybeReport(c)
	}
	if err := src.Close(); err != nil && runErr == nil && ctx.Err() == nil {
		runErr = fmt.Errorf("close stream: %w", err)
	}
	return r.finish(c, startCPU, haveCPU), runErr
}

// Write measures sustained throughput towards sink, filling every transfer
// from pattern. The byte total of the Result comes from sink.Written, i.e.
// it counts only transfers that completed on the bus, not buffered ones.
func (r *Runner) Write(ctx context.Context, sink Sink, pattern *Pattern) (Result, error) {
	c := NewCounters()
	startCPU, haveCPU := cpuTimes()
	r.resetReports()
	r.cfg.Logger.Debug("write loop started", "bufferSize", r.cfg.BufferSize)

	buf := make([]byte, r.cfg.BufferSize)
	var runErr error
	for ctx.Err() == nil {
		pattern.Fill(buf)
		n, err := sink.Write(buf)
		if n > 0 {
			c.Add(n)
			r.digest.Write(buf[:n])
			if r.cfg.Raw != nil {
				r.cfg.Raw.Log(false, buf[:n])
			}
		}
		if err != nil {
			if ctx.Err() == nil {
				runErr = fmt.Errorf("write transfer: %w", err)
			}
			break
		}
		r.maybeReport(c)
	}
	if err := sink.Close(); err != nil && runErr == nil && ctx.Err() == nil {
		runErr = fmt.Errorf("flush stream: %w", err)
	}
	res := r.finish(c, startCPU, haveCPU)
	res.Bytes = uint64(sink.Written())
	return res, runErr
}

func (r *Runner) finish(c *Counters, start CPUTime, haveCPU bool) Result {
	snap := c.Snapshot()
	res := Result{
		Transfers: snap.Transfers,
		Bytes:     snap.Bytes,
		Elapsed:   snap.Elapsed,
		Digest:    r.digest.Sum(),
	}
	if haveCPU {
		if end, ok := cpuTimes(); ok {
			res.CPU = CPUTime{User: end.User - start.User, System: end.System - start.System}
		}
	}
	return res
}

func (r *Runner) resetReports() {
	now := time.Now()
	r.lastBytes = 0
	r.lastTime = now
	if r.cfg.Interval > 0 && r.cfg.Report != nil {
		r.next = now.Add(r.cfg.Interval)
	} else {
		r.next = time.Time{}
	}
}

func (r *Runner) maybeReport(c *Counters) {
	if r.next.IsZero() {
		return
	}
	now := time.Now()
	if now.Before(r.next) {
		return
	}
	snap := c.Snapshot()
	window := now.Sub(r.lastTime)
	var rate float64
	if window > 0 {
		rate = float64(snap.Bytes-r.lastBytes) / window.Seconds()
	}
	fmt.Fprintf(r.cfg.Report, "%8.1fs %14d bytes %10d transfers  %s\n",
		snap.Elapsed.Seconds(), snap.Bytes, snap.Transfers, FormatRate(rate))
	r.lastBytes = snap.Bytes
	r.lastTime = now
	r.next = now.Add(r.cfg.Interval)
}
