package bench

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource hands out one chunk per Read, the way a USB read stream hands
// out one completed transfer per Read.
type fakeSource struct {
	chunks [][]byte
	idx    int
	// err is returned once the chunks are exhausted; io.EOF if nil.
	err    error
	closed bool
}

func (f *fakeSource) Read(p []byte) (int, error) {
	if f.idx < len(f.chunks) {
		n := copy(p, f.chunks[f.idx])
		f.idx++
		return n, nil
	}
	if f.err != nil {
		return 0, f.err
	}
	return 0, io.EOF
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

// fakeSink collects writes and optionally cancels the run context after a
// number of transfers, simulating the interrupt signal.
type fakeSink struct {
	buf         bytes.Buffer
	writes      int
	cancelAfter int
	cancel      context.CancelFunc
	failAfter   int
	closed      bool
}

func (f *fakeSink) Write(p []byte) (int, error) {
	if f.failAfter > 0 && f.writes >= f.failAfter {
		return 0, errors.New("endpoint stalled")
	}
	f.writes++
	f.buf.Write(p)
	if f.cancel != nil && f.writes >= f.cancelAfter {
		f.cancel()
	}
	return len(p), nil
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

func (f *fakeSink) Written() int { return f.buf.Len() }

func newTestRunner(t *testing.T, cfg Config) *Runner {
	t.Helper()
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 64
	}
	r, err := New(cfg)
	require.NoError(t, err)
	return r
}

func TestNewRejectsBadBufferSize(t *testing.T) {
	_, err := New(Config{BufferSize: 0})
	assert.Error(t, err)
	_, err = New(Config{BufferSize: -5})
	assert.Error(t, err)
}

func TestReadCountsTransfersAndBytes(t *testing.T) {
	src := &fakeSource{chunks: [][]byte{make([]byte, 48), make([]byte, 48), make([]byte, 16)}}
	r := newTestRunner(t, Config{BufferSize: 64})

	res, err := r.Read(context.Background(), src)
	assert.NoError(t, err)
	assert.True(t, src.closed)
	assert.Equal(t, uint64(3), res.Transfers)
	assert.Equal(t, uint64(112), res.Bytes)
	assert.Greater(t, res.Elapsed, time.Duration(0))
	assert.Nil(t, res.Digest)
}

func TestReadReturnsPartialResultOnError(t *testing.T) {
	src := &fakeSource{
		chunks: [][]byte{make([]byte, 32)},
		err:    errors.New("transfer babble"),
	}
	r := newTestRunner(t, Config{BufferSize: 64})

	res, err := r.Read(context.Background(), src)
	assert.ErrorContains(t, err, "transfer babble")
	assert.Equal(t, uint64(1), res.Transfers)
	assert.Equal(t, uint64(32), res.Bytes)
	assert.True(t, src.closed)
}

func TestReadStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Even with more data available, a cancelled context ends the run
	// cleanly after the transfer in hand.
	src := &fakeSource{chunks: [][]byte{make([]byte, 8), make([]byte, 8)}}
	r := newTestRunner(t, Config{BufferSize: 64})

	res, err := r.Read(ctx, src)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), res.Transfers)
	assert.True(t, src.closed)
}

func TestReadTreatsErrorAfterCancelAsClean(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &fakeSource{err: errors.New("transfer cancelled")}
	r := newTestRunner(t, Config{BufferSize: 64})

	res, err := r.Read(ctx, src)
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), res.Transfers)
}

func TestWriteRunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &fakeSink{cancelAfter: 3, cancel: cancel}
	r := newTestRunner(t, Config{BufferSize: 128})

	res, err := r.Write(ctx, sink, NewPattern())
	assert.NoError(t, err)
	assert.True(t, sink.closed)
	assert.Equal(t, uint64(3), res.Transfers)
	assert.Equal(t, uint64(3*128), res.Bytes)
}

func TestWriteReturnsPartialResultOnError(t *testing.T) {
	sink := &fakeSink{failAfter: 2}
	r := newTestRunner(t, Config{BufferSize: 128})

	res, err := r.Write(context.Background(), sink, NewPattern())
	assert.ErrorContains(t, err, "endpoint stalled")
	assert.True(t, sink.closed)
	assert.Equal(t, uint64(2), res.Transfers)
	assert.Equal(t, uint64(2*128), res.Bytes)
}

func TestWritePayloadIsContinuousRamp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &fakeSink{cancelAfter: 2, cancel: cancel}
	r := newTestRunner(t, Config{BufferSize: 200})

	_, err := r.Write(ctx, sink, NewPattern())
	require.NoError(t, err)

	got := sink.buf.Bytes()
	require.Len(t, got, 400)
	for i, b := range got {
		require.Equal(t, byte(i%256), b, "ramp broken at offset %d", i)
	}
}

func TestIntervalReportsAreEmitted(t *testing.T) {
	var report bytes.Buffer
	src := &fakeSource{chunks: [][]byte{make([]byte, 64), make([]byte, 64), make([]byte, 64)}}
	r := newTestRunner(t, Config{BufferSize: 64, Interval: time.Nanosecond, Report: &report})

	_, err := r.Read(context.Background(), src)
	require.NoError(t, err)
	assert.Contains(t, report.String(), "bytes")
	assert.Contains(t, report.String(), "transfers")
}

func TestReportsDisabledWithoutInterval(t *testing.T) {
	var report bytes.Buffer
	src := &fakeSource{chunks: [][]byte{make([]byte, 64)}}
	r := newTestRunner(t, Config{BufferSize: 64, Report: &report})

	_, err := r.Read(context.Background(), src)
	require.NoError(t, err)
	assert.Empty(t, report.String())
}
