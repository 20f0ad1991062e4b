package transcode

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrStreamStalled means the pipeline produced no bytes for the
	// requested range within the wait window.
	ErrStreamStalled = errors.New("transcode: stream stalled")

	// ErrRangeEvicted means the requested range starts behind bytes the
	// buffer has already dropped. The output is sequential only; evicted
	// bytes cannot be regenerated without restarting the job.
	ErrRangeEvicted = errors.New("transcode: range evicted")

	// ErrSuperseded fails readers of a job that was cancelled in favor of
	// a newer one.
	ErrSuperseded = errors.New("transcode: job superseded")
)

// DefaultBufferCap bounds how much transcoded output is retained. When the
// cap is hit the oldest bytes are evicted; receivers read mostly forward,
// so the head is the safest thing to drop.
const DefaultBufferCap = 256 << 20

// Buffer is a grow-only byte window over a sequential stream. Writers
// append, readers wait for absolute ranges. Offsets are positions in the
// full stream; base marks where the retained window starts after
// eviction.
type Buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	data   []byte
	base   int64
	cap    int64
	closed bool
	err    error
}

// NewBuffer returns a buffer retaining at most capBytes of output.
func NewBuffer(capBytes int64) *Buffer {
	if capBytes <= 0 {
		capBytes = DefaultBufferCap
	}
	b := &Buffer{cap: capBytes}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Write appends stream output and wakes waiting readers. It implements
// io.Writer so the pipeline's stdout can feed it directly.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, io.ErrClosedPipe
	}

	b.data = append(b.data, p...)
	if over := int64(len(b.data)) - b.cap; over > 0 {
		b.data = b.data[over:]
		b.base += over
	}

	b.cond.Broadcast()
	return len(p), nil
}

// Close ends the stream. A nil cause means the stream completed; readers
// past the end then get io.EOF. A non-nil cause fails every waiter.
func (b *Buffer) Close(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.err = cause
	b.cond.Broadcast()
}

// End returns the absolute offset one past the last byte produced so far.
func (b *Buffer) End() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.base + int64(len(b.data))
}

// Base returns the absolute offset of the oldest retained byte.
func (b *Buffer) Base() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.base
}

// ReadRange returns bytes for the absolute range [start, start+length).
// Any non-empty prefix of the range satisfies the call. When no byte of
// the range exists yet the call blocks until data arrives, ctx is done,
// or wait elapses (ErrStreamStalled). Ranges behind the eviction point
// fail with ErrRangeEvicted; ranges past the end of a completed stream
// get io.EOF; a failed or superseded stream propagates its cause.
func (b *Buffer) ReadRange(ctx context.Context, start, length int64, wait time.Duration) ([]byte, error) {
	deadline := time.Now().Add(wait)

	// Timeouts and context cancellation have to break the cond wait. The
	// wakeup takes the lock so it cannot slip between the reader's
	// deadline check and its Wait registering, which would lose it.
	wake := func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	}
	wakeTimer := time.AfterFunc(wait, wake)
	defer wakeTimer.Stop()
	stopWatch := context.AfterFunc(ctx, wake)
	defer stopWatch()

	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		if start < b.base {
			return nil, errors.Wrapf(ErrRangeEvicted, "start %d behind base %d", start, b.base)
		}

		end := b.base + int64(len(b.data))
		if end > start {
			from := start - b.base
			to := from + length
			if to > int64(len(b.data)) {
				to = int64(len(b.data))
			}
			out := make([]byte, to-from)
			copy(out, b.data[from:to])
			return out, nil
		}

		if b.closed {
			if b.err != nil {
				return nil, b.err
			}
			return nil, io.EOF
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, errors.Wrapf(ErrStreamStalled, "no data for offset %d after %s", start, wait)
		}

		b.cond.Wait()
	}
}
