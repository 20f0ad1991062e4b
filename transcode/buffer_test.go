package transcode

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBufferReadAvailableRange(t *testing.T) {
	b := NewBuffer(1 << 20)
	_, err := b.Write(bytes.Repeat([]byte{'a'}, 2000))
	require.NoError(t, err)

	out, err := b.ReadRange(context.Background(), 0, 1000, time.Second)
	require.NoError(t, err)
	require.Len(t, out, 1000)

	out, err = b.ReadRange(context.Background(), 1500, 1000, time.Second)
	require.NoError(t, err)
	// Only the produced suffix is available; a prefix satisfies the range.
	require.Len(t, out, 500)
}

func TestBufferBlocksUntilWritten(t *testing.T) {
	b := NewBuffer(1 << 20)

	var wg sync.WaitGroup
	wg.Add(1)
	var out []byte
	var readErr error
	go func() {
		defer wg.Done()
		out, readErr = b.ReadRange(context.Background(), 100, 50, 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := b.Write(bytes.Repeat([]byte{'x'}, 200))
	require.NoError(t, err)

	wg.Wait()
	require.NoError(t, readErr)
	require.Len(t, out, 50)
}

func TestBufferStallTimeout(t *testing.T) {
	b := NewBuffer(1 << 20)

	start := time.Now()
	_, err := b.ReadRange(context.Background(), 0, 10, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrStreamStalled)
	require.Less(t, time.Since(start), time.Second)
}

func TestBufferStallWakeupNeverLost(t *testing.T) {
	b := NewBuffer(1 << 20)

	// Tiny waits race the stall timer against the reader entering its
	// cond wait; every read must still come back within the bound.
	start := time.Now()
	for i := 0; i < 50; i++ {
		_, err := b.ReadRange(context.Background(), 0, 10, time.Millisecond)
		require.ErrorIs(t, err, ErrStreamStalled)
	}
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestBufferContextCancelBreaksWait(t *testing.T) {
	b := NewBuffer(1 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := b.ReadRange(ctx, 0, 10, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBufferEviction(t *testing.T) {
	b := NewBuffer(100)
	_, err := b.Write(bytes.Repeat([]byte{'a'}, 100))
	require.NoError(t, err)
	_, err = b.Write(bytes.Repeat([]byte{'b'}, 50))
	require.NoError(t, err)

	require.EqualValues(t, 50, b.Base())
	require.EqualValues(t, 150, b.End())

	// Bytes behind the eviction point are gone for good.
	_, err = b.ReadRange(context.Background(), 0, 10, time.Second)
	require.ErrorIs(t, err, ErrRangeEvicted)

	out, err := b.ReadRange(context.Background(), 100, 50, time.Second)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{'b'}, 50), out)
}

func TestBufferCompletedStream(t *testing.T) {
	b := NewBuffer(1 << 20)
	_, err := b.Write([]byte("final"))
	require.NoError(t, err)
	b.Close(nil)

	out, err := b.ReadRange(context.Background(), 0, 100, time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte("final"), out)

	_, err = b.ReadRange(context.Background(), 5, 10, time.Second)
	require.ErrorIs(t, err, io.EOF)
}

func TestBufferSupersededFailsWaiters(t *testing.T) {
	b := NewBuffer(1 << 20)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.ReadRange(context.Background(), 0, 10, 5*time.Second)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	b.Close(ErrSuperseded)

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(time.Second):
		t.Fatal("waiter not failed promptly on supersede")
	}
}

func TestBufferWriteAfterClose(t *testing.T) {
	b := NewBuffer(1 << 20)
	b.Close(nil)

	_, err := b.Write([]byte("late"))
	require.ErrorIs(t, err, io.ErrClosedPipe)
}
