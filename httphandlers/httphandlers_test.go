package httphandlers

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"castbeam.app/castbeam/media"
	"castbeam.app/castbeam/transcode"
)

func newTestServer(t *testing.T, opts ...ServerOption) (*HTTPserver, *httptest.Server) {
	t.Helper()

	s := NewServer("127.0.0.1:0", "ffmpeg", opts...)
	ts := httptest.NewServer(s.mux)
	t.Cleanup(ts.Close)
	return s, ts
}

func writeTempMedia(t *testing.T, size int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "movie.mp4")
	data := bytes.Repeat([]byte{'m'}, size)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// publishStream injects a transcoded item backed by the given buffer,
// bypassing the ffmpeg pipeline.
func publishStream(s *HTTPserver, buf *transcode.Buffer) string {
	token := "stream-token"
	s.mu.Lock()
	s.current = &servedItem{
		item:   &media.Item{Path: "/media/movie.mkv", ContentType: "video/mp4", Castable: false},
		token:  token,
		stream: buf,
	}
	s.mu.Unlock()
	return "/media/" + token
}

func TestNativeRangeServing(t *testing.T) {
	s, ts := newTestServer(t)

	path := writeTempMedia(t, 2000)
	urlPath := s.SetMediaItem(&media.Item{Path: path, ContentType: "video/mp4", Castable: true}, 0)

	req, err := http.NewRequest(http.MethodGet, ts.URL+urlPath, nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-999")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	require.Equal(t, "bytes 0-999/2000", resp.Header.Get("Content-Range"))
	require.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Len(t, body, 1000)
}

func TestTokenRotationInvalidatesOldURL(t *testing.T) {
	s, ts := newTestServer(t)

	path := writeTempMedia(t, 100)
	item := &media.Item{Path: path, ContentType: "video/mp4", Castable: true}

	oldPath := s.SetMediaItem(item, 0)
	newPath := s.SetMediaItem(item, 0)
	require.NotEqual(t, oldPath, newPath)

	resp, err := http.Get(ts.URL + oldPath)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + newPath)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnknownTokenIs404(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/media/never-issued")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTranscodedRangeFromBuffer(t *testing.T) {
	s, ts := newTestServer(t)

	buf := transcode.NewBuffer(1 << 20)
	_, err := buf.Write(bytes.Repeat([]byte{'t'}, 2000))
	require.NoError(t, err)

	urlPath := publishStream(s, buf)

	req, err := http.NewRequest(http.MethodGet, ts.URL+urlPath, nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-999")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	require.Equal(t, "bytes 0-999/*", resp.Header.Get("Content-Range"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Len(t, body, 1000)
}

func TestTranscodedRangeWaitsForData(t *testing.T) {
	s, ts := newTestServer(t)

	buf := transcode.NewBuffer(1 << 20)
	urlPath := publishStream(s, buf)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = buf.Write([]byte("arrived just in time"))
	}()

	req, err := http.NewRequest(http.MethodGet, ts.URL+urlPath, nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "arrived just in time", string(body))
}

func TestTranscodedStallTimesOut(t *testing.T) {
	stalled := make(chan struct{}, 1)
	s, ts := newTestServer(t,
		WithStreamWait(50*time.Millisecond),
		WithOnStall(func() { stalled <- struct{}{} }),
	)

	buf := transcode.NewBuffer(1 << 20)
	urlPath := publishStream(s, buf)

	resp, err := http.Get(ts.URL + urlPath)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)

	select {
	case <-stalled:
	case <-time.After(time.Second):
		t.Fatal("stall callback never fired")
	}
}

func TestTranscodedEvictedRangeIs416(t *testing.T) {
	s, ts := newTestServer(t)

	buf := transcode.NewBuffer(100)
	_, err := buf.Write(bytes.Repeat([]byte{'x'}, 200))
	require.NoError(t, err)

	urlPath := publishStream(s, buf)

	req, err := http.NewRequest(http.MethodGet, ts.URL+urlPath, nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-49")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
}

func TestTranscodedSupersededIs410(t *testing.T) {
	s, ts := newTestServer(t)

	buf := transcode.NewBuffer(1 << 20)
	buf.Close(transcode.ErrSuperseded)

	urlPath := publishStream(s, buf)

	resp, err := http.Get(ts.URL + urlPath)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestSuffixRangeUnsatisfiable(t *testing.T) {
	s, ts := newTestServer(t)

	buf := transcode.NewBuffer(1 << 20)
	_, err := buf.Write([]byte("data"))
	require.NoError(t, err)

	urlPath := publishStream(s, buf)

	req, err := http.NewRequest(http.MethodGet, ts.URL+urlPath, nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=-500")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
}

func TestSetMediaItemCancelsPreviousJob(t *testing.T) {
	s, _ := newTestServer(t)

	var started []*transcode.Job
	s.startJob = func(item *media.Item, offset float64) *transcode.Job {
		j := transcode.StartJob("/nonexistent/ffmpeg", item.Path, offset)
		started = append(started, j)
		return j
	}

	item := &media.Item{Path: "/media/movie.mkv", ContentType: "video/mp4", Castable: false}
	s.SetMediaItem(item, 0)
	s.SetMediaItem(item, 30)

	require.Len(t, started, 2)
	select {
	case <-started[0].Done():
	case <-time.After(time.Second):
		t.Fatal("previous job still running after replacement")
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		name   string
		header string
		start  int64
		length int64
		ok     bool
	}{
		{"absent", "", 0, openEndedChunk, true},
		{"open ended", "bytes=100-", 100, openEndedChunk, true},
		{"bounded", "bytes=0-999", 0, 1000, true},
		{"single byte", "bytes=5-5", 5, 1, true},
		{"suffix", "bytes=-500", 0, 0, false},
		{"inverted", "bytes=10-5", 0, 0, false},
		{"garbage ignored", "bytes=abc", 0, openEndedChunk, true},
		{"multipart ignored", "bytes=0-1,5-6", 0, openEndedChunk, true},
		{"wrong unit ignored", "items=0-5", 0, openEndedChunk, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			start, length, ok := parseRange(tc.header)
			require.Equal(t, tc.ok, ok)
			if !tc.ok {
				return
			}
			require.Equal(t, tc.start, start)
			require.Equal(t, tc.length, length)
		})
	}
}
