// Package httphandlers serves the active media item to the receiver. One
// item is live at a time under /media/<token>; the token rotates on every
// load so a stale receiver fetch can never hit the wrong file. Native
// files get standard range serving; transcoded items are answered from the
// pipeline's growing buffer.
package httphandlers

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"castbeam.app/castbeam/media"
	"castbeam.app/castbeam/transcode"
)

const (
	defaultStreamWait = 30 * time.Second
	// openEndedChunk bounds how much of an open-ended range is returned in
	// one response; the client re-requests from where it left off.
	openEndedChunk = 4 << 20
)

// mediaStream is the growing-buffer view the handlers read from. Satisfied
// by *transcode.Buffer; tests substitute their own.
type mediaStream interface {
	ReadRange(ctx context.Context, start, length int64, wait time.Duration) ([]byte, error)
}

// startJobFunc launches the pipeline for a non-castable item. Swappable in
// tests so handler behavior can be driven without ffmpeg.
type startJobFunc func(item *media.Item, offset float64) *transcode.Job

type servedItem struct {
	item   *media.Item
	token  string
	job    *transcode.Job
	stream mediaStream
}

// HTTPserver serves the active media item. One ffmpeg job at most runs per
// server instance.
type HTTPserver struct {
	http *http.Server
	mux  *http.ServeMux

	mu      sync.Mutex
	current *servedItem

	ffmpegPath string
	streamWait time.Duration
	bufferCap  int64
	startJob   startJobFunc
	onStall    func()
	onServed   func(status int, bytes int64)

	Logger      zerolog.Logger
	LogOutput   io.Writer
	initLogOnce sync.Once
}

// ServerOption configures an HTTPserver.
type ServerOption func(*HTTPserver)

// WithStreamWait overrides how long a transcoded range request may block
// waiting for bytes.
func WithStreamWait(d time.Duration) ServerOption {
	return func(s *HTTPserver) { s.streamWait = d }
}

// WithBufferCap overrides the transcode buffer cap.
func WithBufferCap(capBytes int64) ServerOption {
	return func(s *HTTPserver) { s.bufferCap = capBytes }
}

// WithOnStall registers a callback fired when a transcoded range request
// times out waiting for pipeline output.
func WithOnStall(fn func()) ServerOption {
	return func(s *HTTPserver) { s.onStall = fn }
}

// WithOnServed registers a callback observing each media response's
// status and body size.
func WithOnServed(fn func(status int, bytes int64)) ServerOption {
	return func(s *HTTPserver) { s.onServed = fn }
}

// WithServerLogOutput enables structured logging for the server.
func WithServerLogOutput(w io.Writer) ServerOption {
	return func(s *HTTPserver) { s.LogOutput = w }
}

// NewServer generates a new HTTPserver bound to addr.
func NewServer(addr, ffmpegPath string, opts ...ServerOption) *HTTPserver {
	mux := http.NewServeMux()
	srv := &HTTPserver{
		http:       &http.Server{Addr: addr, Handler: mux},
		mux:        mux,
		ffmpegPath: ffmpegPath,
		streamWait: defaultStreamWait,
		bufferCap:  transcode.DefaultBufferCap,
	}
	for _, opt := range opts {
		opt(srv)
	}

	if srv.startJob == nil {
		srv.startJob = func(item *media.Item, offset float64) *transcode.Job {
			return transcode.StartJob(srv.ffmpegPath, item.Path, offset,
				transcode.WithBufferCap(srv.bufferCap),
				transcode.WithJobLogOutput(srv.LogOutput))
		}
	}

	mux.HandleFunc("/media/", srv.serveMediaHandler())
	return srv
}

// Log returns the zerolog logger, initializing it lazily if LogOutput is
// set.
func (s *HTTPserver) Log() *zerolog.Logger {
	if s.LogOutput != nil {
		s.initLogOnce.Do(func() {
			s.Logger = zerolog.New(s.LogOutput).With().Timestamp().Logger()
		})
	}
	return &s.Logger
}

// StartServer starts listening and reports readiness or the bind error on
// serverStarted, then serves until stopped.
func (s *HTTPserver) StartServer(serverStarted chan<- error) {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		serverStarted <- fmt.Errorf("server listen error: %w", err)
		return
	}

	s.http.Addr = ln.Addr().String()
	serverStarted <- nil
	_ = s.http.Serve(ln)
}

// Addr returns the bound listen address, usable after StartServer reported
// readiness.
func (s *HTTPserver) Addr() string {
	return s.http.Addr
}

// StopServer cancels any running pipeline and closes the HTTP server.
func (s *HTTPserver) StopServer() {
	s.ClearMedia()
	_ = s.http.Close()
}

// SetMediaItem makes item the single served item and returns its URL path.
// Any previous item's pipeline is cancelled, and fully stopped, before the
// replacement starts serving; the previous token stops resolving
// immediately. For non-castable items the pipeline starts at offset
// seconds.
func (s *HTTPserver) SetMediaItem(item *media.Item, offset float64) string {
	token := uuid.NewString()

	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.mu.Unlock()

	if prev != nil && prev.job != nil {
		prev.job.Cancel()
	}

	next := &servedItem{item: item, token: token}
	if !item.Castable {
		job := s.startJob(item, offset)
		next.job = job
		next.stream = job.Buffer()
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()

	s.Log().Debug().
		Str("Method", "SetMediaItem").
		Str("Path", item.Path).
		Str("Token", token).
		Bool("Transcode", !item.Castable).
		Float64("Offset", offset).
		Msg("media item published")

	return "/media/" + token
}

// ClearMedia unpublishes the current item and stops its pipeline.
func (s *HTTPserver) ClearMedia() {
	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.mu.Unlock()

	if prev != nil && prev.job != nil {
		prev.job.Cancel()
	}
}

// countingResponseWriter records the response status and body size for
// the serving metrics hook.
type countingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *countingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *countingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (s *HTTPserver) serveMediaHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.onServed != nil {
			cw := &countingResponseWriter{ResponseWriter: w}
			defer func() {
				s.onServed(cw.status, cw.bytes)
			}()
			w = cw
		}

		token := strings.TrimPrefix(r.URL.Path, "/media/")

		s.mu.Lock()
		cur := s.current
		s.mu.Unlock()

		if cur == nil || token == "" || token != cur.token {
			http.NotFound(w, r)
			return
		}

		if cur.item.Castable {
			s.serveNative(w, r, cur.item)
			return
		}
		s.serveTranscoded(w, r, cur)
	}
}

func (s *HTTPserver) serveNative(w http.ResponseWriter, r *http.Request, item *media.Item) {
	f, err := os.Open(item.Path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", item.ContentType)
	http.ServeContent(w, r, filepath.Base(item.Path), info.ModTime(), f)
}

// serveTranscoded answers one range request from the growing buffer. The
// stream's total size is unknown while ffmpeg runs, so responses carry
// "bytes start-last/*" and clients re-request to advance. A range whose
// first byte is not produced yet blocks up to the stream wait.
func (s *HTTPserver) serveTranscoded(w http.ResponseWriter, r *http.Request, cur *servedItem) {
	start, length, ok := parseRange(r.Header.Get("Range"))
	if !ok {
		w.Header().Set("Content-Range", "bytes */*")
		http.Error(w, "unsatisfiable range", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	chunk, err := cur.stream.ReadRange(r.Context(), start, length, s.streamWait)
	if err != nil {
		s.transcodeReadError(w, err)
		return
	}

	last := start + int64(len(chunk)) - 1
	w.Header().Set("Content-Type", cur.item.ContentType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.Itoa(len(chunk)))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/*", start, last))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(chunk)
}

func (s *HTTPserver) transcodeReadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transcode.ErrRangeEvicted):
		w.Header().Set("Content-Range", "bytes */*")
		http.Error(w, "range evicted", http.StatusRequestedRangeNotSatisfiable)
	case errors.Is(err, transcode.ErrStreamStalled):
		s.Log().Error().Str("Method", "serveTranscoded").Err(err).Msg("stream stalled")
		if s.onStall != nil {
			s.onStall()
		}
		http.Error(w, "stream stalled", http.StatusGatewayTimeout)
	case errors.Is(err, transcode.ErrSuperseded):
		http.Error(w, "stream superseded", http.StatusGone)
	case errors.Is(err, io.EOF):
		// Range starts past the end of a completed stream.
		w.Header().Set("Content-Range", "bytes */*")
		http.Error(w, "past end of stream", http.StatusRequestedRangeNotSatisfiable)
	case errors.Is(err, context.Canceled):
		// Client went away mid-wait.
	default:
		s.Log().Error().Str("Method", "serveTranscoded").Err(err).Msg("pipeline failed")
		http.Error(w, "transcode failed", http.StatusBadGateway)
	}
}

// parseRange reads a single bytes range. Open-ended and absent ranges are
// served in bounded chunks; suffix ranges ("bytes=-N") need a known total
// and are unsatisfiable on a growing stream.
func parseRange(header string) (start, length int64, ok bool) {
	if header == "" {
		return 0, openEndedChunk, true
	}

	spec, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(spec, ",") {
		// Malformed or multipart ranges are ignored per RFC 9110.
		return 0, openEndedChunk, true
	}

	first, last, found := strings.Cut(spec, "-")
	if !found {
		return 0, openEndedChunk, true
	}

	if strings.TrimSpace(first) == "" {
		return 0, 0, false
	}

	var err error
	start, err = strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || start < 0 {
		return 0, openEndedChunk, true
	}

	if strings.TrimSpace(last) == "" {
		return start, openEndedChunk, true
	}

	end, err := strconv.ParseInt(strings.TrimSpace(last), 10, 64)
	if err != nil || end < start {
		return 0, 0, false
	}
	return start, end - start + 1, true
}
