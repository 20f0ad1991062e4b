// Package transcode runs the on-demand ffmpeg pipeline that converts a
// local file into a fragmented MP4 stream the receiver can play, buffering
// the sequential output so the streaming server can answer range requests
// against it.
package transcode

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// JobOption configures a transcode job.
type JobOption func(*Job)

// WithBufferCap overrides the retained-output cap.
func WithBufferCap(capBytes int64) JobOption {
	return func(j *Job) { j.bufferCap = capBytes }
}

// WithJobLogOutput enables structured logging for the job.
func WithJobLogOutput(w io.Writer) JobOption {
	return func(j *Job) { j.LogOutput = w }
}

// Job is one running ffmpeg pipeline. At most one job runs per streaming
// server; starting a replacement cancels the old job first.
type Job struct {
	ffmpegPath string
	inputPath  string
	seek       float64
	bufferCap  int64

	buf    *Buffer
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	errMu sync.Mutex
	err   error

	Logger      zerolog.Logger
	LogOutput   io.Writer
	initLogOnce sync.Once
}

// StartJob launches ffmpeg reading inputPath, transcoding from seekSeconds
// into fragmented MP4, and returns immediately with the job feeding its
// buffer in the background.
func StartJob(ffmpegPath, inputPath string, seekSeconds float64, opts ...JobOption) *Job {
	j := &Job{
		ffmpegPath: ffmpegPath,
		inputPath:  inputPath,
		seek:       seekSeconds,
		bufferCap:  DefaultBufferCap,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}

	j.buf = NewBuffer(j.bufferCap)
	j.ctx, j.cancel = context.WithCancel(context.Background())

	go j.run()
	return j
}

// Log returns the zerolog logger, initializing it lazily if LogOutput is
// set.
func (j *Job) Log() *zerolog.Logger {
	if j.LogOutput != nil {
		j.initLogOnce.Do(func() {
			j.Logger = zerolog.New(j.LogOutput).With().Timestamp().Logger()
		})
	}
	return &j.Logger
}

// Buffer exposes the growing output window.
func (j *Job) Buffer() *Buffer {
	return j.buf
}

// Done is closed when the pipeline has fully stopped, including after
// Cancel.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Err reports why the job ended, nil for a completed stream.
func (j *Job) Err() error {
	j.errMu.Lock()
	defer j.errMu.Unlock()
	return j.err
}

// Cancel kills the pipeline and fails waiting readers with ErrSuperseded.
// It returns only after the process is gone, so a replacement job never
// overlaps with this one.
func (j *Job) Cancel() {
	j.cancel()
	<-j.done
}

// args builds the ffmpeg invocation. Output is fragmented MP4 (H.264 +
// AAC); the seek is applied on the input side with -copyts so receiver
// timestamps keep matching the original timeline.
func (j *Job) args() []string {
	args := []string{"-re"}
	if j.seek > 0 {
		args = append(args, "-ss", strconv.Itoa(int(j.seek)), "-copyts")
	}
	args = append(args,
		"-i", j.inputPath,
		"-vf", "scale='min(1920,iw)':'min(1080,ih)':force_original_aspect_ratio=decrease,scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-profile:v", "high",
		"-level", "4.1",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "192k",
		"-ar", "48000",
		"-ac", "2",
		"-movflags", "+frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4",
		"pipe:1",
	)
	return args
}

func (j *Job) run() {
	defer close(j.done)

	args := j.args()
	j.Log().Debug().Str("Method", "run").Str("Input", j.inputPath).Float64("Seek", j.seek).Msg("starting ffmpeg")

	cmd := exec.Command(j.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stdout = j.buf
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		j.finish(errors.Wrap(err, "transcode: start ffmpeg"))
		return
	}

	waited := make(chan error, 1)
	go func() {
		waited <- cmd.Wait()
	}()

	select {
	case <-j.ctx.Done():
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-waited
		j.finish(ErrSuperseded)
	case err := <-waited:
		if err != nil {
			err = errors.Wrapf(err, "transcode: ffmpeg: %s", tailStderr(strings.TrimSpace(stderr.String()), 240))
			j.Log().Error().Str("Method", "run").Err(err).Msg("ffmpeg failed")
		}
		j.finish(err)
	}
}

func (j *Job) finish(cause error) {
	j.errMu.Lock()
	j.err = cause
	j.errMu.Unlock()
	j.buf.Close(cause)
}

// tailStderr keeps the last max bytes of ffmpeg's stderr, where the
// actual failure reason ends up.
func tailStderr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "…" + s[len(s)-max:]
}
