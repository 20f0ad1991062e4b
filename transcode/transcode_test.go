package transcode

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJobArgsFragmentedMP4(t *testing.T) {
	j := &Job{ffmpegPath: "ffmpeg", inputPath: "/media/movie.mkv"}
	args := j.args()

	require.Contains(t, args, "-movflags")
	require.Contains(t, args, "+frag_keyframe+empty_moov+default_base_moof")
	require.Contains(t, args, "libx264")
	require.Contains(t, args, "aac")
	require.Equal(t, "pipe:1", args[len(args)-1])
	require.NotContains(t, args, "-ss")
}

func TestJobArgsSeekUsesInputSideSeek(t *testing.T) {
	j := &Job{ffmpegPath: "ffmpeg", inputPath: "/media/movie.mkv", seek: 90}
	args := j.args()

	var seekIdx int = -1
	for i, a := range args {
		if a == "-ss" {
			seekIdx = i
			break
		}
	}
	require.GreaterOrEqual(t, seekIdx, 0)
	require.Equal(t, "90", args[seekIdx+1])
	require.Equal(t, "-copyts", args[seekIdx+2])

	var inputIdx int = -1
	for i, a := range args {
		if a == "-i" {
			inputIdx = i
			break
		}
	}
	require.Greater(t, inputIdx, seekIdx, "seek must precede the input for input-side seeking")
}

func TestJobStartFailurePropagatesToReaders(t *testing.T) {
	j := StartJob("/nonexistent/ffmpeg", "/media/movie.mkv", 0)

	select {
	case <-j.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("job with unstartable binary never finished")
	}
	require.Error(t, j.Err())

	_, err := j.Buffer().ReadRange(context.Background(), 0, 10, time.Second)
	require.Error(t, err)

	// Cancel after the job already ended returns immediately.
	j.Cancel()
}
