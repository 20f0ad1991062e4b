// Package media resolves local files into castable media items: it probes
// codecs with ffprobe, decides native-vs-transcode against the receiver's
// format support and picks the content type the streaming server will
// announce.
package media

import (
	"github.com/pkg/errors"
)

var (
	// ErrMediaNotFound means the path does not exist or is not a regular
	// file.
	ErrMediaNotFound = errors.New("media: file not found")

	// ErrProbeFailed means ffprobe could not analyze the file.
	ErrProbeFailed = errors.New("media: probe failed")
)

// TranscodeContentType is what transcoded streams are served as. The
// pipeline always emits fragmented MP4 with H.264 video and AAC audio.
const TranscodeContentType = "video/mp4"

// CodecInfo is the probed codec summary for one file.
type CodecInfo struct {
	VideoCodec    string
	VideoProfile  string
	AudioCodec    string
	AudioChannels int
	Container     string
}

// Item is a resolved media source ready to be served and loaded.
type Item struct {
	Path        string
	ContentType string
	Duration    float64
	Codec       CodecInfo
	// Castable means the receiver plays the file as-is; when false the
	// streaming server transcodes on the fly.
	Castable bool
}
