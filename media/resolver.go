package media

import (
	"encoding/json"
	"io"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/h2non/filetype"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type ffprobeInfo struct {
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Profile    string `json:"profile"`
		Channels   int    `json:"channels"`
		SampleRate string `json:"sample_rate"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
	} `json:"streams"`
}

// Resolver turns file paths into Items. FFmpegPath locates the ffmpeg
// binary; ffprobe is expected next to it.
type Resolver struct {
	FFmpegPath string

	// probe is swappable for tests.
	probe func(path string) (*ffprobeInfo, error)

	Logger      zerolog.Logger
	LogOutput   io.Writer
	initLogOnce sync.Once
}

// NewResolver returns a resolver using the given ffmpeg path, or the one
// found on PATH when empty.
func NewResolver(ffmpegPath string) *Resolver {
	if ffmpegPath == "" {
		if p, err := exec.LookPath("ffmpeg"); err == nil {
			ffmpegPath = p
		} else {
			ffmpegPath = "ffmpeg"
		}
	}
	r := &Resolver{FFmpegPath: ffmpegPath}
	r.probe = r.runFFprobe
	return r
}

// Log returns the zerolog logger, initializing it lazily if LogOutput is
// set.
func (r *Resolver) Log() *zerolog.Logger {
	if r.LogOutput != nil {
		r.initLogOnce.Do(func() {
			r.Logger = zerolog.New(r.LogOutput).With().Timestamp().Logger()
		})
	}
	return &r.Logger
}

// Resolve probes path and decides whether the receiver can play it
// natively. Duration is always probed up front; a transcoded stream grows
// as it is produced, so the receiver can only learn the duration from the
// LOAD payload.
func (r *Resolver) Resolve(path string) (*Item, error) {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return nil, errors.Wrapf(ErrMediaNotFound, "%s", path)
	}

	info, err := r.probe(path)
	if err != nil {
		r.Log().Error().Str("Method", "Resolve").Str("Path", path).Err(err).Msg("ffprobe failed")
		return nil, errors.Wrap(ErrProbeFailed, err.Error())
	}

	codec := codecInfoFromProbe(info)
	item := &Item{
		Path:     path,
		Codec:    codec,
		Castable: isCastCompatible(codec),
	}

	if d, perr := strconv.ParseFloat(info.Format.Duration, 64); perr == nil {
		item.Duration = d
	}

	if item.Castable {
		item.ContentType = sniffContentType(path)
	} else {
		item.ContentType = TranscodeContentType
	}

	r.Log().Debug().
		Str("Method", "Resolve").
		Str("Path", path).
		Str("ContentType", item.ContentType).
		Bool("Castable", item.Castable).
		Float64("Duration", item.Duration).
		Msg("resolved media")

	return item, nil
}

func (r *Resolver) runFFprobe(path string) (*ffprobeInfo, error) {
	ffprobe := filepath.Join(filepath.Dir(r.FFmpegPath), "ffprobe")

	cmd := exec.Command(
		ffprobe,
		"-loglevel", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	var info ffprobeInfo
	if err := json.Unmarshal(output, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func codecInfoFromProbe(info *ffprobeInfo) CodecInfo {
	result := CodecInfo{Container: info.Format.FormatName}
	for _, stream := range info.Streams {
		switch stream.CodecType {
		case "video":
			result.VideoCodec = stream.CodecName
			result.VideoProfile = stream.Profile
		case "audio":
			result.AudioCodec = stream.CodecName
			result.AudioChannels = stream.Channels
		}
	}
	return result
}

// isCastCompatible checks the codec summary against what the default media
// receiver plays without help.
func isCastCompatible(info CodecInfo) bool {
	supportedVideoCodecs := map[string]bool{
		"h264": true,
		"hevc": true,
		"vp8":  true,
		"vp9":  true,
		"av1":  true,
	}

	supportedAudioCodecs := map[string]bool{
		"aac":    true,
		"mp3":    true,
		"vorbis": true,
		"opus":   true,
		"flac":   true,
	}

	supportedContainers := map[string]bool{
		"mp4":      true,
		"mov":      true,
		"m4a":      true,
		"webm":     true,
		"matroska": true,
		"mkv":      true,
	}

	videoOK := info.VideoCodec == "" || supportedVideoCodecs[info.VideoCodec]
	audioOK := info.AudioCodec == "" || supportedAudioCodecs[info.AudioCodec]

	// ffprobe reports comma-separated format names, e.g. "matroska,webm"
	// or "mov,mp4,m4a,3gp,3g2,mj2".
	containerOK := false
	for _, format := range strings.Split(info.Container, ",") {
		if supportedContainers[format] {
			containerOK = true
			break
		}
	}

	return videoOK && audioOK && containerOK
}

// sniffContentType detects the MIME type from magic bytes, falling back to
// the file extension.
func sniffContentType(path string) string {
	if kind, err := filetype.MatchFile(path); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}
