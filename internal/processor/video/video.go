package video

import (
	"errors"

	"github.com/abdul-hamid-achik/ppescan/internal/processor"
)

var (
	ErrTranscodeFailed = errors.New("video: transcoding failed")
	ErrFFmpegNotFound  = errors.New("video: ffmpeg not found in PATH")
	ErrFFprobeNotFound = errors.New("video: ffprobe not found in PATH")
	ErrInvalidVideo    = errors.New("video: invalid or corrupted video file")
	ErrNoFrames        = errors.New("video: no frames in video")
	ErrVideoTooLong    = errors.New("video: duration exceeds limit")
)

type Metadata struct {
	Duration   float64 `json:"duration"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	VideoCodec string  `json:"video_codec"`
	AudioCodec string  `json:"audio_codec"`
	FrameRate  float64 `json:"frame_rate"`
	Frames     int64   `json:"frames"`
	HasAudio   bool    `json:"has_audio"`
}

type Config struct {
	*processor.Config

	FFmpegPath  string
	FFprobePath string

	Preset string
	CRF    int
	// MaxDuration in seconds, zero means unlimited.
	MaxDuration int
}

func DefaultConfig() *Config {
	return &Config{
		Config:      processor.DefaultConfig(),
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		Preset:      "veryfast",
		CRF:         23,
		MaxDuration: 60 * 60,
	}
}
