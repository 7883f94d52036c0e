package video

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/abdul-hamid-achik/ppescan/internal/logger"
	"github.com/abdul-hamid-achik/ppescan/internal/media"
	"github.com/abdul-hamid-achik/ppescan/internal/processor"
)

// FFmpegTranscoder re-encodes annotated video to H.264/AAC MP4 so browsers
// can play and seek it.
type FFmpegTranscoder struct {
	config *Config
}

var _ processor.Processor = (*FFmpegTranscoder)(nil)

func NewFFmpegTranscoder(cfg *Config) (*FFmpegTranscoder, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Config == nil {
		cfg.Config = processor.DefaultConfig()
	}

	if _, err := exec.LookPath(cfg.FFmpegPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFFmpegNotFound, err)
	}
	if _, err := exec.LookPath(cfg.FFprobePath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFFprobeNotFound, err)
	}

	return &FFmpegTranscoder{config: cfg}, nil
}

func (p *FFmpegTranscoder) Name() string {
	return "video_transcode"
}

func (p *FFmpegTranscoder) SupportedKinds() []media.Kind {
	return []media.Kind{media.KindVideo}
}

// Process writes input to a temp dir, reads its metadata and re-encodes it. The result
// is backed by a file that is removed together with the temp dir on Close.
func (p *FFmpegTranscoder) Process(ctx context.Context, opts *processor.Options, input io.Reader) (*processor.Result, error) {
	log := logger.FromContext(ctx)

	tempDir, err := os.MkdirTemp(p.config.TempDir, "video-transcode-*")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create temp dir: %v", processor.ErrProcessingFailed, err)
	}
	keep := false
	defer func() {
		if !keep {
			_ = os.RemoveAll(tempDir)
		}
	}()

	inputPath := filepath.Join(tempDir, "input")
	if err := writeInputFile(inputPath, input); err != nil {
		return nil, err
	}

	metadata, err := p.inspect(ctx, inputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVideo, err)
	}
	if metadata.Width == 0 || metadata.Height == 0 || metadata.Frames == 0 {
		return nil, ErrNoFrames
	}
	if p.config.MaxDuration > 0 && int(metadata.Duration) > p.config.MaxDuration {
		return nil, fmt.Errorf("%w: video is %.0fs, max is %ds", ErrVideoTooLong, metadata.Duration, p.config.MaxDuration)
	}

	outputPath := filepath.Join(tempDir, "output.mp4")
	args := p.buildArgs(metadata, inputPath, outputPath)

	cmd := exec.CommandContext(ctx, p.config.FFmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg failed: %v, output: %s", ErrTranscodeFailed, err, lastLines(output, 5))
	}

	spool, err := processor.OpenSpool(outputPath, tempDir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read output: %v", ErrTranscodeFailed, err)
	}
	if spool.Size() == 0 {
		_ = spool.Close()
		keep = true
		return nil, fmt.Errorf("%w: output video file is empty", ErrTranscodeFailed)
	}
	keep = true

	log.Debug("video transcoded",
		"width", metadata.Width,
		"height", metadata.Height,
		"duration", metadata.Duration,
		"frames", metadata.Frames,
		"size", spool.Size(),
	)

	return &processor.Result{
		Data:        spool,
		ContentType: media.ContentTypeVideo,
		Size:        spool.Size(),
		Metadata: processor.ResultMetadata{
			Width:     metadata.Width,
			Height:    metadata.Height,
			Duration:  metadata.Duration,
			FrameRate: metadata.FrameRate,
			Format:    "mp4",
		},
	}, nil
}

func (p *FFmpegTranscoder) buildArgs(metadata *Metadata, inputPath, outputPath string) []string {
	args := []string{
		"-i", inputPath,
		"-c:v", "libx264",
		"-preset", p.config.Preset,
		"-crf", strconv.Itoa(p.config.CRF),
		"-pix_fmt", "yuv420p",
	}

	if metadata.HasAudio {
		args = append(args, "-c:a", "aac", "-b:a", "128k")
	} else {
		args = append(args, "-an")
	}

	return append(args, "-movflags", "+faststart", "-y", outputPath)
}

func writeInputFile(path string, input io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: failed to create input file: %v", processor.ErrProcessingFailed, err)
	}
	defer func() { _ = file.Close() }()

	written, err := io.Copy(file, input)
	if err != nil {
		return fmt.Errorf("%w: failed to write input file: %v", processor.ErrProcessingFailed, err)
	}
	if written == 0 {
		return fmt.Errorf("%w: empty input", ErrInvalidVideo)
	}
	return nil
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		NbFrames   string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (p *FFmpegTranscoder) inspect(ctx context.Context, path string) (*Metadata, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	output, err := exec.CommandContext(ctx, p.config.FFprobePath, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseMetadata(output)
}

func parseMetadata(output []byte) (*Metadata, error) {
	var info ffprobeOutput
	if err := json.Unmarshal(output, &info); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	metadata := &Metadata{}
	if d, err := strconv.ParseFloat(info.Format.Duration, 64); err == nil {
		metadata.Duration = d
	}

	for _, stream := range info.Streams {
		switch stream.CodecType {
		case "video":
			metadata.VideoCodec = stream.CodecName
			metadata.Width = stream.Width
			metadata.Height = stream.Height
			metadata.FrameRate = parseFrameRate(stream.RFrameRate)
			if n, err := strconv.ParseInt(stream.NbFrames, 10, 64); err == nil {
				metadata.Frames = n
			}
		case "audio":
			metadata.AudioCodec = stream.CodecName
			metadata.HasAudio = true
		}
	}

	// Some containers (avi, fragmented mp4) omit nb_frames.
	if metadata.Frames == 0 && metadata.Duration > 0 && metadata.FrameRate > 0 {
		metadata.Frames = int64(metadata.Duration * metadata.FrameRate)
	}

	return metadata, nil
}

// parseFrameRate handles ffprobe's "30/1" and "30000/1001" forms.
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	n, _ := strconv.ParseFloat(num, 64)
	d, _ := strconv.ParseFloat(den, 64)
	if d <= 0 {
		return 0
	}
	return n / d
}

func lastLines(b []byte, n int) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
