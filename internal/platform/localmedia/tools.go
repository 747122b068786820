package localmedia

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

// Tools is the glue around the ffmpeg/ffprobe binaries.
//
// REQUIRED BINARIES in worker runtime:
// - ffmpeg for all composition, audio and encode operations
// - ffprobe for stream/duration inspection
//
// This service is synchronous and subprocess-bound; call it from worker
// jobs, never from request handlers.
type Tools interface {
	AssertReady(ctx context.Context) error

	Probe(ctx context.Context, path string) (*ProbeInfo, error)
	Duration(ctx context.Context, path string) (float64, error)

	// FFmpeg runs `ffmpeg -y -hide_banner -loglevel warning <args>` and
	// captures combined output on failure. Audio-pipeline packages build
	// their own filter graphs on top of this.
	FFmpeg(ctx context.Context, args ...string) error
	FFprobe(ctx context.Context, args ...string) ([]byte, error)

	ScaleFit(ctx context.Context, in, out string, width, height, fps int) error
	TrimToDuration(ctx context.Context, in, out string, seconds float64) error
	KenBurnsClip(ctx context.Context, image, out string, opts KenBurnsOptions) error
	StillClip(ctx context.Context, image, out string, seconds float64, width, height, fps int) error
	OverlayImage(ctx context.Context, video, image, out string, opts OverlayOptions) error
	BurnFilters(ctx context.Context, in, out string, videoFilter string) error
	ConcatWithTransitions(ctx context.Context, inputs []string, out string, transitions []XfadeStep, width, height, fps int) error
	FinalEncode(ctx context.Context, in, out string, width, height, fps int, maxBitrate string) error
	ExtractThumbnail(ctx context.Context, video, out string, atSeconds float64) error
	AddSilentAudio(ctx context.Context, video, out string, seconds float64) error
	MuxAudio(ctx context.Context, video, audio, out string) error
	LoudnessNormalize(ctx context.Context, in, out string, targetLUFS float64) error
}

// ProbeInfo is the subset of ffprobe output the validator and assembler need.
type ProbeInfo struct {
	DurationSeconds float64
	HasVideo        bool
	Codec           string
	Width           int
	Height          int
	SizeBytes       int64
}

type KenBurnsOptions struct {
	Seconds float64
	Width   int
	Height  int
	FPS     int
	// Variant is one of zoom_in, zoom_out, pan_up, pan_down.
	Variant string
}

type OverlayOptions struct {
	// X and Y are ffmpeg overlay position expressions.
	X       string
	Y       string
	ScaleW  int
	Opacity float64
}

// XfadeStep describes the transition between input i and i+1.
type XfadeStep struct {
	XfadeName string
	Seconds   float64
}

type tools struct {
	log *logger.Logger

	ffmpegPath  string
	ffprobePath string

	composeTimeout time.Duration
	probeTimeout   time.Duration
}

func New(log *logger.Logger) Tools {
	return &tools{
		log:            log.With("service", "MediaTools"),
		ffmpegPath:     "ffmpeg",
		ffprobePath:    "ffprobe",
		composeTimeout: 10 * time.Minute,
		probeTimeout:   30 * time.Second,
	}
}

func (m *tools) AssertReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for _, bin := range []string{m.ffmpegPath, m.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	_ = ctx
	return nil
}

func (m *tools) FFmpeg(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, m.composeTimeout)
	defer cancel()
	full := append([]string{"-y", "-hide_banner", "-loglevel", "warning"}, args...)
	cmd := exec.CommandContext(ctx, m.ffmpegPath, full...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w; out=%s", err, truncateOut(out))
	}
	return nil
}

func (m *tools) FFprobe(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	full := append([]string{"-hide_banner"}, args...)
	cmd := exec.CommandContext(ctx, m.ffprobePath, full...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return out, nil
}

func (m *tools) Probe(ctx context.Context, path string) (*ProbeInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	raw, err := m.FFprobe(ctx,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			CodecType string `json:"codec_type"`
			CodecName string `json:"codec_name"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse ffprobe output for %s: %w", path, err)
	}
	info := &ProbeInfo{SizeBytes: st.Size()}
	info.DurationSeconds, _ = strconv.ParseFloat(strings.TrimSpace(doc.Format.Duration), 64)
	for _, s := range doc.Streams {
		if s.CodecType == "video" {
			info.HasVideo = true
			info.Codec = s.CodecName
			info.Width = s.Width
			info.Height = s.Height
			break
		}
	}
	return info, nil
}

func (m *tools) Duration(ctx context.Context, path string) (float64, error) {
	raw, err := m.FFprobe(ctx,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration of %s: %w", path, err)
	}
	return d, nil
}

func (m *tools) ScaleFit(ctx context.Context, in, out string, width, height, fps int) error {
	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,fps=%d",
		width, height, width, height, fps,
	)
	return m.FFmpeg(ctx,
		"-i", in,
		"-vf", vf,
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		out,
	)
}

func (m *tools) TrimToDuration(ctx context.Context, in, out string, seconds float64) error {
	return m.FFmpeg(ctx,
		"-i", in,
		"-t", formatSeconds(seconds),
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-c:a", "copy",
		out,
	)
}

func (m *tools) KenBurnsClip(ctx context.Context, image, out string, opts KenBurnsOptions) error {
	frames := int(opts.Seconds * float64(opts.FPS))
	if frames < 1 {
		frames = 1
	}
	var zoom, x, y string
	switch opts.Variant {
	case "zoom_out":
		zoom = fmt.Sprintf("if(lte(zoom,1.0),1.3,max(1.0,zoom-%0.5f))", 0.3/float64(frames))
		x = "iw/2-(iw/zoom/2)"
		y = "ih/2-(ih/zoom/2)"
	case "pan_up":
		zoom = "1.2"
		x = "iw/2-(iw/zoom/2)"
		y = fmt.Sprintf("(ih-ih/zoom)*(1-on/%d)", frames)
	case "pan_down":
		zoom = "1.2"
		x = "iw/2-(iw/zoom/2)"
		y = fmt.Sprintf("(ih-ih/zoom)*(on/%d)", frames)
	default: // zoom_in
		zoom = fmt.Sprintf("min(zoom+%0.5f,1.3)", 0.3/float64(frames))
		x = "iw/2-(iw/zoom/2)"
		y = "ih/2-(ih/zoom/2)"
	}
	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,"+
			"zoompan=z='%s':x='%s':y='%s':d=%d:s=%dx%d:fps=%d,format=yuv420p",
		opts.Width*2, opts.Height*2, opts.Width*2, opts.Height*2,
		zoom, x, y, frames, opts.Width, opts.Height, opts.FPS,
	)
	return m.FFmpeg(ctx,
		"-loop", "1",
		"-i", image,
		"-vf", vf,
		"-t", formatSeconds(opts.Seconds),
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(opts.FPS),
		out,
	)
}

func (m *tools) StillClip(ctx context.Context, image, out string, seconds float64, width, height, fps int) error {
	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,format=yuv420p",
		width, height, width, height,
	)
	return m.FFmpeg(ctx,
		"-loop", "1",
		"-i", image,
		"-vf", vf,
		"-t", formatSeconds(seconds),
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(fps),
		out,
	)
}

func (m *tools) OverlayImage(ctx context.Context, video, image, out string, opts OverlayOptions) error {
	x := opts.X
	if x == "" {
		x = "(W-w)/2"
	}
	y := opts.Y
	if y == "" {
		y = "(H-h)*0.35"
	}
	scaleW := opts.ScaleW
	if scaleW <= 0 {
		scaleW = 600
	}
	opacity := opts.Opacity
	if opacity <= 0 || opacity > 1 {
		opacity = 1
	}
	fc := fmt.Sprintf(
		"[1:v]scale=%d:-1,format=rgba,colorchannelmixer=aa=%0.2f[ovr];[0:v][ovr]overlay=%s:%s[out]",
		scaleW, opacity, x, y,
	)
	return m.FFmpeg(ctx,
		"-i", video,
		"-i", image,
		"-filter_complex", fc,
		"-map", "[out]", "-map", "0:a?",
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-c:a", "copy",
		out,
	)
}

func (m *tools) BurnFilters(ctx context.Context, in, out string, videoFilter string) error {
	if strings.TrimSpace(videoFilter) == "" {
		return m.FFmpeg(ctx, "-i", in, "-c", "copy", out)
	}
	return m.FFmpeg(ctx,
		"-i", in,
		"-vf", videoFilter,
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		out,
	)
}

// ConcatWithTransitions chains xfade filters across the ordered inputs.
// len(transitions) must be len(inputs)-1; hard cuts use a 1ms fade as a
// concat stand-in.
func (m *tools) ConcatWithTransitions(ctx context.Context, inputs []string, out string, transitions []XfadeStep, width, height, fps int) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no inputs to concatenate")
	}
	if len(inputs) == 1 {
		return m.ScaleFit(ctx, inputs[0], out, width, height, fps)
	}
	if len(transitions) != len(inputs)-1 {
		return fmt.Errorf("got %d transitions for %d inputs", len(transitions), len(inputs))
	}

	durations := make([]float64, len(inputs))
	for i, in := range inputs {
		d, err := m.Duration(ctx, in)
		if err != nil {
			return err
		}
		durations[i] = d
	}

	args := []string{}
	for _, in := range inputs {
		args = append(args, "-i", in)
	}

	var parts []string
	cumulative := durations[0]
	for i := 1; i < len(inputs); i++ {
		step := transitions[i-1]
		dur := step.Seconds
		if dur <= 0 {
			dur = 0.001
		}
		name := step.XfadeName
		if name == "" {
			name = "fade"
		}
		offset := cumulative - dur
		if offset < 0 {
			offset = 0
		}
		prev := fmt.Sprintf("[v%d]", i-1)
		if i == 1 {
			prev = "[0:v]"
		}
		outLabel := fmt.Sprintf("[v%d]", i)
		tail := ""
		if i == len(inputs)-1 {
			outLabel = "[outv]"
			tail = fmt.Sprintf(",format=yuv420p,scale=%d:%d,fps=%d", width, height, fps)
		}
		parts = append(parts, fmt.Sprintf(
			"%s[%d:v]xfade=transition=%s:duration=%s:offset=%s%s%s",
			prev, i, name, formatSeconds(dur), formatSeconds(offset), tail, outLabel,
		))
		cumulative = offset + durations[i]
	}

	args = append(args,
		"-filter_complex", strings.Join(parts, ";"),
		"-map", "[outv]",
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		out,
	)
	return m.FFmpeg(ctx, args...)
}

func (m *tools) FinalEncode(ctx context.Context, in, out string, width, height, fps int, maxBitrate string) error {
	return m.FFmpeg(ctx,
		"-i", in,
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(fps),
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-maxrate", maxBitrate, "-bufsize", maxBitrate,
		"-c:a", "aac", "-b:a", "192k",
		"-movflags", "+faststart",
		out,
	)
}

func (m *tools) ExtractThumbnail(ctx context.Context, video, out string, atSeconds float64) error {
	return m.FFmpeg(ctx,
		"-i", video,
		"-ss", formatSeconds(atSeconds),
		"-frames:v", "1",
		"-q:v", "2",
		out,
	)
}

func (m *tools) AddSilentAudio(ctx context.Context, video, out string, seconds float64) error {
	return m.FFmpeg(ctx,
		"-i", video,
		"-f", "lavfi", "-i", fmt.Sprintf("anullsrc=r=44100:cl=stereo:d=%s", formatSeconds(seconds)),
		"-c:v", "copy", "-c:a", "aac", "-b:a", "192k",
		"-shortest",
		out,
	)
}

func (m *tools) MuxAudio(ctx context.Context, video, audio, out string) error {
	return m.FFmpeg(ctx,
		"-i", video,
		"-i", audio,
		"-c:v", "copy",
		"-c:a", "aac", "-b:a", "192k",
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-shortest",
		out,
	)
}

func (m *tools) LoudnessNormalize(ctx context.Context, in, out string, targetLUFS float64) error {
	return m.FFmpeg(ctx,
		"-i", in,
		"-af", fmt.Sprintf("loudnorm=I=%0.1f:TP=-1.5:LRA=11", targetLUFS),
		"-ar", "44100", "-ac", "2",
		"-c:a", "pcm_s16le",
		out,
	)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func truncateOut(out []byte) string {
	s := string(out)
	if len(s) > 500 {
		return s[:500]
	}
	return s
}
