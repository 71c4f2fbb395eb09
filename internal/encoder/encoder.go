// Package encoder wraps the external ffmpeg process used to shrink video before upload.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/mvx/internal/shared"
)

// Encoder transcodes a local file and returns the path of the result.
type Encoder interface {
	Encode(ctx context.Context, inputPath string) (string, error)
}

// Prober reads the playback duration of a local media file in seconds.
type Prober interface {
	Probe(ctx context.Context, path string) (float64, error)
}

var execCommand = exec.CommandContext

const stderrTail = 2048

// FFmpeg implements [Encoder] and [Prober] with the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	cfg    shared.EncoderConfig
	logger *log.Logger
}

// New creates an FFmpeg encoder, filling unset settings with the H.264/AAC defaults.
func New(cfg shared.EncoderConfig, logger *log.Logger) *FFmpeg {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.ProbeBinary == "" {
		cfg.ProbeBinary = "ffprobe"
	}
	if cfg.VideoCodec == "" {
		cfg.VideoCodec = "libx264"
	}
	if cfg.CRF == 0 {
		cfg.CRF = 28
	}
	if cfg.Preset == "" {
		cfg.Preset = "medium"
	}
	if cfg.AudioCodec == "" {
		cfg.AudioCodec = "aac"
	}
	if cfg.AudioBitrate == "" {
		cfg.AudioBitrate = "128k"
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &FFmpeg{cfg: cfg, logger: shared.WithLogger(logger, "component", "encoder")}
}

// OutputPath returns "<dir>/<stem>.compressed.mp4" for inputPath.
func OutputPath(inputPath string) string {
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return filepath.Join(filepath.Dir(inputPath), stem+".compressed.mp4")
}

// Args returns the ffmpeg arguments that transcode in to out.
func (f *FFmpeg) Args(in, out string) []string {
	return []string{
		"-y",
		"-i", in,
		"-c:v", f.cfg.VideoCodec,
		"-crf", strconv.Itoa(f.cfg.CRF),
		"-preset", f.cfg.Preset,
		"-c:a", f.cfg.AudioCodec,
		"-b:a", f.cfg.AudioBitrate,
		"-movflags", "+faststart",
		out,
	}
}

// Encode runs ffmpeg on inputPath. A non-zero exit or a missing or empty output is an [shared.ErrEncode].
func (f *FFmpeg) Encode(ctx context.Context, inputPath string) (string, error) {
	if _, err := os.Stat(inputPath); err != nil {
		return "", fmt.Errorf("%w: input: %w", shared.ErrEncode, err)
	}

	out := OutputPath(inputPath)
	var stderr bytes.Buffer
	cmd := execCommand(ctx, f.cfg.Binary, f.Args(inputPath, out)...)
	cmd.Stderr = &stderr

	f.logger.Info("encoding", "input", filepath.Base(inputPath), "codec", f.cfg.VideoCodec, "crf", f.cfg.CRF)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s: %w: %s", shared.ErrEncode, f.cfg.Binary, err, tail(stderr.String()))
	}

	info, err := os.Stat(out)
	if err != nil {
		return "", fmt.Errorf("%w: output missing: %w", shared.ErrEncode, err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("%w: output is empty: %s", shared.ErrEncode, tail(stderr.String()))
	}

	f.logger.Info("encoded", "output", filepath.Base(out), "size", shared.FormatBytes(info.Size()))
	return out, nil
}

// Probe returns the container duration of path in seconds.
func (f *FFmpeg) Probe(ctx context.Context, path string) (float64, error) {
	cmd := execCommand(ctx, f.cfg.ProbeBinary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", shared.ErrEncode, f.cfg.ProbeBinary, err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: unexpected duration %q", shared.ErrEncode, strings.TrimSpace(string(out)))
	}
	return duration, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		return s[len(s)-stderrTail:]
	}
	return s
}
