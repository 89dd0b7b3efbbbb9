// Package video wraps the yt-dlp executable for metadata lookup and audio extraction.
package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/zeke/internal/normalize"
	"horse.fit/zeke/internal/retry"
)

const (
	DefaultMetadataTimeout = 30 * time.Second
	DefaultAudioTimeout    = 10 * time.Minute
	audioFormat            = "mp3"
)

// Metadata is the subset of yt-dlp's info JSON that the extractor keeps.
type Metadata struct {
	VideoID     string     `json:"video_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Channel     string     `json:"channel,omitempty"`
	DurationSec float64    `json:"duration_sec,omitempty"`
	WebpageURL  string     `json:"webpage_url,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Placeholder bool       `json:"placeholder,omitempty"`
}

// AudioResult reports the outcome of ExtractAudio. Error is set when OK is false.
type AudioResult struct {
	OK    bool   `json:"ok"`
	Path  string `json:"path,omitempty"`
	Error string `json:"error,omitempty"`
}

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

type Options struct {
	BinaryPath      string
	WorkDir         string
	MetadataTimeout time.Duration
	AudioTimeout    time.Duration
	RetryPolicy     retry.Policy
	Runner          Runner
}

type Tool struct {
	binary          string
	workDir         string
	metadataTimeout time.Duration
	audioTimeout    time.Duration
	policy          retry.Policy
	run             Runner
	logger          zerolog.Logger
}

func NewTool(opts Options, logger zerolog.Logger) *Tool {
	binary := strings.TrimSpace(opts.BinaryPath)
	if binary == "" {
		binary = "yt-dlp"
	}
	workDir := strings.TrimSpace(opts.WorkDir)
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "zeke-audio")
	}
	metadataTimeout := opts.MetadataTimeout
	if metadataTimeout <= 0 {
		metadataTimeout = DefaultMetadataTimeout
	}
	audioTimeout := opts.AudioTimeout
	if audioTimeout <= 0 {
		audioTimeout = DefaultAudioTimeout
	}
	run := opts.Runner
	if run == nil {
		run = execRunner
	}
	return &Tool{
		binary:          binary,
		workDir:         workDir,
		metadataTimeout: metadataTimeout,
		audioTimeout:    audioTimeout,
		policy:          opts.RetryPolicy,
		run:             run,
		logger:          logger,
	}
}

// Metadata asks yt-dlp for the video's info JSON without downloading media.
func (t *Tool) Metadata(ctx context.Context, videoID string) (Metadata, error) {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return Metadata{}, fmt.Errorf("video id is required")
	}

	runCtx, cancel := context.WithTimeout(ctx, t.metadataTimeout)
	defer cancel()

	out, err := t.run(runCtx, t.binary,
		"--dump-json",
		"--skip-download",
		"--no-warnings",
		"--no-playlist",
		normalize.VideoWatchURL(videoID),
	)
	if err != nil {
		return Metadata{}, fmt.Errorf("yt-dlp metadata video_id=%s: %w", videoID, err)
	}
	return parseMetadata(videoID, out)
}

// MetadataOrPlaceholder never fails: lookup errors degrade to a titled placeholder.
func (t *Tool) MetadataOrPlaceholder(ctx context.Context, videoID string) Metadata {
	meta, err := t.Metadata(ctx, videoID)
	if err == nil {
		return meta
	}
	t.logger.Warn().
		Err(err).
		Str("video_id", videoID).
		Msg("video metadata unavailable; using placeholder")
	return Placeholder(videoID)
}

// Placeholder is the metadata used when yt-dlp cannot describe a video.
func Placeholder(videoID string) Metadata {
	return Metadata{
		VideoID:     videoID,
		Title:       "Video " + videoID,
		WebpageURL:  normalize.VideoWatchURL(videoID),
		Placeholder: true,
	}
}

// ExtractAudio downloads the audio track into the work directory. Each attempt is
// bounded by the audio timeout; partial output is removed when all attempts fail.
func (t *Tool) ExtractAudio(ctx context.Context, videoID string) AudioResult {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return AudioResult{Error: "video id is required"}
	}
	if err := os.MkdirAll(t.workDir, 0o755); err != nil {
		return AudioResult{Error: fmt.Sprintf("create work dir: %v", err)}
	}

	template := filepath.Join(t.workDir, videoID+".%(ext)s")
	err := retry.Do(ctx, t.policy, func(ctx context.Context) error {
		runCtx, cancel := context.WithTimeout(ctx, t.audioTimeout)
		defer cancel()

		_, runErr := t.run(runCtx, t.binary,
			"--extract-audio",
			"--audio-format", audioFormat,
			"--no-playlist",
			"--no-warnings",
			"--output", template,
			normalize.VideoWatchURL(videoID),
		)
		if runErr != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("audio extraction timed out after %s: %w", t.audioTimeout, runErr)
		}
		return runErr
	})
	if err != nil {
		t.removePartial(videoID)
		return AudioResult{Error: err.Error()}
	}

	path := filepath.Join(t.workDir, videoID+"."+audioFormat)
	if _, statErr := os.Stat(path); statErr != nil {
		t.removePartial(videoID)
		return AudioResult{Error: fmt.Sprintf("audio output missing: %v", statErr)}
	}
	return AudioResult{OK: true, Path: path}
}

func (t *Tool) removePartial(videoID string) {
	matches, err := filepath.Glob(filepath.Join(t.workDir, videoID+".*"))
	if err != nil {
		return
	}
	for _, match := range matches {
		if rmErr := os.Remove(match); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			t.logger.Warn().Err(rmErr).Str("path", match).Msg("failed to remove partial audio")
		}
	}
}

type infoJSON struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Channel     string  `json:"channel"`
	Uploader    string  `json:"uploader"`
	Duration    float64 `json:"duration"`
	WebpageURL  string  `json:"webpage_url"`
	UploadDate  string  `json:"upload_date"`
	Timestamp   int64   `json:"timestamp"`
}

func parseMetadata(videoID string, raw []byte) (Metadata, error) {
	// yt-dlp prints one JSON object per line; the first is the video.
	line := bytes.TrimSpace(raw)
	if idx := bytes.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	var info infoJSON
	if err := json.Unmarshal(line, &info); err != nil {
		return Metadata{}, fmt.Errorf("decode yt-dlp output: %w", err)
	}

	meta := Metadata{
		VideoID:     videoID,
		Title:       strings.TrimSpace(info.Title),
		Description: strings.TrimSpace(info.Description),
		Channel:     strings.TrimSpace(info.Channel),
		DurationSec: info.Duration,
		WebpageURL:  strings.TrimSpace(info.WebpageURL),
	}
	if meta.Channel == "" {
		meta.Channel = strings.TrimSpace(info.Uploader)
	}
	if meta.WebpageURL == "" {
		meta.WebpageURL = normalize.VideoWatchURL(videoID)
	}
	if meta.Title == "" {
		meta.Title = "Video " + videoID
	}

	switch {
	case info.Timestamp > 0:
		ts := time.Unix(info.Timestamp, 0).UTC()
		meta.PublishedAt = &ts
	case len(info.UploadDate) == 8:
		if ts, err := time.Parse("20060102", info.UploadDate); err == nil {
			meta.PublishedAt = &ts
		}
	}
	return meta, nil
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}
