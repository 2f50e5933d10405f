// SPDX-License-Identifier: MIT

// Package tool wraps the external programs the pipeline shells out to: the
// video download tool, ffmpeg, and the containerized diarizer.
package tool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/civicast/civicast/internal/log"
)

// waitDelay is how long a tool gets between SIGTERM and SIGKILL.
const waitDelay = 10 * time.Second

// run executes a tool, forwarding cancellation as SIGTERM so the tool can
// clean up partial output before the hard kill.
func run(ctx context.Context, logger zerolog.Logger, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = waitDelay

	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	logger.Debug().Str("bin", bin).Strs("args", args).Msg("tool started")
	start := time.Now()
	err := cmd.Run()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", filepath.Base(bin), err, stderrTail(&stderr))
	}
	logger.Debug().Str("bin", bin).Dur("took", time.Since(start)).Msg("tool finished")
	return nil
}

// stderrTail keeps the last lines of stderr, which is where tools put the
// actual failure reason.
func stderrTail(buf *bytes.Buffer) string {
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, " | ")
}

// VideoDownloader drives a yt-dlp-compatible download tool.
type VideoDownloader struct {
	bin      string
	credFile string
	logger   zerolog.Logger
}

// NewVideoDownloader returns a downloader using bin. credFile, when set, is
// passed as a cookies file for authenticated sources.
func NewVideoDownloader(bin, credFile string) *VideoDownloader {
	return &VideoDownloader{bin: bin, credFile: credFile, logger: log.WithComponent("download-tool")}
}

// Download fetches sourceURL into destPath as a single mp4.
func (d *VideoDownloader) Download(ctx context.Context, sourceURL, destPath string) error {
	args := []string{
		"--no-progress",
		"--no-playlist",
		"-f", "mp4/best",
		"-o", destPath,
	}
	if d.credFile != "" {
		args = append(args, "--cookies", d.credFile)
	}
	args = append(args, sourceURL)
	return run(ctx, d.logger, d.bin, args...)
}

// FFmpegAudioExtractor derives an m4a audio track with ffmpeg.
type FFmpegAudioExtractor struct {
	bin    string
	logger zerolog.Logger
}

// NewFFmpegAudioExtractor returns an extractor using the given ffmpeg binary.
func NewFFmpegAudioExtractor(bin string) *FFmpegAudioExtractor {
	return &FFmpegAudioExtractor{bin: bin, logger: log.WithComponent("ffmpeg")}
}

// Extract writes videoPath's audio track to audioPath.
func (e *FFmpegAudioExtractor) Extract(ctx context.Context, videoPath, audioPath string) error {
	return run(ctx, e.logger, e.bin,
		"-y", "-nostdin",
		"-i", videoPath,
		"-vn",
		"-c:a", "aac",
		"-b:a", "96k",
		audioPath,
	)
}

// ContainerDiarizer runs the diarization container (podman/docker CLI) with
// the scratch directory bind-mounted.
type ContainerDiarizer struct {
	bin    string
	image  string
	logger zerolog.Logger
}

// NewContainerDiarizer returns a diarizer running image via bin.
func NewContainerDiarizer(bin, image string) *ContainerDiarizer {
	return &ContainerDiarizer{bin: bin, image: image, logger: log.WithComponent("diarizer")}
}

// Diarize processes scratchDir/audioFile and returns the path of the JSON
// output inside scratchDir.
func (d *ContainerDiarizer) Diarize(ctx context.Context, scratchDir, audioFile string) (string, error) {
	const outputFile = "diarized.json"
	err := run(ctx, d.logger, d.bin,
		"run", "--rm",
		"-v", scratchDir+":/data:z",
		d.image,
		"--input", "/data/"+audioFile,
		"--output", "/data/"+outputFile,
	)
	if err != nil {
		return "", err
	}
	return filepath.Join(scratchDir, outputFile), nil
}
