// Package ffmpeg normalizes audio and video sources into transcription-ready WAV segments.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"genpipe/internal/capability"
	"genpipe/internal/infra"
)

const (
	// CredentialKey is the setting that names the ffmpeg binary.
	CredentialKey = "FFMPEG_PATH"

	normalizedName = "normalized.wav"
	segmentPattern = "segment_%03d.wav"
	maxStderr      = 2000
)

// commandResult is one finished process.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// CommandError reports a failed ffmpeg invocation with its stderr tail.
type CommandError struct {
	Step     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("ffmpeg %s failed (exit %d)", e.Step, e.ExitCode)
	if tail := lastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Options configures the preparer.
type Options struct {
	Path   string
	Logger *infra.Logger
}

// Preparer shells out to ffmpeg.
type Preparer struct {
	path     string
	runner   commandRunner
	lookPath func(string) (string, error)
	logger   *infra.Logger
}

// NewPreparer returns a preparer for the given binary, "ffmpeg" by default.
func NewPreparer(opts Options) *Preparer {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = "ffmpeg"
	}
	return &Preparer{
		path:     path,
		runner:   execRunner{},
		lookPath: exec.LookPath,
		logger:   infra.OrNop(opts.Logger),
	}
}

// HasCredentials reports whether the ffmpeg binary can be found.
func (p *Preparer) HasCredentials() bool {
	_, err := p.lookPath(p.path)
	return err == nil
}

// Prepare converts the input to 16 kHz mono PCM and splits it into
// SegmentSeconds-long files under OutputDir, returned in playback order.
func (p *Preparer) Prepare(ctx context.Context, req capability.PrepareRequest) ([]capability.Segment, error) {
	if req.SegmentSeconds <= 0 {
		return nil, fmt.Errorf("ffmpeg: segment length must be positive")
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("ffmpeg: create output dir: %w", err)
	}
	normalized := filepath.Join(req.OutputDir, normalizedName)
	if err := p.run(ctx, "conversion", normalizeArgs(req.InputPath, normalized)); err != nil {
		return nil, err
	}
	if _, err := os.Stat(normalized); err != nil {
		return nil, fmt.Errorf("ffmpeg: conversion produced no output: %w", err)
	}
	pattern := filepath.Join(req.OutputDir, segmentPattern)
	if err := p.run(ctx, "segmentation", segmentArgs(normalized, pattern, req.SegmentSeconds)); err != nil {
		return nil, err
	}

	paths, err := filepath.Glob(filepath.Join(req.OutputDir, "segment_*.wav"))
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: list segments: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("ffmpeg: no segments produced")
	}
	sort.Strings(paths)
	segments := make([]capability.Segment, len(paths))
	for i, path := range paths {
		segments[i] = capability.Segment{
			Index: i,
			Path:  path,
			Start: time.Duration(i*req.SegmentSeconds) * time.Second,
		}
	}
	_ = os.Remove(normalized)
	p.logger.Debug().Str("input", req.InputPath).Int("segments", len(segments)).Msg("ffmpeg: media prepared")
	return segments, nil
}

func (p *Preparer) run(ctx context.Context, step string, args []string) error {
	res, err := p.runner.Run(ctx, p.path, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &CommandError{Step: step, ExitCode: res.ExitCode, Stderr: tail(res.Stderr), Err: err}
	}
	return nil
}

// normalizeArgs builds args for mono 16k PCM WAV output with video dropped.
func normalizeArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

func segmentArgs(inputPath, pattern string, seconds int) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-f", "segment",
		"-segment_time", strconv.Itoa(seconds),
		"-reset_timestamps", "1",
		"-c", "copy",
		pattern,
	}
}

func tail(s string) string {
	if len(s) <= maxStderr {
		return s
	}
	return s[len(s)-maxStderr:]
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

var (
	_ capability.MediaPreparer = (*Preparer)(nil)
	_ capability.Credentialed  = (*Preparer)(nil)
)
