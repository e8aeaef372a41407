// Package capability defines one interface per generation capability and the set
// that dispatches a (capability, service) pair to its provider client.
package capability

import (
	"context"
	"time"
)

// ExtractRequest names a local document to read.
type ExtractRequest struct {
	Path string
	MIME string
}

// ExtractResult is the plain text of a document.
type ExtractResult struct {
	Text  string
	Pages int
}

// Extractor reads plain text out of a document.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error)
}

// TranscribeRequest points at one audio file.
type TranscribeRequest struct {
	AudioPath     string
	Model         string
	Language      string
	SpeakerLabels bool
}

// Transcript is the text of one audio file.
type Transcript struct {
	Text     string
	Duration time.Duration
}

// Transcriber turns speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscribeRequest) (*Transcript, error)
}

// TextRequest is one generation call.
type TextRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature *float64
}

// TextResult is the generated text.
type TextResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// TextGenerator produces text from a prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, req TextRequest) (*TextResult, error)
}

// SpeechRequest is text to be read aloud.
type SpeechRequest struct {
	Model string
	Voice string
	Text  string
}

// Media is binary output with its content type.
type Media struct {
	Data []byte
	MIME string
}

// SpeechSynthesizer renders text as audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) (*Media, error)
}

// ImageRequest is one image prompt.
type ImageRequest struct {
	Model  string
	Prompt string
	Size   string
}

// ImageGenerator renders one image per call.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*Media, error)
}

// MusicRequest describes a background track.
type MusicRequest struct {
	Model    string
	Prompt   string
	Duration time.Duration
}

// MusicGenerator composes audio from a prompt.
type MusicGenerator interface {
	GenerateMusic(ctx context.Context, req MusicRequest) (*Media, error)
}

// VideoRequest describes a short clip.
type VideoRequest struct {
	Model       string
	Prompt      string
	AspectRatio string
	Duration    time.Duration
}

// VideoGenerator renders a clip from a prompt.
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, req VideoRequest) (*Media, error)
}

// PrepareRequest asks for a source to be normalized and split.
type PrepareRequest struct {
	InputPath      string
	OutputDir      string
	SegmentSeconds int
}

// Segment is one slice of prepared audio.
type Segment struct {
	Index int
	Path  string
	Start time.Duration
}

// MediaPreparer converts an audio or video source into transcription-ready segments.
type MediaPreparer interface {
	Prepare(ctx context.Context, req PrepareRequest) ([]Segment, error)
}

// Credentialed is implemented by clients that need an API key.
type Credentialed interface {
	HasCredentials() bool
}
