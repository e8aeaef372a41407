// Package options holds the validated request that drives one job.
package options

import (
	"bytes"
	"encoding/json"
	"fmt"

	"genpipe/internal/domain"
)

// Source points at the content a job is built from. Exactly one of Path or URL is set.
type Source struct {
	Type domain.SourceType `json:"type"`
	Path string            `json:"path,omitempty"`
	URL  string            `json:"url,omitempty"`
}

// Section is the provider selection shared by every capability.
type Section struct {
	Enabled bool   `json:"enabled,omitempty"`
	Service string `json:"service,omitempty"`
	Model   string `json:"model,omitempty"`
}

type ExtractionOptions struct {
	Section
}

type TranscriptionOptions struct {
	Section
	SpeakerLabels bool `json:"speakerLabels,omitempty"`
}

type TextOptions struct {
	Section
	Temperature  *float64 `json:"temperature,omitempty"`
	Tone         string   `json:"tone,omitempty"`
	ImagePrompts *int     `json:"imagePrompts,omitempty"`
}

type SpeechOptions struct {
	Section
	Voice string `json:"voice,omitempty"`
}

type ImageOptions struct {
	Section
	Size string `json:"size,omitempty"`
}

type MusicOptions struct {
	Section
	Prompt          string `json:"prompt,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
}

type VideoOptions struct {
	Section
	AspectRatio     string `json:"aspectRatio,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
}

// JobOptions is the normalized request. After Validate every enabled section names
// a service and model present in the provider registry.
type JobOptions struct {
	Source        Source                `json:"source"`
	Title         string                `json:"title,omitempty"`
	Language      string                `json:"language,omitempty"`
	Extraction    *ExtractionOptions    `json:"extraction,omitempty"`
	Transcription *TranscriptionOptions `json:"transcription,omitempty"`
	Text          *TextOptions          `json:"text,omitempty"`
	Speech        *SpeechOptions        `json:"speech,omitempty"`
	Image         *ImageOptions         `json:"image,omitempty"`
	Music         *MusicOptions         `json:"music,omitempty"`
	Video         *VideoOptions         `json:"video,omitempty"`
}

// optionalCapabilities are the stages a caller may opt out of, in pipeline order.
var optionalCapabilities = []domain.Capability{
	domain.CapabilitySpeech,
	domain.CapabilityImage,
	domain.CapabilityMusic,
	domain.CapabilityVideo,
}

// RequiredCapabilities lists the capabilities that always run for a source type.
func RequiredCapabilities(source domain.SourceType) []domain.Capability {
	if source == domain.SourceDocument {
		return []domain.Capability{domain.CapabilityExtraction, domain.CapabilityText}
	}
	return []domain.Capability{domain.CapabilityTranscription, domain.CapabilityText}
}

// Section returns the provider selection for a capability, or nil when the request has none.
func (o *JobOptions) Section(c domain.Capability) *Section {
	switch c {
	case domain.CapabilityExtraction:
		if o.Extraction != nil {
			return &o.Extraction.Section
		}
	case domain.CapabilityTranscription:
		if o.Transcription != nil {
			return &o.Transcription.Section
		}
	case domain.CapabilityText:
		if o.Text != nil {
			return &o.Text.Section
		}
	case domain.CapabilitySpeech:
		if o.Speech != nil {
			return &o.Speech.Section
		}
	case domain.CapabilityImage:
		if o.Image != nil {
			return &o.Image.Section
		}
	case domain.CapabilityMusic:
		if o.Music != nil {
			return &o.Music.Section
		}
	case domain.CapabilityVideo:
		if o.Video != nil {
			return &o.Video.Section
		}
	}
	return nil
}

// Enabled reports whether the capability's stage runs for this job.
func (o *JobOptions) Enabled(c domain.Capability) bool {
	s := o.Section(c)
	return s != nil && s.Enabled
}

// SkippedStages lists the optional stages the caller opted out of.
func (o *JobOptions) SkippedStages() []string {
	var out []string
	for _, c := range optionalCapabilities {
		if !o.Enabled(c) {
			out = append(out, string(c))
		}
	}
	return out
}

// Encode serializes the options for Job.InputData.
func (o *JobOptions) Encode() (json.RawMessage, error) {
	raw, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("options: encode: %w", err)
	}
	return raw, nil
}

// Decode reads options previously written by Encode.
func Decode(raw json.RawMessage) (*JobOptions, error) {
	var o JobOptions
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&o); err != nil {
		return nil, fmt.Errorf("options: decode: %w", err)
	}
	return &o, nil
}
