// Package elevenlabs implements the speech and music capabilities on the ElevenLabs API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"genpipe/internal/capability"
	"genpipe/internal/domain"
	"genpipe/internal/infra"
	"genpipe/internal/providers/apiclient"
)

const (
	provider       = "elevenlabs"
	defaultBaseURL = "https://api.elevenlabs.io/v1"
	// DefaultVoice is the premade "Rachel" voice.
	DefaultVoice  = "21m00Tcm4TlvDq8ikWAM"
	outputFormat  = "mp3_44100_128"
	defaultMusic  = 30 * time.Second
	CredentialKey = "ELEVENLABS_API_KEY"
)

// Options configures the ElevenLabs client.
type Options struct {
	APIKey     string
	BaseURL    string
	Retries    int
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client performs HTTP calls to ElevenLabs.
type Client struct {
	apiKey  string
	baseURL string
	caller  *apiclient.Caller
	logger  *infra.Logger
}

type speechRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

type musicRequest struct {
	Prompt        string `json:"prompt"`
	MusicLengthMS int64  `json:"music_length_ms"`
	ModelID       string `json:"model_id,omitempty"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	logger := infra.OrNop(opts.Logger)
	return &Client{
		apiKey:  strings.TrimSpace(opts.APIKey),
		baseURL: baseURL,
		caller: &apiclient.Caller{
			Provider: provider,
			HTTP:     httpClient,
			Retries:  opts.Retries,
			Logger:   logger,
		},
		logger: logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Synthesize renders text with the requested voice id.
func (c *Client) Synthesize(ctx context.Context, req capability.SpeechRequest) (*capability.Media, error) {
	if !c.HasCredentials() {
		return nil, &domain.ConfigurationError{Stage: string(domain.CapabilitySpeech), Key: CredentialKey}
	}
	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		voice = DefaultVoice
	}
	endpoint := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s", c.baseURL, url.PathEscape(voice), outputFormat)
	return c.audio(ctx, endpoint, speechRequest{Text: req.Text, ModelID: req.Model})
}

// GenerateMusic composes a track of the requested length.
func (c *Client) GenerateMusic(ctx context.Context, req capability.MusicRequest) (*capability.Media, error) {
	if !c.HasCredentials() {
		return nil, &domain.ConfigurationError{Stage: string(domain.CapabilityMusic), Key: CredentialKey}
	}
	length := req.Duration
	if length <= 0 {
		length = defaultMusic
	}
	endpoint := fmt.Sprintf("%s/music?output_format=%s", c.baseURL, outputFormat)
	return c.audio(ctx, endpoint, musicRequest{
		Prompt:        req.Prompt,
		MusicLengthMS: length.Milliseconds(),
		ModelID:       req.Model,
	})
}

func (c *Client) audio(ctx context.Context, endpoint string, payload any) (*capability.Media, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: encode request: %w", err)
	}
	resp, err := c.caller.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "audio/mpeg")
		httpReq.Header.Set("xi-api-key", c.apiKey)
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, &domain.ProviderError{Provider: provider, Status: resp.Status, Detail: "empty audio"}
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" || strings.HasPrefix(mime, "application/octet-stream") {
		mime = "audio/mpeg"
	}
	c.logger.Debug().Str("endpoint", endpoint).Int("bytes", len(resp.Body)).Msg("elevenlabs: audio generated")
	return &capability.Media{Data: resp.Body, MIME: mime}, nil
}

var (
	_ capability.SpeechSynthesizer = (*Client)(nil)
	_ capability.MusicGenerator    = (*Client)(nil)
	_ capability.Credentialed      = (*Client)(nil)
)
