// Package openai implements the transcription, text, speech and image capabilities
// on the OpenAI REST API.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/language"

	"genpipe/internal/capability"
	"genpipe/internal/domain"
	"genpipe/internal/infra"
	"genpipe/internal/providers/apiclient"
)

const (
	provider       = "openai"
	defaultBaseURL = "https://api.openai.com/v1"
	defaultVoice   = "alloy"
	// CredentialKey is the setting that enables this client.
	CredentialKey = "OPENAI_API_KEY"
)

// Options configures the OpenAI client.
type Options struct {
	APIKey         string
	BaseURL        string
	Organization   string
	Retries        int
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *infra.Logger
}

// Client performs HTTP calls to the OpenAI API.
type Client struct {
	apiKey       string
	baseURL      string
	organization string
	caller       *apiclient.Caller
	logger       *infra.Logger
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type transcriptionResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size,omitempty"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 10 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	logger := infra.OrNop(opts.Logger)
	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		organization: strings.TrimSpace(opts.Organization),
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

// GenerateText runs one chat completion.
func (c *Client) GenerateText(ctx context.Context, req capability.TextRequest) (*capability.TextResult, error) {
	if err := c.ready("text"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("openai: prompt is required")
	}
	payload := chatRequest{Model: req.Model, Temperature: req.Temperature}
	if sys := strings.TrimSpace(req.System); sys != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: sys})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: req.Prompt})

	var decoded chatResponse
	if err := c.caller.DoJSON(ctx, c.jsonRequest("/chat/completions", payload), &decoded); err != nil {
		return nil, err
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return nil, &domain.ProviderError{Provider: provider, Detail: "empty completion"}
	}
	c.logger.Debug().
		Str("model", req.Model).
		Int("prompt_tokens", decoded.Usage.PromptTokens).
		Int("completion_tokens", decoded.Usage.CompletionTokens).
		Msg("openai: chat completion")
	return &capability.TextResult{
		Text:         decoded.Choices[0].Message.Content,
		InputTokens:  decoded.Usage.PromptTokens,
		OutputTokens: decoded.Usage.CompletionTokens,
	}, nil
}

// Transcribe uploads one audio file to the transcription endpoint.
func (c *Client) Transcribe(ctx context.Context, req capability.TranscribeRequest) (*capability.Transcript, error) {
	if err := c.ready("transcription"); err != nil {
		return nil, err
	}
	audio, err := os.ReadFile(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("openai: read audio: %w", err)
	}
	lang := baseLanguage(req.Language)
	build := func(ctx context.Context) (*http.Request, error) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("file", filepath.Base(req.AudioPath))
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(audio); err != nil {
			return nil, err
		}
		fields := map[string]string{"model": req.Model, "response_format": "json"}
		if lang != "" {
			fields["language"] = lang
		}
		for k, v := range fields {
			if err := mw.WriteField(k, v); err != nil {
				return nil, err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", mw.FormDataContentType())
		c.authorize(httpReq)
		return httpReq, nil
	}
	var decoded transcriptionResponse
	if err := c.caller.DoJSON(ctx, build, &decoded); err != nil {
		return nil, err
	}
	return &capability.Transcript{
		Text:     strings.TrimSpace(decoded.Text),
		Duration: time.Duration(decoded.Duration * float64(time.Second)),
	}, nil
}

// Synthesize renders text to MP3 speech.
func (c *Client) Synthesize(ctx context.Context, req capability.SpeechRequest) (*capability.Media, error) {
	if err := c.ready("speech"); err != nil {
		return nil, err
	}
	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		voice = defaultVoice
	}
	payload := speechRequest{Model: req.Model, Input: req.Text, Voice: voice, ResponseFormat: "mp3"}
	resp, err := c.caller.Do(ctx, c.jsonRequest("/audio/speech", payload))
	if err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, &domain.ProviderError{Provider: provider, Status: resp.Status, Detail: "empty audio"}
	}
	return &capability.Media{Data: resp.Body, MIME: contentType(resp.Header, "audio/mpeg")}, nil
}

// GenerateImage renders one image and returns its PNG bytes.
func (c *Client) GenerateImage(ctx context.Context, req capability.ImageRequest) (*capability.Media, error) {
	if err := c.ready("image"); err != nil {
		return nil, err
	}
	payload := imageRequest{Model: req.Model, Prompt: req.Prompt, Size: req.Size, N: 1}
	// gpt-image models always answer in base64 and reject response_format.
	if !strings.HasPrefix(req.Model, "gpt-image") {
		payload.ResponseFormat = "b64_json"
	}
	var decoded imageResponse
	if err := c.caller.DoJSON(ctx, c.jsonRequest("/images/generations", payload), &decoded); err != nil {
		return nil, err
	}
	if len(decoded.Data) == 0 || decoded.Data[0].B64JSON == "" {
		return nil, &domain.ProviderError{Provider: provider, Detail: "no image returned"}
	}
	data, err := base64.StdEncoding.DecodeString(decoded.Data[0].B64JSON)
	if err != nil {
		return nil, &domain.ProviderError{Provider: provider, Detail: "invalid image payload", Err: err}
	}
	return &capability.Media{Data: data, MIME: "image/png"}, nil
}

func (c *Client) ready(stage string) error {
	if !c.HasCredentials() {
		return &domain.ConfigurationError{Stage: stage, Key: CredentialKey}
	}
	return nil
}

func (c *Client) jsonRequest(path string, payload any) apiclient.RequestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		c.authorize(httpReq)
		return httpReq, nil
	}
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.organization != "" {
		req.Header.Set("OpenAI-Organization", c.organization)
	}
}

// baseLanguage reduces a BCP 47 tag to the ISO-639-1 code the transcription API accepts.
func baseLanguage(tag string) string {
	if strings.TrimSpace(tag) == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		return ""
	}
	base, _ := t.Base()
	return base.String()
}

func contentType(h http.Header, fallback string) string {
	if v := strings.TrimSpace(h.Get("Content-Type")); v != "" {
		return v
	}
	return fallback
}

var (
	_ capability.Transcriber       = (*Client)(nil)
	_ capability.TextGenerator     = (*Client)(nil)
	_ capability.SpeechSynthesizer = (*Client)(nil)
	_ capability.ImageGenerator    = (*Client)(nil)
	_ capability.Credentialed      = (*Client)(nil)
)
