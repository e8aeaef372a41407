// Package genai implements the text, image and video capabilities on the Gemini API.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
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
	provider       = "gemini"
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// CredentialKey is the setting that enables this client.
	CredentialKey = "GEMINI_API_KEY"
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Retries    int
	HTTPClient *http.Client
	// PollInterval is the wait between checks of a long-running video operation.
	PollInterval time.Duration
	Logger       *infra.Logger
}

// Client translates capability requests to Gemini generateContent and
// predictLongRunning calls.
type Client struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	caller       *apiclient.Caller
	logger       *infra.Logger
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature        *float64 `json:"temperature,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type veoRequest struct {
	Instances  []veoInstance `json:"instances"`
	Parameters veoParameters `json:"parameters"`
}

type veoInstance struct {
	Prompt string `json:"prompt"`
}

type veoParameters struct {
	AspectRatio     string `json:"aspectRatio,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
}

type veoOperation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Response struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; one with a generous timeout will be created.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}

	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	poll := opts.PollInterval
	if poll <= 0 {
		poll = 10 * time.Second
	}

	logger := infra.OrNop(opts.Logger)
	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		pollInterval: poll,
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

// GenerateText runs one generateContent call and joins the text parts of the first candidate.
func (c *Client) GenerateText(ctx context.Context, req capability.TextRequest) (*capability.TextResult, error) {
	if !c.HasCredentials() {
		return nil, &domain.ConfigurationError{Stage: string(domain.CapabilityText), Key: CredentialKey}
	}
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
	}
	if sys := strings.TrimSpace(req.System); sys != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: sys}}}
	}
	if req.Temperature != nil {
		payload.GenerationConfig = &geminiGenerationConfig{Temperature: req.Temperature}
	}

	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, generatePath(req.Model), payload, &response); err != nil {
		return nil, err
	}
	var b strings.Builder
	if len(response.Candidates) > 0 {
		for _, part := range response.Candidates[0].Content.Parts {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return nil, &domain.ProviderError{Provider: provider, Detail: "empty completion"}
	}
	c.logger.Debug().
		Str("model", req.Model).
		Int("prompt_tokens", response.UsageMetadata.PromptTokenCount).
		Msg("genai: generated text")
	return &capability.TextResult{
		Text:         text,
		InputTokens:  response.UsageMetadata.PromptTokenCount,
		OutputTokens: response.UsageMetadata.CandidatesTokenCount,
	}, nil
}

// GenerateImage asks an image-capable model for one picture and returns the first inline image part.
func (c *Client) GenerateImage(ctx context.Context, req capability.ImageRequest) (*capability.Media, error) {
	if !c.HasCredentials() {
		return nil, &domain.ConfigurationError{Stage: string(domain.CapabilityImage), Key: CredentialKey}
	}
	payload := geminiGenerateContentRequest{
		Contents:         []geminiContent{{Role: "user", Parts: []geminiPart{{Text: buildImagePrompt(req)}}}},
		GenerationConfig: &geminiGenerationConfig{ResponseModalities: []string{"IMAGE"}},
	}

	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, generatePath(req.Model), payload, &response); err != nil {
		return nil, err
	}
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			media, err := c.decodeInlineAsset(ctx, part)
			if err != nil {
				return nil, err
			}
			if media != nil && strings.HasPrefix(media.MIME, "image/") {
				c.logger.Debug().Str("model", req.Model).Int("bytes", len(media.Data)).Msg("genai: generated image")
				return media, nil
			}
		}
	}
	return nil, &domain.ProviderError{Provider: provider, Detail: "no image content returned"}
}

// GenerateVideo starts a Veo operation, polls it until done and downloads the first sample.
func (c *Client) GenerateVideo(ctx context.Context, req capability.VideoRequest) (*capability.Media, error) {
	if !c.HasCredentials() {
		return nil, &domain.ConfigurationError{Stage: string(domain.CapabilityVideo), Key: CredentialKey}
	}
	payload := veoRequest{
		Instances: []veoInstance{{Prompt: req.Prompt}},
		Parameters: veoParameters{
			AspectRatio:     req.AspectRatio,
			DurationSeconds: int(req.Duration / time.Second),
		},
	}
	var op veoOperation
	path := fmt.Sprintf("/models/%s:predictLongRunning", url.PathEscape(req.Model))
	if err := c.invokeGemini(ctx, path, payload, &op); err != nil {
		return nil, err
	}
	if op.Name == "" && !op.Done {
		return nil, &domain.ProviderError{Provider: provider, Detail: "operation name missing"}
	}
	c.logger.Debug().Str("model", req.Model).Str("operation", op.Name).Msg("genai: video operation started")

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for !op.Done {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		name := op.Name
		op = veoOperation{}
		if err := c.caller.DoJSON(ctx, c.request(http.MethodGet, c.baseURL+"/"+strings.TrimLeft(name, "/"), nil), &op); err != nil {
			return nil, err
		}
		if op.Name == "" {
			op.Name = name
		}
	}
	if op.Error != nil {
		return nil, &domain.ProviderError{Provider: provider, Status: op.Error.Code, Detail: op.Error.Message}
	}
	samples := op.Response.GenerateVideoResponse.GeneratedSamples
	if len(samples) == 0 || samples[0].Video.URI == "" {
		return nil, &domain.ProviderError{Provider: provider, Detail: "no video content returned"}
	}
	data, mime, err := c.downloadFile(ctx, samples[0].Video.URI)
	if err != nil {
		return nil, err
	}
	if mime == "" || mime == "application/octet-stream" {
		mime = "video/mp4"
	}
	return &capability.Media{Data: data, MIME: mime}, nil
}

func (c *Client) invokeGemini(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("genai: marshal request: %w", err)
	}
	return c.caller.DoJSON(ctx, c.request(http.MethodPost, c.baseURL+path, body), out)
}

func (c *Client) request(method, endpoint string, body []byte) apiclient.RequestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		var req *http.Request
		var err error
		if body != nil {
			req, err = http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
		} else {
			req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
		}
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("x-goog-api-key", c.apiKey)
		return req, nil
	}
}

func (c *Client) decodeInlineAsset(ctx context.Context, part geminiPart) (*capability.Media, error) {
	if part.InlineData != nil && part.InlineData.Data != "" {
		data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
		if err != nil {
			return nil, &domain.ProviderError{Provider: provider, Detail: "invalid inline data", Err: err}
		}
		return &capability.Media{Data: data, MIME: firstNonEmpty(part.InlineData.MimeType, "image/png")}, nil
	}
	if part.FileData != nil && part.FileData.FileURI != "" {
		data, mime, err := c.downloadFile(ctx, part.FileData.FileURI)
		if err != nil {
			return nil, err
		}
		return &capability.Media{Data: data, MIME: firstNonEmpty(part.FileData.MimeType, mime)}, nil
	}
	return nil, nil
}

func (c *Client) downloadFile(ctx context.Context, uri string) ([]byte, string, error) {
	target := uri
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(uri, "/")
	}
	resp, err := c.caller.Do(ctx, c.request(http.MethodGet, target, nil))
	if err != nil {
		return nil, "", err
	}
	if len(resp.Body) == 0 {
		return nil, "", &domain.ProviderError{Provider: provider, Status: resp.Status, Detail: "empty download"}
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

func generatePath(model string) string {
	return fmt.Sprintf("/models/%s:generateContent", url.PathEscape(model))
}

func buildImagePrompt(req capability.ImageRequest) string {
	prompt := strings.TrimSpace(req.Prompt)
	if aspect := aspectFromSize(req.Size); aspect != "" {
		prompt += "\nAspect ratio: " + aspect
	}
	return prompt
}

// aspectFromSize maps the WxH sizes accepted in job options to Gemini aspect ratios.
func aspectFromSize(size string) string {
	switch size {
	case "1024x1024":
		return "1:1"
	case "1536x1024":
		return "3:2"
	case "1024x1536":
		return "2:3"
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var (
	_ capability.TextGenerator  = (*Client)(nil)
	_ capability.ImageGenerator = (*Client)(nil)
	_ capability.VideoGenerator = (*Client)(nil)
	_ capability.Credentialed   = (*Client)(nil)
)
