// Package qwen implements the image capability on the DashScope Qwen text-to-image API.
package qwen

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
	provider       = "qwen"
	defaultBaseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	defaultSize    = "1328*1328"
	// CredentialKey is the setting that enables this client.
	CredentialKey = "DASHSCOPE_API_KEY"
)

// Options configures the DashScope Qwen client.
type Options struct {
	APIKey         string
	BaseURL        string
	PromptExtend   bool
	Watermark      bool
	Retries        int
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the DashScope Qwen text-to-image API.
type Client struct {
	apiKey       string
	baseURL      string
	promptExtend bool
	watermark    bool
	caller       *apiclient.Caller
	logger       *infra.Logger
}

type generationRequest struct {
	Model      string           `json:"model"`
	Input      generationInput  `json:"input"`
	Parameters generationParams `json:"parameters"`
}

type generationInput struct {
	Messages []generationMessage `json:"messages"`
}

type generationMessage struct {
	Role    string              `json:"role"`
	Content []generationContent `json:"content"`
}

type generationContent struct {
	Text string `json:"text,omitempty"`
}

type generationParams struct {
	Size         string `json:"size,omitempty"`
	PromptExtend *bool  `json:"prompt_extend,omitempty"`
	Watermark    *bool  `json:"watermark,omitempty"`
}

type generationResponse struct {
	Output struct {
		Choices []struct {
			Message struct {
				Content []struct {
					Image string `json:"image"`
				} `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
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
		promptExtend: opts.PromptExtend,
		watermark:    opts.Watermark,
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

// GenerateImage invokes the DashScope API once and downloads the returned image.
func (c *Client) GenerateImage(ctx context.Context, req capability.ImageRequest) (*capability.Media, error) {
	if !c.HasCredentials() {
		return nil, &domain.ConfigurationError{Stage: string(domain.CapabilityImage), Key: CredentialKey}
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("qwen: prompt is required")
	}
	payload := generationRequest{
		Model: req.Model,
		Input: generationInput{
			Messages: []generationMessage{{
				Role:    "user",
				Content: []generationContent{{Text: prompt}},
			}},
		},
		Parameters: generationParams{Size: dashScopeSize(req.Size)},
	}
	if extend := c.promptExtend; extend {
		payload.Parameters.PromptExtend = &extend
	}
	watermark := c.watermark
	payload.Parameters.Watermark = &watermark

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("qwen: encode request: %w", err)
	}
	endpoint := c.baseURL + "/services/aigc/multimodal-generation/generation"
	build := func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		return httpReq, nil
	}

	var decoded generationResponse
	if err := c.caller.DoJSON(ctx, build, &decoded); err != nil {
		return nil, err
	}
	if decoded.Code != "" {
		return nil, &domain.ProviderError{Provider: provider, Detail: fmt.Sprintf("%s (%s)", decoded.Message, decoded.Code)}
	}
	imageURL := firstImageURL(decoded)
	if imageURL == "" {
		return nil, &domain.ProviderError{Provider: provider, Detail: "empty image url"}
	}
	media, err := c.download(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().
		Str("model", req.Model).
		Str("request_id", decoded.RequestID).
		Int("bytes", len(media.Data)).
		Msg("qwen: generated image")
	return media, nil
}

func (c *Client) download(ctx context.Context, imageURL string) (*capability.Media, error) {
	parsed, err := url.Parse(strings.TrimSpace(imageURL))
	if err != nil || parsed.Scheme == "" {
		return nil, &domain.ProviderError{Provider: provider, Detail: "invalid image url: " + imageURL}
	}
	resp, err := c.caller.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	})
	if err != nil {
		return nil, err
	}
	format := resp.Header.Get("Content-Type")
	if format == "" {
		format = "image/png"
	}
	return &capability.Media{Data: resp.Body, MIME: format}, nil
}

// dashScopeSize converts "1024x1024" to the "1024*1024" form DashScope expects.
func dashScopeSize(size string) string {
	size = strings.TrimSpace(size)
	if size == "" {
		return defaultSize
	}
	return strings.ReplaceAll(size, "x", "*")
}

func firstImageURL(resp generationResponse) string {
	for _, choice := range resp.Output.Choices {
		for _, content := range choice.Message.Content {
			if u := strings.TrimSpace(content.Image); u != "" {
				return u
			}
		}
	}
	return ""
}

var (
	_ capability.ImageGenerator = (*Client)(nil)
	_ capability.Credentialed   = (*Client)(nil)
)
