// Package assemblyai implements the transcription capability on the AssemblyAI SDK.
package assemblyai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	aai "github.com/AssemblyAI/assemblyai-go-sdk"
	"golang.org/x/text/language"

	"genpipe/internal/capability"
	"genpipe/internal/domain"
	"genpipe/internal/infra"
)

const (
	provider = "assemblyai"
	// CredentialKey is the setting that enables this client.
	CredentialKey = "ASSEMBLYAI_API_KEY"
)

// transcripts is the part of the SDK transcript service the client uses.
type transcripts interface {
	TranscribeFromReader(ctx context.Context, reader io.Reader, params *aai.TranscriptOptionalParams) (aai.Transcript, error)
}

// Options configures the AssemblyAI client.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client uploads audio and waits for the finished transcript.
type Client struct {
	apiKey      string
	transcripts transcripts
	logger      *infra.Logger
}

// NewClient constructs the SDK client with the injected HTTP client.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Minute}
	}
	key := strings.TrimSpace(opts.APIKey)
	clientOpts := []aai.ClientOption{aai.WithAPIKey(key), aai.WithHTTPClient(httpClient)}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		clientOpts = append(clientOpts, aai.WithBaseURL(base))
	}
	sdk := aai.NewClientWithOptions(clientOpts...)
	return &Client{
		apiKey:      key,
		transcripts: sdk.Transcripts,
		logger:      infra.OrNop(opts.Logger),
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Transcribe uploads one audio file and blocks until AssemblyAI finishes it.
func (c *Client) Transcribe(ctx context.Context, req capability.TranscribeRequest) (*capability.Transcript, error) {
	if !c.HasCredentials() {
		return nil, &domain.ConfigurationError{Stage: string(domain.CapabilityTranscription), Key: CredentialKey}
	}
	f, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("assemblyai: open audio: %w", err)
	}
	defer f.Close()

	params := &aai.TranscriptOptionalParams{
		SpeechModel:   aai.SpeechModel(req.Model),
		SpeakerLabels: aai.Bool(req.SpeakerLabels),
	}
	if code := languageCode(req.Language); code != "" {
		params.LanguageCode = aai.TranscriptLanguageCode(code)
	}

	transcript, err := c.transcripts.TranscribeFromReader(ctx, f, params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &domain.ProviderError{Provider: provider, Detail: "transcription request failed", Err: err}
	}
	if transcript.Status == aai.TranscriptStatusError {
		return nil, &domain.ProviderError{Provider: provider, Detail: firstNonEmpty(aai.ToString(transcript.Error), "transcription failed")}
	}
	text := strings.TrimSpace(aai.ToString(transcript.Text))
	c.logger.Debug().
		Str("transcript_id", aai.ToString(transcript.ID)).
		Str("model", req.Model).
		Int("chars", len(text)).
		Msg("assemblyai: transcript ready")
	return &capability.Transcript{
		Text:     text,
		Duration: time.Duration(aai.ToFloat64(transcript.AudioDuration)) * time.Second,
	}, nil
}

// languageCode maps a BCP 47 tag to an AssemblyAI code: base language, with
// en_us, en_uk and en_au keeping their region.
func languageCode(tag string) string {
	if strings.TrimSpace(tag) == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		return ""
	}
	base, _ := t.Base()
	code := base.String()
	if code == "en" {
		if region, conf := t.Region(); conf == language.Exact {
			switch region.String() {
			case "US":
				return "en_us"
			case "GB":
				return "en_uk"
			case "AU":
				return "en_au"
			}
		}
	}
	return code
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
	_ capability.Transcriber  = (*Client)(nil)
	_ capability.Credentialed = (*Client)(nil)
)
