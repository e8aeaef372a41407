package qwen

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"genpipe/internal/capability"
	"genpipe/internal/domain"
)

func TestGenerateImagePayloadAndDownload(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client, err := NewClient(Options{
		APIKey:       "test",
		PromptExtend: true,
		HTTPClient:   &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	transport.setJSONResponse("/api/v1/services/aigc/multimodal-generation/generation", map[string]any{
		"output": map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": []any{
							map[string]any{"image": "https://example.com/generated/out.png"},
						},
					},
				},
			},
		},
		"request_id": "req-123",
	})
	transport.setBinaryResponse("https://example.com/generated/out.png", []byte{0x89, 'P', 'N', 'G'})

	media, err := client.GenerateImage(context.Background(), capability.ImageRequest{
		Model:  "qwen-image-plus",
		Prompt: "a cover for episode 12",
		Size:   "1536x1024",
	})
	if err != nil {
		t.Fatalf("generate image: %v", err)
	}
	if string(media.Data) != "\x89PNG" || media.MIME != "image/png" {
		t.Fatalf("media = %q %q", media.Data, media.MIME)
	}
	if got := transport.lastAuth; got != "Bearer test" {
		t.Fatalf("Authorization = %q", got)
	}

	var payload generationRequest
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Model != "qwen-image-plus" {
		t.Fatalf("model = %q", payload.Model)
	}
	if payload.Parameters.Size != "1536*1024" {
		t.Fatalf("size = %q, want 1536*1024", payload.Parameters.Size)
	}
	if payload.Parameters.PromptExtend == nil || !*payload.Parameters.PromptExtend {
		t.Fatalf("prompt_extend should be set")
	}
	if payload.Parameters.Watermark == nil || *payload.Parameters.Watermark {
		t.Fatalf("watermark should be sent as false")
	}
	if text := payload.Input.Messages[0].Content[0].Text; text != "a cover for episode 12" {
		t.Fatalf("prompt = %q", text)
	}
}

func TestGenerateImageBodyErrorCode(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client, _ := NewClient(Options{APIKey: "test", HTTPClient: &http.Client{Transport: transport}})
	transport.setJSONResponse("/api/v1/services/aigc/multimodal-generation/generation", map[string]any{
		"code":    "DataInspectionFailed",
		"message": "Input data may contain inappropriate content.",
	})
	_, err := client.GenerateImage(context.Background(), capability.ImageRequest{Model: "qwen-image", Prompt: "x"})
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want ProviderError", err)
	}
	if !strings.Contains(pe.Detail, "DataInspectionFailed") {
		t.Fatalf("detail = %q", pe.Detail)
	}
}

func TestGenerateImageRequiresKey(t *testing.T) {
	client, _ := NewClient(Options{})
	_, err := client.GenerateImage(context.Background(), capability.ImageRequest{Model: "qwen-image", Prompt: "x"})
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Key != CredentialKey {
		t.Fatalf("error = %v, want ConfigurationError", err)
	}
}

func TestDashScopeSize(t *testing.T) {
	cases := map[string]string{"": defaultSize, "1024x1024": "1024*1024", "1024x1536": "1024*1536"}
	for in, want := range cases {
		if got := dashScopeSize(in); got != want {
			t.Fatalf("dashScopeSize(%q) = %q, want %q", in, got, want)
		}
	}
}

type captureTransport struct {
	responses map[string]responseStub
	lastBody  []byte
	lastAuth  string
}

type responseStub struct {
	status int
	header http.Header
	body   []byte
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		c.lastBody = body
		c.lastAuth = req.Header.Get("Authorization")
		if stub, ok := c.responses[req.URL.Path]; ok {
			return stub.toResponse(), nil
		}
	}
	if req.Method == http.MethodGet {
		if stub, ok := c.responses[req.URL.String()]; ok {
			return stub.toResponse(), nil
		}
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader("not found")),
	}, nil
}

func (c *captureTransport) setJSONResponse(path string, payload any) {
	body, _ := json.Marshal(payload)
	c.responses[path] = responseStub{
		status: http.StatusOK,
		header: http.Header{"Content-Type": []string{"application/json"}},
		body:   body,
	}
}

func (c *captureTransport) setBinaryResponse(url string, data []byte) {
	c.responses[url] = responseStub{
		status: http.StatusOK,
		header: http.Header{"Content-Type": []string{"image/png"}},
		body:   data,
	}
}

func (r responseStub) toResponse() *http.Response {
	return &http.Response{
		StatusCode: r.status,
		Header:     r.header,
		Body:       io.NopCloser(strings.NewReader(string(r.body))),
	}
}
