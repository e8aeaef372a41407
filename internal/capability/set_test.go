package capability

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"genpipe/internal/domain"
)

type fakeText struct{ creds bool }

func (f fakeText) GenerateText(context.Context, TextRequest) (*TextResult, error) {
	return &TextResult{Text: "ok"}, nil
}

func (f fakeText) HasCredentials() bool { return f.creds }

type fakePreparer struct{}

func (fakePreparer) Prepare(context.Context, PrepareRequest) ([]Segment, error) { return nil, nil }

func TestSetDispatch(t *testing.T) {
	set := NewSet()
	set.MustRegister(domain.CapabilityText, "openai", "OPENAI_API_KEY", fakeText{creds: true})

	gen, err := set.TextGenerator("openai")
	if err != nil {
		t.Fatalf("TextGenerator error: %v", err)
	}
	res, err := gen.GenerateText(context.Background(), TextRequest{Prompt: "hi"})
	if err != nil || res.Text != "ok" {
		t.Fatalf("GenerateText = %v, %v", res, err)
	}
}

func TestSetMissingCredentialsIsConfigurationError(t *testing.T) {
	set := NewSet()
	set.MustRegister(domain.CapabilityText, "gemini", "GEMINI_API_KEY", fakeText{})

	_, err := set.TextGenerator("gemini")
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want ConfigurationError", err)
	}
	if cfgErr.Key != "GEMINI_API_KEY" {
		t.Fatalf("key = %q, want GEMINI_API_KEY", cfgErr.Key)
	}

	if got, want := set.Unconfigured(), []string{"text/gemini (GEMINI_API_KEY)"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Unconfigured = %v, want %v", got, want)
	}
}

func TestSetUnknownService(t *testing.T) {
	set := NewSet()
	_, err := set.ImageGenerator("qwen")
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want ConfigurationError", err)
	}
	if !strings.Contains(err.Error(), "qwen") {
		t.Fatalf("error %q should name the service", err)
	}
}

func TestSetRegisterRejectsWrongInterface(t *testing.T) {
	set := NewSet()
	if err := set.Register(domain.CapabilityMusic, "openai", "OPENAI_API_KEY", fakeText{creds: true}); err == nil {
		t.Fatal("expected error registering a text client as music")
	}
}

func TestSetPreparer(t *testing.T) {
	set := NewSet()
	if _, err := set.Preparer(); err == nil || !strings.Contains(err.Error(), "FFMPEG_PATH") {
		t.Fatalf("Preparer error = %v, want FFMPEG_PATH configuration error", err)
	}
	set.SetPreparer(fakePreparer{}, "FFMPEG_PATH")
	if _, err := set.Preparer(); err != nil {
		t.Fatalf("Preparer error: %v", err)
	}
}
