package catalog

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genpipe/internal/domain"
)

func TestDefaultCatalogLoads(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	for _, c := range domain.Capabilities() {
		assert.NotEmpty(t, reg.Services(c), "capability %s has no services", c)
	}
}

func TestModelsForKeepsDeclarationOrder(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, []string{"gpt-4o-mini", "gpt-4o", "gpt-4.1"}, reg.ModelsFor(domain.CapabilityText, "openai"))
	assert.Equal(t, []string{"openai", "gemini", "qwen"}, reg.Services(domain.CapabilityImage))

	model, ok := reg.DefaultModel(domain.CapabilityTranscription, "assemblyai")
	require.True(t, ok)
	assert.Equal(t, "best", model)

	svc, ok := reg.DefaultService(domain.CapabilitySpeech)
	require.True(t, ok)
	assert.Equal(t, "openai", svc)
}

func TestIsValidModel(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	tests := []struct {
		name       string
		capability domain.Capability
		service    string
		model      string
		want       bool
	}{
		{"known", domain.CapabilityImage, "qwen", "qwen-image", true},
		{"wrong service", domain.CapabilityImage, "elevenlabs", "qwen-image", false},
		{"wrong capability", domain.CapabilityMusic, "openai", "gpt-4o", false},
		{"unknown model", domain.CapabilityText, "gemini", "gemini-0", false},
		{"unknown capability", domain.Capability("hologram"), "openai", "gpt-4o", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reg.IsValidModel(tt.capability, tt.service, tt.model))
		})
	}
}

func TestDescribe(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	d, ok := reg.Describe(domain.CapabilityVideo, "gemini", "veo-3.0-generate-001")
	require.True(t, ok)
	assert.Equal(t, "Veo 3", d.DisplayName)
	assert.Equal(t, "second", d.CostHint.Unit)

	_, ok = reg.Describe(domain.CapabilityVideo, "gemini", "veo-9")
	assert.False(t, ok)
	assert.Nil(t, reg.ModelsFor(domain.CapabilityVideo, "openai"))
}

func TestParseRejectsBadCatalogs(t *testing.T) {
	cases := map[string]string{
		"unknown capability": `
capabilities:
  - name: smell
    services:
      - id: x
        models: [{id: m}]`,
		"no models": `
capabilities:
  - name: text
    services:
      - id: openai`,
		"duplicate model": `
capabilities:
  - name: text
    services:
      - id: openai
        models: [{id: a}, {id: a}]`,
		"duplicate service": `
capabilities:
  - name: text
    services:
      - id: openai
        models: [{id: a}]
      - id: openai
        models: [{id: b}]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestRegistryConcurrentReads(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, c := range domain.Capabilities() {
				for _, s := range reg.Services(c) {
					_ = reg.ModelsFor(c, s)
				}
			}
		}()
	}
	wg.Wait()
}
