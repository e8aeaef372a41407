package app

import (
	"fmt"

	"genpipe/internal/capability"
	"genpipe/internal/domain"
	"genpipe/internal/infra"
	"genpipe/internal/providers/assemblyai"
	"genpipe/internal/providers/elevenlabs"
	"genpipe/internal/providers/ffmpeg"
	"genpipe/internal/providers/genai"
	"genpipe/internal/providers/openai"
	"genpipe/internal/providers/pdftext"
	"genpipe/internal/providers/qwen"
)

// Service ids as declared in the provider catalog.
const (
	serviceLocal      = "local"
	serviceOpenAI     = "openai"
	serviceGemini     = "gemini"
	serviceQwen       = "qwen"
	serviceElevenLabs = "elevenlabs"
	serviceAssemblyAI = "assemblyai"
)

// NewCapabilitySet builds one client per provider and registers it under every
// capability it serves. Clients without credentials are still registered so that a
// stage selecting them fails with a ConfigurationError naming the missing key.
func NewCapabilitySet(cfg *infra.Config, logger *infra.Logger) (*capability.Set, error) {
	logger = infra.OrNop(logger)
	child := func(service string) *infra.Logger {
		l := logger.With().Str("service", service).Logger()
		return &l
	}

	oa, err := openai.NewClient(openai.Options{
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		Organization: cfg.OpenAIOrg,
		Retries:      cfg.ProviderRetries,
		Logger:       child(serviceOpenAI),
	})
	if err != nil {
		return nil, fmt.Errorf("app: openai client: %w", err)
	}
	gem, err := genai.NewClient(genai.Options{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Retries: cfg.ProviderRetries,
		Logger:  child(serviceGemini),
	})
	if err != nil {
		return nil, fmt.Errorf("app: gemini client: %w", err)
	}
	qw, err := qwen.NewClient(qwen.Options{
		APIKey:  cfg.DashScopeAPIKey,
		BaseURL: cfg.DashScopeBaseURL,
		Retries: cfg.ProviderRetries,
		Logger:  child(serviceQwen),
	})
	if err != nil {
		return nil, fmt.Errorf("app: qwen client: %w", err)
	}
	el, err := elevenlabs.NewClient(elevenlabs.Options{
		APIKey:  cfg.ElevenLabsAPIKey,
		BaseURL: cfg.ElevenLabsBaseURL,
		Retries: cfg.ProviderRetries,
		Logger:  child(serviceElevenLabs),
	})
	if err != nil {
		return nil, fmt.Errorf("app: elevenlabs client: %w", err)
	}
	aai, err := assemblyai.NewClient(assemblyai.Options{
		APIKey: cfg.AssemblyAIAPIKey,
		Logger: child(serviceAssemblyAI),
	})
	if err != nil {
		return nil, fmt.Errorf("app: assemblyai client: %w", err)
	}

	set := capability.NewSet()
	registrations := []struct {
		capability domain.Capability
		service    string
		key        string
		impl       any
	}{
		{domain.CapabilityExtraction, serviceLocal, "", pdftext.NewExtractor(child(serviceLocal))},
		{domain.CapabilityTranscription, serviceAssemblyAI, assemblyai.CredentialKey, aai},
		{domain.CapabilityTranscription, serviceOpenAI, openai.CredentialKey, oa},
		{domain.CapabilityText, serviceOpenAI, openai.CredentialKey, oa},
		{domain.CapabilityText, serviceGemini, genai.CredentialKey, gem},
		{domain.CapabilitySpeech, serviceOpenAI, openai.CredentialKey, oa},
		{domain.CapabilitySpeech, serviceElevenLabs, elevenlabs.CredentialKey, el},
		{domain.CapabilityImage, serviceOpenAI, openai.CredentialKey, oa},
		{domain.CapabilityImage, serviceGemini, genai.CredentialKey, gem},
		{domain.CapabilityImage, serviceQwen, qwen.CredentialKey, qw},
		{domain.CapabilityMusic, serviceElevenLabs, elevenlabs.CredentialKey, el},
		{domain.CapabilityVideo, serviceGemini, genai.CredentialKey, gem},
	}
	for _, r := range registrations {
		if err := set.Register(r.capability, r.service, r.key, r.impl); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}
	set.SetPreparer(ffmpeg.NewPreparer(ffmpeg.Options{Path: cfg.FFmpegPath, Logger: child("ffmpeg")}), ffmpeg.CredentialKey)
	return set, nil
}
