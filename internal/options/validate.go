package options

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/language"

	"genpipe/internal/domain"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "job-options.json"

// Registry is the slice of the provider catalog used while validating.
type Registry interface {
	DefaultService(c domain.Capability) (string, bool)
	DefaultModel(c domain.Capability, serviceID string) (string, bool)
	IsValidModel(c domain.Capability, serviceID, modelID string) bool
	Services(c domain.Capability) []string
}

// DocumentExtensions are the document formats the extraction stage reads.
var DocumentExtensions = map[string]bool{
	".pdf":      true,
	".txt":      true,
	".md":       true,
	".markdown": true,
}

// Validator turns raw request bodies into normalized JobOptions.
type Validator struct {
	schema   *jsonschema.Schema
	registry Registry
}

// NewValidator compiles the embedded schema.
func NewValidator(registry Registry) (*Validator, error) {
	if registry == nil {
		return nil, errors.New("options: registry is required")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("options: add schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("options: compile schema: %w", err)
	}
	return &Validator{schema: schema, registry: registry}, nil
}

// Validate checks raw against the schema and the registry and fills defaults.
// Every failure is a *domain.ValidationError.
func (v *Validator) Validate(raw []byte) (*JobOptions, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, domain.Invalid("", "request body is not valid JSON: %v", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return nil, schemaError(err)
	}

	var opts JobOptions
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, domain.Invalid("", "decode options: %v", err)
	}
	if err := v.normalize(&opts); err != nil {
		return nil, err
	}
	return &opts, nil
}

func (v *Validator) normalize(o *JobOptions) error {
	if !o.Source.Type.Valid() {
		return domain.Invalid("source.type", "unsupported source type %q", o.Source.Type)
	}
	o.Source.Path = strings.TrimSpace(o.Source.Path)
	o.Source.URL = strings.TrimSpace(o.Source.URL)
	if o.Source.Type == domain.SourceDocument && o.Source.Path != "" {
		ext := strings.ToLower(filepath.Ext(o.Source.Path))
		if !DocumentExtensions[ext] {
			return domain.Invalid("source.path", "unsupported document format %q", ext)
		}
	}
	o.Title = strings.TrimSpace(o.Title)

	lang := strings.TrimSpace(o.Language)
	if lang == "" {
		lang = "en"
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return domain.Invalid("language", "%q is not a BCP 47 language tag", o.Language)
	}
	o.Language = tag.String()

	// Sections the source type never runs are dropped so InputData reflects what executes.
	if o.Source.Type == domain.SourceDocument {
		o.Transcription = nil
	} else {
		o.Extraction = nil
	}

	for _, c := range RequiredCapabilities(o.Source.Type) {
		ensureSection(o, c)
		o.Section(c).Enabled = true
	}
	for _, c := range domain.Capabilities() {
		s := o.Section(c)
		if s == nil {
			continue
		}
		if !s.Enabled {
			*s = Section{}
			continue
		}
		if err := v.resolve(c, s); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) resolve(c domain.Capability, s *Section) error {
	field := string(c)
	s.Service = strings.TrimSpace(s.Service)
	s.Model = strings.TrimSpace(s.Model)
	if s.Service == "" {
		svc, ok := v.registry.DefaultService(c)
		if !ok {
			return domain.Invalid(field, "no service is registered for %s", c)
		}
		s.Service = svc
	}
	if s.Model == "" {
		model, ok := v.registry.DefaultModel(c, s.Service)
		if !ok {
			return domain.Invalid(field+".service", "unknown service %q (available: %s)",
				s.Service, strings.Join(v.registry.Services(c), ", "))
		}
		s.Model = model
	}
	if !v.registry.IsValidModel(c, s.Service, s.Model) {
		return domain.Invalid(field+".model", "model %q is not offered by %s for %s", s.Model, s.Service, c)
	}
	return nil
}

func ensureSection(o *JobOptions, c domain.Capability) {
	if o.Section(c) != nil {
		return
	}
	switch c {
	case domain.CapabilityExtraction:
		o.Extraction = &ExtractionOptions{}
	case domain.CapabilityTranscription:
		o.Transcription = &TranscriptionOptions{}
	case domain.CapabilityText:
		o.Text = &TextOptions{}
	}
}

func schemaError(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return domain.Invalid("", "%v", err)
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	field := strings.Trim(strings.ReplaceAll(leaf.InstanceLocation, "/", "."), ".")
	return &domain.ValidationError{Field: field, Reason: leaf.Message}
}
