package capability

import (
	"fmt"
	"sort"

	"genpipe/internal/domain"
)

type entry struct {
	impl any
	// key is the configuration key that enables impl, reported when it is missing.
	key string
}

// Set dispatches (capability, service) to a provider client. It is built once at
// startup and only read afterwards.
type Set struct {
	entries     map[domain.Capability]map[string]entry
	preparer    MediaPreparer
	preparerKey string
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{entries: make(map[domain.Capability]map[string]entry)}
}

// Register binds impl to (c, service). key names the setting that configures impl.
// impl must implement the interface of c.
func (s *Set) Register(c domain.Capability, service, key string, impl any) error {
	if !implements(c, impl) {
		return fmt.Errorf("capability: %T does not implement %s", impl, c)
	}
	if s.entries[c] == nil {
		s.entries[c] = make(map[string]entry)
	}
	s.entries[c][service] = entry{impl: impl, key: key}
	return nil
}

// MustRegister is Register for wiring code where a mismatch is a programming error.
func (s *Set) MustRegister(c domain.Capability, service, key string, impl any) {
	if err := s.Register(c, service, key, impl); err != nil {
		panic(err)
	}
}

// SetPreparer installs the media preparer; key names its setting.
func (s *Set) SetPreparer(p MediaPreparer, key string) {
	s.preparer = p
	s.preparerKey = key
}

func (s *Set) Extractor(service string) (Extractor, error) {
	return lookup[Extractor](s, domain.CapabilityExtraction, service)
}

func (s *Set) Transcriber(service string) (Transcriber, error) {
	return lookup[Transcriber](s, domain.CapabilityTranscription, service)
}

func (s *Set) TextGenerator(service string) (TextGenerator, error) {
	return lookup[TextGenerator](s, domain.CapabilityText, service)
}

func (s *Set) SpeechSynthesizer(service string) (SpeechSynthesizer, error) {
	return lookup[SpeechSynthesizer](s, domain.CapabilitySpeech, service)
}

func (s *Set) ImageGenerator(service string) (ImageGenerator, error) {
	return lookup[ImageGenerator](s, domain.CapabilityImage, service)
}

func (s *Set) MusicGenerator(service string) (MusicGenerator, error) {
	return lookup[MusicGenerator](s, domain.CapabilityMusic, service)
}

func (s *Set) VideoGenerator(service string) (VideoGenerator, error) {
	return lookup[VideoGenerator](s, domain.CapabilityVideo, service)
}

// Preparer returns the media preparer or a ConfigurationError naming its setting.
func (s *Set) Preparer() (MediaPreparer, error) {
	key := s.preparerKey
	if key == "" {
		key = "FFMPEG_PATH"
	}
	if s.preparer == nil {
		return nil, &domain.ConfigurationError{Stage: "prepare", Key: key}
	}
	if c, ok := s.preparer.(Credentialed); ok && !c.HasCredentials() {
		return nil, &domain.ConfigurationError{Stage: "prepare", Key: key}
	}
	return s.preparer, nil
}

// Unconfigured lists "capability/service (KEY)" for every registered client that
// lacks credentials, sorted.
func (s *Set) Unconfigured() []string {
	var out []string
	for c, services := range s.entries {
		for service, e := range services {
			if cred, ok := e.impl.(Credentialed); ok && !cred.HasCredentials() {
				out = append(out, fmt.Sprintf("%s/%s (%s)", c, service, e.key))
			}
		}
	}
	sort.Strings(out)
	return out
}

func lookup[T any](s *Set, c domain.Capability, service string) (T, error) {
	var zero T
	e, ok := s.entries[c][service]
	if !ok {
		return zero, &domain.ConfigurationError{Stage: string(c), Key: fmt.Sprintf("%s provider %q", c, service)}
	}
	if cred, ok := e.impl.(Credentialed); ok && !cred.HasCredentials() {
		return zero, &domain.ConfigurationError{Stage: string(c), Key: e.key}
	}
	impl, ok := e.impl.(T)
	if !ok {
		return zero, fmt.Errorf("capability: %s/%s registered as %T", c, service, e.impl)
	}
	return impl, nil
}

func implements(c domain.Capability, impl any) bool {
	switch c {
	case domain.CapabilityExtraction:
		_, ok := impl.(Extractor)
		return ok
	case domain.CapabilityTranscription:
		_, ok := impl.(Transcriber)
		return ok
	case domain.CapabilityText:
		_, ok := impl.(TextGenerator)
		return ok
	case domain.CapabilitySpeech:
		_, ok := impl.(SpeechSynthesizer)
		return ok
	case domain.CapabilityImage:
		_, ok := impl.(ImageGenerator)
		return ok
	case domain.CapabilityMusic:
		_, ok := impl.(MusicGenerator)
		return ok
	case domain.CapabilityVideo:
		_, ok := impl.(VideoGenerator)
		return ok
	default:
		return false
	}
}
