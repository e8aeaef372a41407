// Package catalog is the static provider registry: which services serve each
// capability and which models each service offers. It never touches the network.
package catalog

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"genpipe/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// CostHint is an indicative list price.
type CostHint struct {
	Unit string  `yaml:"unit" json:"unit"`
	USD  float64 `yaml:"usd" json:"usd"`
}

// ProviderDescriptor describes one (capability, service, model) entry.
type ProviderDescriptor struct {
	Capability  domain.Capability `json:"capability"`
	ServiceID   string            `json:"serviceId"`
	ModelID     string            `json:"modelId"`
	DisplayName string            `json:"displayName"`
	CostHint    CostHint          `json:"costHint"`
}

type fileModel struct {
	ID          string   `yaml:"id"`
	DisplayName string   `yaml:"display_name"`
	Cost        CostHint `yaml:"cost"`
}

type fileService struct {
	ID     string      `yaml:"id"`
	Models []fileModel `yaml:"models"`
}

type fileCapability struct {
	Name     string        `yaml:"name"`
	Services []fileService `yaml:"services"`
}

type file struct {
	Capabilities []fileCapability `yaml:"capabilities"`
}

type service struct {
	id     string
	models []ProviderDescriptor
}

// Registry is immutable after Parse and safe for concurrent use.
type Registry struct {
	services map[domain.Capability][]service
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
	defaultErr  error
)

// Default returns the registry built from the embedded catalog.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultReg, defaultErr = Parse(defaultCatalog)
	})
	return defaultReg, defaultErr
}

// Parse builds a registry from YAML, keeping declaration order.
func Parse(raw []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	reg := &Registry{services: make(map[domain.Capability][]service)}
	for _, c := range f.Capabilities {
		capability := domain.Capability(strings.TrimSpace(c.Name))
		if !capability.Valid() {
			return nil, fmt.Errorf("catalog: unknown capability %q", c.Name)
		}
		if _, dup := reg.services[capability]; dup {
			return nil, fmt.Errorf("catalog: capability %q declared twice", capability)
		}
		seenSvc := make(map[string]bool)
		var services []service
		for _, s := range c.Services {
			id := strings.TrimSpace(s.ID)
			if id == "" {
				return nil, fmt.Errorf("catalog: %s: empty service id", capability)
			}
			if seenSvc[id] {
				return nil, fmt.Errorf("catalog: %s: service %q declared twice", capability, id)
			}
			seenSvc[id] = true
			if len(s.Models) == 0 {
				return nil, fmt.Errorf("catalog: %s/%s: no models", capability, id)
			}
			seenModel := make(map[string]bool)
			svc := service{id: id}
			for _, m := range s.Models {
				modelID := strings.TrimSpace(m.ID)
				if modelID == "" || seenModel[modelID] {
					return nil, fmt.Errorf("catalog: %s/%s: empty or duplicate model %q", capability, id, m.ID)
				}
				seenModel[modelID] = true
				name := m.DisplayName
				if name == "" {
					name = modelID
				}
				svc.models = append(svc.models, ProviderDescriptor{
					Capability:  capability,
					ServiceID:   id,
					ModelID:     modelID,
					DisplayName: name,
					CostHint:    m.Cost,
				})
			}
			services = append(services, svc)
		}
		reg.services[capability] = services
	}
	return reg, nil
}

// Services lists the service ids for a capability in declaration order. The first is the default.
func (r *Registry) Services(capability domain.Capability) []string {
	svcs := r.services[capability]
	out := make([]string, 0, len(svcs))
	for _, s := range svcs {
		out = append(out, s.id)
	}
	return out
}

// DefaultService returns the first declared service for a capability.
func (r *Registry) DefaultService(capability domain.Capability) (string, bool) {
	svcs := r.services[capability]
	if len(svcs) == 0 {
		return "", false
	}
	return svcs[0].id, true
}

// ModelsFor lists model ids in declaration order; nil when the pair is unknown.
func (r *Registry) ModelsFor(capability domain.Capability, serviceID string) []string {
	svc, ok := r.lookup(capability, serviceID)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(svc.models))
	for _, m := range svc.models {
		out = append(out, m.ModelID)
	}
	return out
}

// DefaultModel returns the first declared model for the pair.
func (r *Registry) DefaultModel(capability domain.Capability, serviceID string) (string, bool) {
	svc, ok := r.lookup(capability, serviceID)
	if !ok {
		return "", false
	}
	return svc.models[0].ModelID, true
}

// IsValidModel reports whether modelID is offered by serviceID for capability.
func (r *Registry) IsValidModel(capability domain.Capability, serviceID, modelID string) bool {
	_, ok := r.Describe(capability, serviceID, modelID)
	return ok
}

// Describe returns the descriptor for one model.
func (r *Registry) Describe(capability domain.Capability, serviceID, modelID string) (ProviderDescriptor, bool) {
	svc, ok := r.lookup(capability, serviceID)
	if !ok {
		return ProviderDescriptor{}, false
	}
	for _, m := range svc.models {
		if m.ModelID == modelID {
			return m, true
		}
	}
	return ProviderDescriptor{}, false
}

// Descriptors lists every model of a capability, services and models in declaration order.
func (r *Registry) Descriptors(capability domain.Capability) []ProviderDescriptor {
	var out []ProviderDescriptor
	for _, s := range r.services[capability] {
		out = append(out, s.models...)
	}
	return out
}

func (r *Registry) lookup(capability domain.Capability, serviceID string) (service, bool) {
	for _, s := range r.services[capability] {
		if s.id == serviceID {
			return s, true
		}
	}
	return service{}, false
}
