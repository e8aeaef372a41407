// Package handlers serves the job API: submit, poll, download and the provider catalog.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"genpipe/internal/catalog"
	"genpipe/internal/domain"
	"genpipe/internal/infra"
	"genpipe/internal/options"
	"genpipe/internal/storage"
)

// Submitter records validated options as a queued job.
type Submitter interface {
	Submit(ctx context.Context, opts *options.JobOptions) (*domain.Job, error)
}

// Catalog lists the registry entries of a capability.
type Catalog interface {
	Descriptors(c domain.Capability) []catalog.ProviderDescriptor
}

// App carries the collaborators every handler needs.
type App struct {
	Jobs      domain.JobStore
	Submitter Submitter
	Validator *options.Validator
	Catalog   Catalog
	Artifacts *storage.FileStore
	Logger    *infra.Logger
	// MaxBodyBytes caps request bodies; zero means 1 MiB.
	MaxBodyBytes int64
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, errorResponse{Error: kind, Message: message})
}

func (a *App) logger() *infra.Logger {
	return infra.OrNop(a.Logger)
}
