package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"

	"github.com/go-chi/chi/v5"

	"genpipe/internal/domain"
	"genpipe/internal/middleware"
	"genpipe/internal/storage"
	"genpipe/pkg/zip"
)

const defaultMaxBody = 1 << 20

type createJobResponse struct {
	ID     string           `json:"id"`
	Status domain.JobStatus `json:"status"`
}

// CreateJob validates the body and queues a job. Nothing is created when validation fails.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	limit := a.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBody
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", fmt.Sprintf("body exceeds %d bytes", limit))
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "failed to read body")
		return
	}
	raw = withDefaultLanguage(raw, middleware.LanguageFromContext(r.Context()))

	opts, err := a.Validator.Validate(raw)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			a.json(w, http.StatusBadRequest, errorResponse{Error: "validation", Message: verr.Reason, Field: verr.Field})
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	job, err := a.Submitter.Submit(r.Context(), opts)
	if err != nil {
		a.logger().Error().Err(err).Str("request_id", middleware.RequestIDFromContext(r.Context())).Msg("submit job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	a.json(w, http.StatusAccepted, createJobResponse{ID: job.ID, Status: job.Status})
}

// GetJob is the single polling endpoint.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadJob(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, domain.NewJobView(job))
}

// JobArtifacts streams every artifact of a completed job as a zip.
func (a *App) JobArtifacts(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusCompleted {
		a.error(w, http.StatusConflict, "not_ready", fmt.Sprintf("job is %s", job.Status))
		return
	}
	ws, err := a.Artifacts.OpenWorkspace(job.ID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.error(w, http.StatusGone, "gone", "artifacts are no longer available")
			return
		}
		a.logger().Error().Err(err).Str("job_id", job.ID).Msg("open workspace")
		a.error(w, http.StatusInternalServerError, "internal", "failed to open artifacts")
		return
	}
	manifest, err := ws.ReadManifest()
	if err != nil {
		a.logger().Error().Err(err).Str("job_id", job.ID).Msg("read manifest")
		a.error(w, http.StatusInternalServerError, "internal", "failed to read manifest")
		return
	}
	entries, err := archiveEntries(ws, manifest)
	if err != nil {
		a.logger().Error().Err(err).Str("job_id", job.ID).Msg("resolve artifacts")
		a.error(w, http.StatusInternalServerError, "internal", "failed to resolve artifacts")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=job-%s.zip", job.ID))
	w.WriteHeader(http.StatusOK)
	if err := zip.WriteFiles(w, entries); err != nil {
		// Headers are gone; the client sees a truncated archive.
		a.logger().Error().Err(err).Str("job_id", job.ID).Msg("stream artifacts")
	}
}

func (a *App) loadJob(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	id := chi.URLParam(r, "id")
	job, err := a.Jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return nil, false
		}
		a.logger().Error().Err(err).Str("job_id", id).Msg("load job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return nil, false
	}
	return job, true
}

func archiveEntries(ws *storage.Workspace, m storage.Manifest) ([]zip.Entry, error) {
	entries := make([]zip.Entry, 0, len(m.Artifacts)+1)
	manifestPath, err := ws.Path(storage.ManifestFile)
	if err != nil {
		return nil, err
	}
	entries = append(entries, zip.Entry{Name: storage.ManifestFile, Path: manifestPath})
	for _, art := range m.Artifacts {
		p, err := ws.Path(art.Path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, zip.Entry{Name: path.Clean(art.Path), Path: p})
	}
	return entries, nil
}

// withDefaultLanguage fills "language" from the request headers when the body omits it.
// Bodies that are not JSON objects are returned unchanged for the validator to reject.
func withDefaultLanguage(raw []byte, lang string) []byte {
	if lang == "" {
		return raw
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return raw
	}
	if _, ok := doc["language"]; ok {
		return raw
	}
	encoded, err := json.Marshal(lang)
	if err != nil {
		return raw
	}
	doc["language"] = encoded
	out, err := json.Marshal(doc)
	if err != nil {
		return raw
	}
	return out
}
