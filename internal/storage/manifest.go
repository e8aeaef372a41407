package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// ManifestFile is the name of the manifest written at job completion.
const ManifestFile = "manifest.json"

// Artifact references one file a stage produced. Stages pass these, never raw bytes.
type Artifact struct {
	Stage string `json:"stage"`
	Kind  string `json:"kind"`
	// Path is relative to the job workspace.
	Path  string `json:"path"`
	MIME  string `json:"mime"`
	Bytes int64  `json:"bytes"`
	// Index orders artifacts of the same kind, e.g. transcript segments or images.
	Index int `json:"index,omitempty"`
}

// Manifest lists everything a completed job produced. OutputID is the job's outputId.
type Manifest struct {
	OutputID  string     `json:"outputId"`
	JobID     string     `json:"jobId"`
	CreatedAt time.Time  `json:"createdAt"`
	Artifacts []Artifact `json:"artifacts"`
}

// NewManifest assigns a fresh output id.
func NewManifest(jobID string, artifacts []Artifact) Manifest {
	return Manifest{
		OutputID:  uuid.NewString(),
		JobID:     jobID,
		CreatedAt: time.Now().UTC(),
		Artifacts: append([]Artifact(nil), artifacts...),
	}
}

// Stat fills Bytes from the file on disk.
func (w *Workspace) Stat(a Artifact) (Artifact, error) {
	fullPath, err := w.Path(a.Path)
	if err != nil {
		return a, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		return a, fmt.Errorf("storage: stat artifact: %w", err)
	}
	a.Bytes = info.Size()
	return a, nil
}

// WriteManifest stores m as manifest.json in the workspace.
func (w *Workspace) WriteManifest(ctx context.Context, m Manifest) error {
	if m.OutputID == "" {
		return errors.New("storage: manifest output id is required")
	}
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode manifest: %w", err)
	}
	_, err = w.Write(ctx, ManifestFile, raw)
	return err
}

// ReadManifest loads manifest.json from the workspace.
func (w *Workspace) ReadManifest() (Manifest, error) {
	var m Manifest
	fullPath, err := w.Path(ManifestFile)
	if err != nil {
		return m, err
	}
	raw, err := os.ReadFile(fullPath)
	if err != nil {
		return m, fmt.Errorf("storage: read manifest: %w", err)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("storage: decode manifest: %w", err)
	}
	return m, nil
}
