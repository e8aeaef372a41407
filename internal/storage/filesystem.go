package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps job artifacts on the local filesystem, one directory per job.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve base path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: abs}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Workspace returns the directory owned by one job, creating it when needed.
func (s *FileStore) Workspace(jobID string) (*Workspace, error) {
	if s == nil {
		return nil, errors.New("storage: no store configured")
	}
	key, err := sanitizeKey(jobID)
	if err != nil {
		return nil, err
	}
	if strings.Contains(key, "/") {
		return nil, fmt.Errorf("storage: job id %q must be a single path segment", jobID)
	}
	dir := filepath.Join(s.basePath, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure workspace: %w", err)
	}
	return &Workspace{jobID: key, dir: dir}, nil
}

// OpenWorkspace returns an existing job directory without creating it.
func (s *FileStore) OpenWorkspace(jobID string) (*Workspace, error) {
	if s == nil {
		return nil, errors.New("storage: no store configured")
	}
	key, err := sanitizeKey(jobID)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(s.basePath, key)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("storage: workspace %s: %w", key, os.ErrNotExist)
		}
		return nil, fmt.Errorf("storage: stat workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: workspace %s is not a directory", key)
	}
	return &Workspace{jobID: key, dir: dir}, nil
}

// Workspace is the job-scoped directory every stage writes into.
type Workspace struct {
	jobID string
	dir   string
}

// JobID returns the owning job id.
func (w *Workspace) JobID() string { return w.jobID }

// Dir returns the absolute workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// Path resolves key inside the workspace and ensures its parent directory exists.
func (w *Workspace) Path(key string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(w.dir, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	return fullPath, nil
}

// Write persists data at key and returns the absolute path.
func (w *Workspace) Write(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fullPath, err := w.Path(key)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	return fullPath, nil
}

// WriteFrom streams r to key and returns the absolute path and byte count. A partial
// file is removed on failure.
func (w *Workspace) WriteFrom(ctx context.Context, key string, r io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	fullPath, err := w.Path(key)
	if err != nil {
		return "", 0, err
	}
	f, err := os.Create(fullPath)
	if err != nil {
		return "", 0, fmt.Errorf("storage: create file: %w", err)
	}
	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(fullPath)
		if copyErr != nil {
			return "", 0, fmt.Errorf("storage: write file: %w", copyErr)
		}
		return "", 0, fmt.Errorf("storage: close file: %w", closeErr)
	}
	return fullPath, n, nil
}

// Rel returns path relative to the workspace, using forward slashes.
func (w *Workspace) Rel(path string) (string, error) {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return "", fmt.Errorf("storage: relative path: %w", err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("storage: %s is outside the workspace", path)
	}
	return rel, nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
