package stages

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"regexp"

	"github.com/dustin/go-humanize"

	"genpipe/internal/pipeline"
	"genpipe/internal/storage"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// localSource returns a readable path for the job source, downloading it into the
// workspace first when the job names a URL.
func localSource(ctx context.Context, d *Deps, in pipeline.StageInput) (string, *storage.Artifact, error) {
	src := in.Options.Source
	if src.Path != "" {
		if _, err := os.Stat(src.Path); err != nil {
			return "", nil, fmt.Errorf("source %s: %w", src.Path, err)
		}
		return src.Path, nil, nil
	}
	if src.URL == "" {
		return "", nil, fmt.Errorf("source has neither path nor url")
	}
	u, err := url.Parse(src.URL)
	if err != nil {
		return "", nil, fmt.Errorf("source url: %w", err)
	}
	name := unsafeName.ReplaceAllString(path.Base(u.Path), "_")
	if name == "" || name == "." || name == "_" || name == ".." {
		name = "source"
	}
	key := "source/" + name

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("source url: %w", err)
	}
	resp, err := d.HTTP.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("fetch source: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil, fmt.Errorf("fetch source: status %d", resp.StatusCode)
	}
	full, n, err := in.Workspace.WriteFrom(ctx, key, resp.Body)
	if err != nil {
		return "", nil, err
	}
	d.Logger.Info().Str("job_id", in.JobID).Str("url", src.URL).Str("size", humanize.Bytes(uint64(n))).Msg("source fetched")
	return full, &storage.Artifact{
		Stage: in.Stage.Name,
		Kind:  KindSource,
		Path:  key,
		MIME:  resp.Header.Get("Content-Type"),
		Bytes: n,
	}, nil
}
