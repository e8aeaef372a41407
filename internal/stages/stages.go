// Package stages holds one pipeline handler per stage name. Each handler makes
// exactly one kind of provider call through the capability set, bounded by the
// stage timeout, and reports its own failures on the job before returning them.
package stages

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"genpipe/internal/capability"
	"genpipe/internal/infra"
	"genpipe/internal/pipeline"
	"genpipe/internal/storage"
)

// Artifact kinds passed between stages.
const (
	KindSource        = "source"
	KindSegment       = "audio_segment"
	KindSourceText    = "source_text"
	KindShowNotes     = "show_notes"
	KindShowNotesHTML = "show_notes_html"
	KindSpeech        = "speech"
	KindImage         = "image"
	KindMusic         = "music"
	KindVideo         = "video"
)

// Deps are shared by every handler.
type Deps struct {
	Set                *capability.Set
	StageTimeout       time.Duration
	SegmentSeconds     int
	SubStepConcurrency int
	// HTTP fetches sources given by URL.
	HTTP   *http.Client
	Logger *infra.Logger
}

// Handlers returns the handler for every stage name either pipeline declares.
func Handlers(d Deps) map[string]pipeline.Handler {
	if d.SegmentSeconds <= 0 {
		d.SegmentSeconds = 600
	}
	if d.SubStepConcurrency < 1 {
		d.SubStepConcurrency = 1
	}
	if d.HTTP == nil {
		d.HTTP = &http.Client{}
	}
	d.Logger = infra.OrNop(d.Logger)
	deps := &d
	return map[string]pipeline.Handler{
		pipeline.StagePrepare:       &prepareHandler{deps},
		pipeline.StageExtraction:    &extractionHandler{deps},
		pipeline.StageTranscription: &transcriptionHandler{deps},
		pipeline.StageText:          &textHandler{deps},
		pipeline.StageSpeech:        &speechHandler{deps},
		pipeline.StageImage:         &imageHandler{deps},
		pipeline.StageMusic:         &musicHandler{deps},
		pipeline.StageVideo:         &videoHandler{deps},
	}
}

// bounded runs call under the stage ceiling and folds the outcome into (value, error).
func bounded[T any](ctx context.Context, d *Deps, stage string, call func(context.Context) (T, error)) (T, error) {
	return pipeline.Bounded(ctx, d.StageTimeout, stage, call).Unwrap()
}

// writeArtifact stores data at key in the job workspace and describes it.
func writeArtifact(ctx context.Context, in pipeline.StageInput, key, kind, mime string, index int, data []byte) (storage.Artifact, error) {
	if _, err := in.Workspace.Write(ctx, key, data); err != nil {
		return storage.Artifact{}, err
	}
	return storage.Artifact{
		Stage: in.Stage.Name,
		Kind:  kind,
		Path:  key,
		MIME:  mime,
		Bytes: int64(len(data)),
		Index: index,
	}, nil
}

// readArtifact loads the first earlier artifact of kind.
func readArtifact(in pipeline.StageInput, kind string) (string, error) {
	a, ok := in.Find(kind)
	if !ok {
		return "", fmt.Errorf("no %s artifact from an earlier stage", kind)
	}
	path, err := in.Workspace.Path(a.Path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", a.Path, err)
	}
	return string(data), nil
}

// extFor picks a file extension for a provider MIME type.
func extFor(mime, fallback string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0])) {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/ogg":
		return "ogg"
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "video/mp4":
		return "mp4"
	case "video/webm":
		return "webm"
	default:
		return fallback
	}
}

// clip shortens s to at most n runes on a word boundary when possible.
func clip(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	cut := string(r[:n])
	if i := strings.LastIndexAny(cut, " \n\t"); i > n/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
