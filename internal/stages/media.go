package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"genpipe/internal/capability"
	"genpipe/internal/domain"
	"genpipe/internal/options"
	"genpipe/internal/pipeline"
	"genpipe/internal/storage"
)

const segmentDir = "segments"

type prepareHandler struct{ d *Deps }

func (h *prepareHandler) Run(ctx context.Context, in pipeline.StageInput) (*pipeline.StageResult, error) {
	preparer, err := h.d.Set.Preparer()
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	input, fetched, err := localSource(ctx, h.d, in)
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	result := &pipeline.StageResult{}
	if fetched != nil {
		result.Artifacts = append(result.Artifacts, *fetched)
	}
	in.Progress.Update(ctx, 10, "Converting "+filepath.Base(input))

	outDir := filepath.Join(in.Workspace.Dir(), segmentDir)
	segments, err := bounded(ctx, h.d, in.Stage.Name, func(ctx context.Context) ([]capability.Segment, error) {
		return preparer.Prepare(ctx, capability.PrepareRequest{
			InputPath:      input,
			OutputDir:      outDir,
			SegmentSeconds: h.d.SegmentSeconds,
		})
	})
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	if len(segments) == 0 {
		return nil, in.Progress.Error(ctx, fmt.Errorf("no audio segments produced"))
	}

	var total int64
	for _, seg := range segments {
		rel, err := in.Workspace.Rel(seg.Path)
		if err != nil {
			return nil, in.Progress.Error(ctx, err)
		}
		a, err := in.Workspace.Stat(storage.Artifact{
			Stage: in.Stage.Name,
			Kind:  KindSegment,
			Path:  rel,
			MIME:  "audio/wav",
			Index: seg.Index,
		})
		if err != nil {
			return nil, in.Progress.Error(ctx, err)
		}
		total += a.Bytes
		result.Artifacts = append(result.Artifacts, a)
	}
	in.Progress.Update(ctx, 100, fmt.Sprintf("Prepared %d segments (%s)", len(segments), humanize.Bytes(uint64(total))))
	return result, nil
}

type transcriptionHandler struct{ d *Deps }

func (h *transcriptionHandler) Run(ctx context.Context, in pipeline.StageInput) (*pipeline.StageResult, error) {
	sel := in.Options.Transcription
	if sel == nil {
		sel = &options.TranscriptionOptions{}
	}
	transcriber, err := h.d.Set.Transcriber(sel.Service)
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	segments := segmentsOf(in)
	if len(segments) == 0 {
		return nil, in.Progress.Error(ctx, fmt.Errorf("no audio segments to transcribe"))
	}

	texts := make([]string, len(segments))
	total := len(segments)
	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.d.SubStepConcurrency)
	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			path, err := in.Workspace.Path(seg.Path)
			if err != nil {
				return err
			}
			tr, err := bounded(gctx, h.d, in.Stage.Name, func(ctx context.Context) (*capability.Transcript, error) {
				return transcriber.Transcribe(ctx, capability.TranscribeRequest{
					AudioPath:     path,
					Model:         sel.Model,
					Language:      in.Options.Language,
					SpeakerLabels: sel.SpeakerLabels,
				})
			})
			if err != nil {
				return fmt.Errorf("segment %d: %w", seg.Index, err)
			}
			texts[i] = tr.Text

			mu.Lock()
			done++
			n := done
			mu.Unlock()
			in.Progress.SubStep(ctx, n, total, "Segment", "")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, in.Progress.Error(ctx, err)
	}

	var parts []string
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return nil, in.Progress.Error(ctx, &domain.ProviderError{Provider: sel.Service, Detail: "transcript is empty"})
	}
	a, err := writeArtifact(ctx, in, "transcript.txt", KindSourceText, "text/plain", 0, []byte(strings.Join(parts, "\n\n")+"\n"))
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	return &pipeline.StageResult{Artifacts: []storage.Artifact{a}}, nil
}

// segmentsOf returns the prepared segments in index order.
func segmentsOf(in pipeline.StageInput) []storage.Artifact {
	var out []storage.Artifact
	collect := func(r *pipeline.StageResult) {
		if r == nil {
			return
		}
		for _, a := range r.Artifacts {
			if a.Kind == KindSegment {
				out = append(out, a)
			}
		}
	}
	collect(in.Prev)
	if len(out) == 0 {
		collect(in.History[pipeline.StagePrepare])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

type extractionHandler struct{ d *Deps }

func (h *extractionHandler) Run(ctx context.Context, in pipeline.StageInput) (*pipeline.StageResult, error) {
	service := ""
	if s := in.Options.Section(domain.CapabilityExtraction); s != nil {
		service = s.Service
	}
	extractor, err := h.d.Set.Extractor(service)
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	input, fetched, err := localSource(ctx, h.d, in)
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	var size uint64
	if info, err := os.Stat(input); err == nil {
		size = uint64(info.Size())
	}
	in.Progress.Update(ctx, 10, fmt.Sprintf("Reading %s (%s)", filepath.Base(input), humanize.Bytes(size)))

	res, err := bounded(ctx, h.d, in.Stage.Name, func(ctx context.Context) (*capability.ExtractResult, error) {
		return extractor.Extract(ctx, capability.ExtractRequest{Path: input})
	})
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	a, err := writeArtifact(ctx, in, "document.txt", KindSourceText, "text/plain", 0, []byte(res.Text+"\n"))
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	result := &pipeline.StageResult{Artifacts: []storage.Artifact{a}}
	if fetched != nil {
		result.Artifacts = append([]storage.Artifact{*fetched}, result.Artifacts...)
	}
	in.Progress.Update(ctx, 100, fmt.Sprintf("Extracted %s pages of text", humanize.Comma(int64(res.Pages))))
	return result, nil
}
