package stages

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"genpipe/internal/capability"
	"genpipe/internal/options"
	"genpipe/internal/pipeline"
	"genpipe/internal/storage"
)

const (
	maxSpeechRunes  = 4000
	maxPromptRunes  = 1000
	defaultMusicLen = 30 * time.Second
	defaultVideoLen = 8 * time.Second
	defaultAspect   = "16:9"
)

type speechHandler struct{ d *Deps }

func (h *speechHandler) Run(ctx context.Context, in pipeline.StageInput) (*pipeline.StageResult, error) {
	sel := in.Options.Speech
	if sel == nil {
		sel = &options.SpeechOptions{}
	}
	synth, err := h.d.Set.SpeechSynthesizer(sel.Service)
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	notes, err := showNotes(in)
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	script := clip(joinNonBlank(". ", notes.Title, notes.Summary), maxSpeechRunes)
	in.Progress.Update(ctx, 10, fmt.Sprintf("Synthesizing %s characters", humanize.Comma(int64(len([]rune(script))))))

	media, err := bounded(ctx, h.d, in.Stage.Name, func(ctx context.Context) (*capability.Media, error) {
		return synth.Synthesize(ctx, capability.SpeechRequest{Model: sel.Model, Voice: sel.Voice, Text: script})
	})
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	return single(ctx, in, "speech", KindSpeech, media, "mp3")
}

type imageHandler struct{ d *Deps }

func (h *imageHandler) Run(ctx context.Context, in pipeline.StageInput) (*pipeline.StageResult, error) {
	sel := in.Options.Image
	if sel == nil {
		sel = &options.ImageOptions{}
	}
	gen, err := h.d.Set.ImageGenerator(sel.Service)
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	notes, err := showNotes(in)
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	prompts := notes.ImagePrompts
	if limit := imagePromptCount(in.Options); len(prompts) > limit {
		prompts = prompts[:limit]
	}
	if len(prompts) == 0 {
		prompts = []string{"Cover art for: " + clip(firstNonBlank(notes.Title, notes.Summary), maxPromptRunes)}
	}

	artifacts := make([]storage.Artifact, len(prompts))
	total := len(prompts)
	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.d.SubStepConcurrency)
	for i, prompt := range prompts {
		i, prompt := i, prompt
		g.Go(func() error {
			media, err := bounded(gctx, h.d, in.Stage.Name, func(ctx context.Context) (*capability.Media, error) {
				return gen.GenerateImage(ctx, capability.ImageRequest{Model: sel.Model, Prompt: clip(prompt, maxPromptRunes), Size: sel.Size})
			})
			if err != nil {
				return fmt.Errorf("image %d: %w", i+1, err)
			}
			if media == nil || len(media.Data) == 0 {
				return fmt.Errorf("image %d: provider returned no data", i+1)
			}
			key := fmt.Sprintf("images/image_%02d.%s", i+1, extFor(media.MIME, "png"))
			a, err := writeArtifact(gctx, in, key, KindImage, media.MIME, i, media.Data)
			if err != nil {
				return err
			}
			artifacts[i] = a

			mu.Lock()
			done++
			n := done
			mu.Unlock()
			in.Progress.SubStep(ctx, n, total, "Image", "")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	return &pipeline.StageResult{Artifacts: artifacts}, nil
}

type musicHandler struct{ d *Deps }

func (h *musicHandler) Run(ctx context.Context, in pipeline.StageInput) (*pipeline.StageResult, error) {
	sel := in.Options.Music
	if sel == nil {
		sel = &options.MusicOptions{}
	}
	gen, err := h.d.Set.MusicGenerator(sel.Service)
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	prompt := strings.TrimSpace(sel.Prompt)
	if prompt == "" {
		notes, err := showNotes(in)
		if err != nil {
			return nil, in.Progress.Error(ctx, err)
		}
		prompt = "Instrumental background music for: " + clip(firstNonBlank(notes.Title, notes.Summary), maxPromptRunes)
	}
	length := defaultMusicLen
	if sel.DurationSeconds > 0 {
		length = time.Duration(sel.DurationSeconds) * time.Second
	}
	in.Progress.Update(ctx, 10, "Composing "+length.String()+" track")

	media, err := bounded(ctx, h.d, in.Stage.Name, func(ctx context.Context) (*capability.Media, error) {
		return gen.GenerateMusic(ctx, capability.MusicRequest{Model: sel.Model, Prompt: prompt, Duration: length})
	})
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	return single(ctx, in, "music", KindMusic, media, "mp3")
}

type videoHandler struct{ d *Deps }

func (h *videoHandler) Run(ctx context.Context, in pipeline.StageInput) (*pipeline.StageResult, error) {
	sel := in.Options.Video
	if sel == nil {
		sel = &options.VideoOptions{}
	}
	gen, err := h.d.Set.VideoGenerator(sel.Service)
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	notes, err := showNotes(in)
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	aspect := firstNonBlank(sel.AspectRatio, defaultAspect)
	length := defaultVideoLen
	if sel.DurationSeconds > 0 {
		length = time.Duration(sel.DurationSeconds) * time.Second
	}
	prompt := "A short cinematic clip illustrating: " + clip(firstNonBlank(notes.Summary, notes.Title), maxPromptRunes)
	in.Progress.Update(ctx, 10, "Rendering "+length.String()+" clip")

	media, err := bounded(ctx, h.d, in.Stage.Name, func(ctx context.Context) (*capability.Media, error) {
		return gen.GenerateVideo(ctx, capability.VideoRequest{Model: sel.Model, Prompt: prompt, AspectRatio: aspect, Duration: length})
	})
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	return single(ctx, in, "video", KindVideo, media, "mp4")
}

// single writes one media artifact named base.<ext>.
func single(ctx context.Context, in pipeline.StageInput, base, kind string, media *capability.Media, fallbackExt string) (*pipeline.StageResult, error) {
	if media == nil || len(media.Data) == 0 {
		return nil, in.Progress.Error(ctx, fmt.Errorf("%s: provider returned no data", base))
	}
	key := base + "." + extFor(media.MIME, fallbackExt)
	a, err := writeArtifact(ctx, in, key, kind, media.MIME, 0, media.Data)
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	in.Progress.Update(ctx, 100, fmt.Sprintf("Saved %s (%s)", key, humanize.Bytes(uint64(a.Bytes))))
	return &pipeline.StageResult{Artifacts: []storage.Artifact{a}}, nil
}

func joinNonBlank(sep string, values ...string) string {
	var parts []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, sep)
}
