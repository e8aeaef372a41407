package stages

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"genpipe/internal/capability"
	"genpipe/internal/domain"
	"genpipe/internal/options"
	"genpipe/internal/pipeline"
	"genpipe/internal/render"
	"genpipe/internal/storage"
)

const (
	// maxSourceRunes bounds how much transcript or document text one prompt carries.
	maxSourceRunes      = 120000
	defaultImagePrompts = 3
)

const systemPrompt = `You write show notes for long-form content.
Answer in markdown with exactly these sections:
# <title>
## Summary
Two or three short paragraphs.
## Chapters
A numbered list, one line per chapter.
## Image Prompts
A bulleted list of %d standalone image descriptions, one per line, no numbering inside the text.
Write in %s.%s`

type textHandler struct{ d *Deps }

func (h *textHandler) Run(ctx context.Context, in pipeline.StageInput) (*pipeline.StageResult, error) {
	sel := in.Options.Text
	if sel == nil {
		sel = &options.TextOptions{}
	}
	gen, err := h.d.Set.TextGenerator(sel.Service)
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	source, err := readArtifact(in, KindSourceText)
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	in.Progress.Update(ctx, 10, "Writing show notes")

	req := capability.TextRequest{
		Model:       sel.Model,
		System:      buildSystemPrompt(in.Options),
		Prompt:      buildUserPrompt(in.Options, source),
		Temperature: sel.Temperature,
	}
	res, err := bounded(ctx, h.d, in.Stage.Name, func(ctx context.Context) (*capability.TextResult, error) {
		return gen.GenerateText(ctx, req)
	})
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	in.Progress.Update(ctx, 80, "Rendering show notes")

	notes := render.Parse(res.Text)
	title := firstNonBlank(in.Options.Title, notes.Title, "Show notes")
	mdArtifact, err := writeArtifact(ctx, in, "show_notes.md", KindShowNotes, "text/markdown", 0, []byte(res.Text))
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	htmlArtifact, err := writeArtifact(ctx, in, "show_notes.html", KindShowNotesHTML, "text/html", 0, []byte(render.Document(title, res.Text)))
	if err != nil {
		return nil, in.Progress.Error(ctx, err)
	}
	h.d.Logger.Debug().
		Str("job_id", in.JobID).
		Str("service", sel.Service).
		Str("model", sel.Model).
		Int("image_prompts", len(notes.ImagePrompts)).
		Int("output_tokens", res.OutputTokens).
		Msg("show notes generated")
	return &pipeline.StageResult{Artifacts: []storage.Artifact{mdArtifact, htmlArtifact}}, nil
}

func buildSystemPrompt(o *options.JobOptions) string {
	count := 0
	if o.Enabled(domain.CapabilityImage) {
		count = imagePromptCount(o)
	}
	tone := ""
	if o.Text != nil && strings.TrimSpace(o.Text.Tone) != "" {
		tone = "\nTone: " + strings.TrimSpace(o.Text.Tone) + "."
	}
	return fmt.Sprintf(systemPrompt, count, languageName(o.Language), tone)
}

func buildUserPrompt(o *options.JobOptions, source string) string {
	var b strings.Builder
	if t := strings.TrimSpace(o.Title); t != "" {
		b.WriteString("Title: ")
		b.WriteString(t)
		b.WriteString("\n\n")
	}
	b.WriteString("Source:\n")
	b.WriteString(clip(source, maxSourceRunes))
	return b.String()
}

func imagePromptCount(o *options.JobOptions) int {
	if o.Text != nil && o.Text.ImagePrompts != nil {
		return *o.Text.ImagePrompts
	}
	return defaultImagePrompts
}

// languageName renders a BCP 47 tag as its English name, e.g. "Brazilian Portuguese".
func languageName(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return "English"
	}
	if name := display.English.Tags().Name(t); name != "" {
		return name
	}
	return "English"
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// showNotes reads and parses the markdown the text stage wrote.
func showNotes(in pipeline.StageInput) (render.Notes, error) {
	src, err := readArtifact(in, KindShowNotes)
	if err != nil {
		return render.Notes{}, err
	}
	notes := render.Parse(src)
	if notes.Summary == "" {
		notes.Summary = strings.TrimSpace(src)
	}
	return notes, nil
}
