package stages

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"genpipe/internal/adapter/repo"
	"genpipe/internal/capability"
	"genpipe/internal/domain"
	"genpipe/internal/infra"
	"genpipe/internal/options"
	"genpipe/internal/pipeline"
	"genpipe/internal/storage"
)

const notesMarkdown = `# Queues in Practice

## Summary

A tour of job queues.

## Chapters

1. Intro
2. Benchmarks

## Image Prompts

- A whiteboard with arrows
- A rack of servers
`

type fakeExtractor struct{}

func (fakeExtractor) Extract(_ context.Context, req capability.ExtractRequest) (*capability.ExtractResult, error) {
	data, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, err
	}
	return &capability.ExtractResult{Text: string(data), Pages: 1}, nil
}

type fakeText struct {
	creds  bool
	block  bool
	prompt string
	mu     sync.Mutex
}

func (f *fakeText) GenerateText(ctx context.Context, req capability.TextRequest) (*capability.TextResult, error) {
	f.mu.Lock()
	f.prompt = req.Prompt
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &capability.TextResult{Text: notesMarkdown}, nil
}

func (f *fakeText) HasCredentials() bool { return f.creds }

type fakeMedia struct {
	mu      sync.Mutex
	prompts []string
}

func (f *fakeMedia) record(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, p)
}

func (f *fakeMedia) Synthesize(_ context.Context, req capability.SpeechRequest) (*capability.Media, error) {
	f.record(req.Text)
	return &capability.Media{Data: []byte("ID3"), MIME: "audio/mpeg"}, nil
}

func (f *fakeMedia) GenerateImage(_ context.Context, req capability.ImageRequest) (*capability.Media, error) {
	f.record(req.Prompt)
	return &capability.Media{Data: []byte("png"), MIME: "image/png"}, nil
}

func (f *fakeMedia) GenerateMusic(_ context.Context, req capability.MusicRequest) (*capability.Media, error) {
	f.record(req.Prompt)
	return &capability.Media{Data: []byte("mp3"), MIME: "audio/mpeg"}, nil
}

func (f *fakeMedia) GenerateVideo(_ context.Context, req capability.VideoRequest) (*capability.Media, error) {
	f.record(req.Prompt)
	return &capability.Media{Data: []byte("mp4"), MIME: "video/mp4"}, nil
}

type fakePreparer struct{ segments int }

func (f fakePreparer) Prepare(_ context.Context, req capability.PrepareRequest) ([]capability.Segment, error) {
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, err
	}
	out := make([]capability.Segment, f.segments)
	for i := range out {
		path := filepath.Join(req.OutputDir, fmt.Sprintf("segment_%03d.wav", i))
		if err := os.WriteFile(path, []byte(fmt.Sprintf("seg%d", i)), 0o644); err != nil {
			return nil, err
		}
		out[i] = capability.Segment{Index: i, Path: path, Start: time.Duration(i*req.SegmentSeconds) * time.Second}
	}
	return out, nil
}

// fakeTranscriber finishes later segments first and tracks peak concurrency.
type fakeTranscriber struct {
	total  int
	failOn string
	active atomic.Int32
	peak   atomic.Int32
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req capability.TranscribeRequest) (*capability.Transcript, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	name := filepath.Base(req.AudioPath)
	if name == f.failOn {
		return nil, &domain.ProviderError{Provider: "openai", Status: 503, Detail: "overloaded"}
	}
	var idx int
	_, _ = fmt.Sscanf(name, "segment_%03d.wav", &idx)
	select {
	case <-time.After(time.Duration(f.total-idx) * 5 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &capability.Transcript{Text: fmt.Sprintf("part %d", idx)}, nil
}

type harness struct {
	set   *capability.Set
	text  *fakeText
	media *fakeMedia
	deps  Deps
}

func newHarness() *harness {
	h := &harness{set: capability.NewSet(), text: &fakeText{creds: true}, media: &fakeMedia{}}
	h.set.MustRegister(domain.CapabilityExtraction, "local", "", fakeExtractor{})
	h.set.MustRegister(domain.CapabilityText, "openai", "OPENAI_API_KEY", h.text)
	h.set.MustRegister(domain.CapabilitySpeech, "openai", "OPENAI_API_KEY", h.media)
	h.set.MustRegister(domain.CapabilityImage, "openai", "OPENAI_API_KEY", h.media)
	h.set.MustRegister(domain.CapabilityMusic, "elevenlabs", "ELEVENLABS_API_KEY", h.media)
	h.set.MustRegister(domain.CapabilityVideo, "gemini", "GEMINI_API_KEY", h.media)
	h.deps = Deps{Set: h.set, StageTimeout: time.Minute, SegmentSeconds: 60, SubStepConcurrency: 2}
	return h
}

func (h *harness) run(t *testing.T, opts *options.JobOptions) (*domain.Job, *storage.Workspace) {
	t.Helper()
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	store := repo.NewMemoryJobStore()
	orch := pipeline.NewOrchestrator(store, Handlers(h.deps), files, *infra.NopLogger())
	ctx := context.Background()
	job, err := orch.Submit(ctx, opts)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_ = orch.Run(ctx, job.ID)
	final, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	ws, err := files.OpenWorkspace(job.ID)
	if err != nil {
		t.Fatalf("OpenWorkspace: %v", err)
	}
	return final, ws
}

func section(service, model string) options.Section {
	return options.Section{Enabled: true, Service: service, Model: model}
}

func documentJob(t *testing.T, source string) *options.JobOptions {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notes.md")
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return &options.JobOptions{
		Source:     options.Source{Type: domain.SourceDocument, Path: path},
		Language:   "en",
		Extraction: &options.ExtractionOptions{Section: section("local", "pdf-text")},
		Text:       &options.TextOptions{Section: section("openai", "gpt-4o-mini")},
	}
}

func errorOf(job *domain.Job) string {
	if job.Error == nil {
		return ""
	}
	return *job.Error
}

func TestDocumentPipelineWritesEveryArtifact(t *testing.T) {
	h := newHarness()
	opts := documentJob(t, "We compared three queues.")
	opts.Speech = &options.SpeechOptions{Section: section("openai", "tts-1")}
	opts.Image = &options.ImageOptions{Section: section("openai", "gpt-image-1"), Size: "1024x1024"}
	opts.Music = &options.MusicOptions{Section: section("elevenlabs", "music_v1")}
	opts.Video = &options.VideoOptions{Section: section("gemini", "veo-3.0-generate-001")}

	job, ws := h.run(t, opts)
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, error = %q", job.Status, errorOf(job))
	}
	if job.OverallProgress != 100 {
		t.Fatalf("overall = %d, want 100", job.OverallProgress)
	}
	manifest, err := ws.ReadManifest()
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	kinds := map[string]int{}
	for _, a := range manifest.Artifacts {
		kinds[a.Kind]++
		if _, err := ws.Stat(a); err != nil {
			t.Fatalf("artifact %s missing on disk: %v", a.Path, err)
		}
	}
	want := map[string]int{KindSourceText: 1, KindShowNotes: 1, KindShowNotesHTML: 1, KindSpeech: 1, KindImage: 2, KindMusic: 1, KindVideo: 1}
	for kind, n := range want {
		if kinds[kind] != n {
			t.Fatalf("kind %s count = %d, want %d (all: %v)", kind, kinds[kind], n, kinds)
		}
	}
	if !strings.Contains(h.text.prompt, "We compared three queues.") {
		t.Fatalf("text prompt does not carry the source: %q", h.text.prompt)
	}
	var images []string
	for _, a := range manifest.Artifacts {
		if a.Kind == KindImage {
			images = append(images, a.Path)
		}
	}
	if len(images) != 2 || images[0] != "images/image_01.png" || images[1] != "images/image_02.png" {
		t.Fatalf("image artifacts out of order: %v", images)
	}
}

// slowImages answers later prompts first; prompts in empty get a nil result.
type slowImages struct {
	empty  string
	active atomic.Int32
	peak   atomic.Int32
}

func (f *slowImages) GenerateImage(ctx context.Context, req capability.ImageRequest) (*capability.Media, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if req.Prompt == f.empty {
		return nil, nil
	}
	delay := 5 * time.Millisecond
	if req.Prompt == "A whiteboard with arrows" {
		delay = 30 * time.Millisecond
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &capability.Media{Data: []byte(req.Prompt), MIME: "image/png"}, nil
}

func TestImageStageKeepsPromptOrder(t *testing.T) {
	h := newHarness()
	images := &slowImages{}
	h.set.MustRegister(domain.CapabilityImage, "openai", "OPENAI_API_KEY", images)
	opts := documentJob(t, "We compared three queues.")
	opts.Image = &options.ImageOptions{Section: section("openai", "gpt-image-1")}

	job, ws := h.run(t, opts)
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, error = %q", job.Status, errorOf(job))
	}
	if got := images.peak.Load(); got != 2 {
		t.Fatalf("peak concurrency = %d, want 2", got)
	}
	manifest, err := ws.ReadManifest()
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	var got []string
	for _, a := range manifest.Artifacts {
		if a.Kind != KindImage {
			continue
		}
		path, err := ws.Path(a.Path)
		if err != nil {
			t.Fatalf("Path: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", a.Path, err)
		}
		got = append(got, string(data))
	}
	if len(got) != 2 || got[0] != "A whiteboard with arrows" || got[1] != "A rack of servers" {
		t.Fatalf("images = %v, want prompt order", got)
	}
}

func TestImageStageRejectsEmptyResult(t *testing.T) {
	h := newHarness()
	h.set.MustRegister(domain.CapabilityImage, "openai", "OPENAI_API_KEY", &slowImages{empty: "A rack of servers"})
	opts := documentJob(t, "We compared three queues.")
	opts.Image = &options.ImageOptions{Section: section("openai", "gpt-image-1")}

	job, _ := h.run(t, opts)
	if job.Status != domain.JobStatusError {
		t.Fatalf("status = %s, want error", job.Status)
	}
	if msg := errorOf(job); !strings.Contains(msg, "image 2: provider returned no data") {
		t.Fatalf("error = %q", msg)
	}
}

func TestMediaPipelineAssemblesTranscriptInSegmentOrder(t *testing.T) {
	h := newHarness()
	tr := &fakeTranscriber{total: 5}
	h.set.MustRegister(domain.CapabilityTranscription, "assemblyai", "ASSEMBLYAI_API_KEY", tr)
	h.set.SetPreparer(fakePreparer{segments: 5}, "FFMPEG_PATH")

	audio := filepath.Join(t.TempDir(), "episode.mp3")
	if err := os.WriteFile(audio, []byte("ID3"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	opts := &options.JobOptions{
		Source:        options.Source{Type: domain.SourceAudio, Path: audio},
		Language:      "en",
		Transcription: &options.TranscriptionOptions{Section: section("assemblyai", "best")},
		Text:          &options.TextOptions{Section: section("openai", "gpt-4o-mini")},
	}

	job, ws := h.run(t, opts)
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, error = %q", job.Status, errorOf(job))
	}
	path, err := ws.Path("transcript.txt")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if got, want := string(raw), "part 0\n\npart 1\n\npart 2\n\npart 3\n\npart 4\n"; got != want {
		t.Fatalf("transcript = %q, want %q", got, want)
	}
	if peak := tr.peak.Load(); peak > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestTranscriptionFailureIsRecorded(t *testing.T) {
	h := newHarness()
	h.set.MustRegister(domain.CapabilityTranscription, "openai", "OPENAI_API_KEY", &fakeTranscriber{total: 3, failOn: "segment_001.wav"})
	h.set.SetPreparer(fakePreparer{segments: 3}, "FFMPEG_PATH")
	audio := filepath.Join(t.TempDir(), "episode.wav")
	_ = os.WriteFile(audio, []byte("RIFF"), 0o644)

	job, _ := h.run(t, &options.JobOptions{
		Source:        options.Source{Type: domain.SourceAudio, Path: audio},
		Transcription: &options.TranscriptionOptions{Section: section("openai", "whisper-1")},
		Text:          &options.TextOptions{Section: section("openai", "gpt-4o-mini")},
	})
	if job.Status != domain.JobStatusError {
		t.Fatalf("status = %s, want error", job.Status)
	}
	msg := errorOf(job)
	if !strings.HasPrefix(msg, "Provider error: ") || !strings.Contains(msg, "openai returned status 503: overloaded") {
		t.Fatalf("error = %q", msg)
	}
	if job.CurrentStep != 2 {
		t.Fatalf("current step = %d, want 2", job.CurrentStep)
	}
}

func TestMissingPreparerIsConfigurationError(t *testing.T) {
	h := newHarness()
	audio := filepath.Join(t.TempDir(), "episode.wav")
	_ = os.WriteFile(audio, []byte("RIFF"), 0o644)
	job, _ := h.run(t, &options.JobOptions{
		Source: options.Source{Type: domain.SourceAudio, Path: audio},
		Text:   &options.TextOptions{Section: section("openai", "gpt-4o-mini")},
	})
	if job.Status != domain.JobStatusError || !strings.Contains(errorOf(job), "FFMPEG_PATH") {
		t.Fatalf("status = %s, error = %q", job.Status, errorOf(job))
	}
}

func TestTextWithoutCredentials(t *testing.T) {
	h := newHarness()
	h.text.creds = false
	job, _ := h.run(t, documentJob(t, "body"))
	want := "Configuration error: OPENAI_API_KEY is not configured for stage text"
	if errorOf(job) != want {
		t.Fatalf("error = %q, want %q", errorOf(job), want)
	}
}

func TestStageTimeout(t *testing.T) {
	h := newHarness()
	h.text.block = true
	h.deps.StageTimeout = 20 * time.Millisecond
	job, _ := h.run(t, documentJob(t, "body"))
	if job.Status != domain.JobStatusError {
		t.Fatalf("status = %s, want error", job.Status)
	}
	if got := errorOf(job); got != "Timeout: stage text exceeded its 20ms limit" {
		t.Fatalf("error = %q", got)
	}
}

func TestDocumentFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown")
		_, _ = w.Write([]byte("fetched body"))
	}))
	defer srv.Close()

	h := newHarness()
	opts := documentJob(t, "")
	opts.Source = options.Source{Type: domain.SourceDocument, URL: srv.URL + "/docs/post.md"}

	job, ws := h.run(t, opts)
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, error = %q", job.Status, errorOf(job))
	}
	manifest, err := ws.ReadManifest()
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if manifest.Artifacts[0].Kind != KindSource || manifest.Artifacts[0].Path != "source/post.md" {
		t.Fatalf("first artifact = %+v", manifest.Artifacts[0])
	}
	if !strings.Contains(h.text.prompt, "fetched body") {
		t.Fatalf("prompt = %q", h.text.prompt)
	}
}

func TestHelpers(t *testing.T) {
	if got := extFor("audio/mpeg; charset=binary", "bin"); got != "mp3" {
		t.Fatalf("extFor = %q", got)
	}
	if got := extFor("application/x-unknown", "bin"); got != "bin" {
		t.Fatalf("extFor fallback = %q", got)
	}
	if got := clip("one two three four", 9); got != "one two" {
		t.Fatalf("clip = %q", got)
	}
	if got := languageName("pt-BR"); got != "Brazilian Portuguese" {
		t.Fatalf("languageName = %q", got)
	}
}
