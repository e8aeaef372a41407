package pipeline

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"genpipe/internal/domain"
)

// Stage names. Optional stages share their capability name.
const (
	StagePrepare       = "prepare"
	StageExtraction    = "extraction"
	StageTranscription = "transcription"
	StageText          = "text"
	StageSpeech        = "speech"
	StageImage         = "image"
	StageMusic         = "music"
	StageVideo         = "video"
)

// StageDescriptor is one declared pipeline step. Weights of a pipeline sum to 100.
type StageDescriptor struct {
	Number   int
	Name     string
	Weight   float64
	Optional bool
}

// Title is the human-readable stage name stored in Job.StepName.
func (d StageDescriptor) Title() string {
	// Casers keep state, so each call gets its own.
	return cases.Title(language.English).String(d.Name)
}

var mediaStages = []StageDescriptor{
	{Number: 1, Name: StagePrepare, Weight: 10},
	{Number: 2, Name: StageTranscription, Weight: 30},
	{Number: 3, Name: StageText, Weight: 25},
	{Number: 4, Name: StageSpeech, Weight: 15, Optional: true},
	{Number: 5, Name: StageImage, Weight: 10, Optional: true},
	{Number: 6, Name: StageMusic, Weight: 5, Optional: true},
	{Number: 7, Name: StageVideo, Weight: 5, Optional: true},
}

var documentStages = []StageDescriptor{
	{Number: 1, Name: StageExtraction, Weight: 25},
	{Number: 2, Name: StageText, Weight: 35},
	{Number: 3, Name: StageSpeech, Weight: 20, Optional: true},
	{Number: 4, Name: StageImage, Weight: 10, Optional: true},
	{Number: 5, Name: StageMusic, Weight: 5, Optional: true},
	{Number: 6, Name: StageVideo, Weight: 5, Optional: true},
}

// StagesFor returns a copy of the nominal pipeline for a source type.
func StagesFor(source domain.SourceType) ([]StageDescriptor, error) {
	var stages []StageDescriptor
	switch source {
	case domain.SourceAudio, domain.SourceVideo:
		stages = mediaStages
	case domain.SourceDocument:
		stages = documentStages
	default:
		return nil, fmt.Errorf("pipeline: no stages for source type %q", source)
	}
	return append([]StageDescriptor(nil), stages...), nil
}

// Plan is the per-job active pipeline with its renormalized weight table.
type Plan struct {
	declared int
	active   []StageDescriptor
	weights  map[int]float64
	order    map[int]int
}

// NewPlan validates the nominal stage list and removes the skipped optional stages,
// redistributing their weight proportionally so active weights sum to 100.
func NewPlan(stages []StageDescriptor, skipped []string) (*Plan, error) {
	if len(stages) == 0 {
		return nil, errors.New("pipeline: empty stage list")
	}
	var sum float64
	prev := 0
	names := make(map[string]bool, len(stages))
	for _, s := range stages {
		if s.Number <= prev {
			return nil, fmt.Errorf("pipeline: stage %s number %d is not ascending", s.Name, s.Number)
		}
		if s.Weight <= 0 {
			return nil, fmt.Errorf("pipeline: stage %s has non-positive weight", s.Name)
		}
		prev = s.Number
		sum += s.Weight
		names[s.Name] = true
	}
	if math.Abs(sum-100) > 1e-9 {
		return nil, fmt.Errorf("pipeline: nominal weights sum to %v, want 100", sum)
	}

	skip := make(map[string]bool, len(skipped))
	for _, name := range skipped {
		if !names[name] {
			return nil, fmt.Errorf("pipeline: cannot skip unknown stage %q", name)
		}
		skip[name] = true
	}

	p := &Plan{
		declared: len(stages),
		weights:  make(map[int]float64),
		order:    make(map[int]int),
	}
	var activeSum float64
	for _, s := range stages {
		if skip[s.Name] {
			if !s.Optional {
				return nil, fmt.Errorf("pipeline: stage %s is required and cannot be skipped", s.Name)
			}
			continue
		}
		p.active = append(p.active, s)
		activeSum += s.Weight
	}
	for i, s := range p.active {
		p.weights[s.Number] = s.Weight * 100 / activeSum
		p.order[s.Number] = i
	}
	return p, nil
}

// Active returns the stages that will run, in ascending declared order.
func (p *Plan) Active() []StageDescriptor {
	return append([]StageDescriptor(nil), p.active...)
}

// Declared is the stage count of the nominal pipeline.
func (p *Plan) Declared() int {
	return p.declared
}

// Weight returns the active weight of a stage number; zero for skipped stages.
func (p *Plan) Weight(step int) float64 {
	return p.weights[step]
}

// Stage returns the active descriptor for a stage number.
func (p *Plan) Stage(step int) (StageDescriptor, bool) {
	i, ok := p.order[step]
	if !ok {
		return StageDescriptor{}, false
	}
	return p.active[i], true
}

// Overall computes the job progress with step running at stepProgress percent:
// active stages before it count in full, step counts in proportion.
func (p *Plan) Overall(step int, stepProgress int) float64 {
	idx, ok := p.order[step]
	if !ok {
		return 0
	}
	var total float64
	for _, s := range p.active[:idx] {
		total += p.weights[s.Number]
	}
	total += p.weights[step] * float64(domain.ClampPercent(stepProgress)) / 100
	if idx == len(p.active)-1 && stepProgress >= 100 {
		return 100
	}
	return math.Min(total, 100)
}
