// Package pipeline chains story generation, prompt optimisation, image
// generation and merging into one run.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/segmentio/ksuid"

	"storysmith/pkg/compose"
	"storysmith/pkg/diffusion"
	"storysmith/pkg/imageprompt"
	"storysmith/pkg/schema"
	"storysmith/pkg/utils"
)

// Progress steps, in the order a full run reports them.
const (
	StepStory    = "story_generation"
	StepPrompts  = "prompt_optimization"
	StepImages   = "image_generation"
	StepMerge    = "merge"
	StepComplete = "complete"
	StepError    = "error"
)

const (
	StatusStarting  = "starting"
	StatusCompleted = "completed"
	StatusSuccess   = "success"
	StatusFailed    = "failed"
)

// Stages named by StageError.
const (
	StageStory   = "story"
	StagePrompts = "prompts"
	StageImage   = "image"
	StageMerge   = "merge"
)

const slugLength = 20

type StoryGenerator interface {
	Generate(ctx context.Context, topic string) (schema.StoryBundle, error)
}

type Event struct {
	Step   string `json:"step"`
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

type Options struct {
	GenerateImages bool
}

type Result struct {
	Topic                 string    `json:"topic"`
	Timestamp             time.Time `json:"timestamp"`
	Story                 string    `json:"story"`
	CharacterDescription  string    `json:"character_description"`
	BackgroundDescription string    `json:"background_description"`
	CharacterPrompt       string    `json:"character_prompt,omitempty"`
	BackgroundPrompt      string    `json:"background_prompt,omitempty"`
	DetectedStyle         string    `json:"detected_style,omitempty"`
	CharacterImagePath    string    `json:"character_image_path,omitempty"`
	BackgroundImagePath   string    `json:"background_image_path,omitempty"`
	FinalImagePath        string    `json:"final_image_path,omitempty"`
	PreviewImagePath      string    `json:"preview_image_path,omitempty"`
	SummaryPath           string    `json:"summary_path,omitempty"`
}

// StageError names the pipeline stage that failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

type Chain struct {
	Story     StoryGenerator
	Images    diffusion.Generator
	OutputDir string
	TempDir   string
	Threshold int
	Width     int
	Height    int
}

// Run reports every step through progress, which may be nil. Failures are
// returned as *StageError after an error event.
func (c *Chain) Run(ctx context.Context, topic string, opts Options, progress func(Event)) (*Result, error) {
	emit := func(e Event) {
		if progress != nil {
			progress(e)
		}
	}
	fail := func(stage string, err error) (*Result, error) {
		emit(Event{Step: StepError, Status: StatusFailed, Error: err.Error()})
		log.Error("pipeline failed", "stage", stage, "error", err)
		return nil, &StageError{Stage: stage, Err: err}
	}

	log.Info("starting story visualization", "topic", utils.LimitStr(topic, 60), "images", opts.GenerateImages)
	res := &Result{Topic: topic, Timestamp: time.Now()}

	emit(Event{Step: StepStory, Status: StatusStarting, Data: map[string]string{"topic": topic}})
	bundle, err := c.Story.Generate(ctx, topic)
	if err != nil {
		return fail(StageStory, err)
	}
	res.Story = bundle.Story
	res.CharacterDescription = bundle.CharacterDescription
	res.BackgroundDescription = bundle.BackgroundDescription
	emit(Event{Step: StepStory, Status: StatusCompleted, Data: bundle})

	if err := ctx.Err(); err != nil {
		return fail(StagePrompts, err)
	}
	emit(Event{Step: StepPrompts, Status: StatusStarting})
	prompts := imageprompt.Build(bundle)
	res.CharacterPrompt = prompts.CharacterPrompt
	res.BackgroundPrompt = prompts.BackgroundPrompt
	res.DetectedStyle = prompts.DetectedStyle
	emit(Event{Step: StepPrompts, Status: StatusCompleted, Data: prompts})

	if !opts.GenerateImages {
		emit(Event{Step: StepComplete, Status: StatusSuccess, Data: res})
		return res, nil
	}

	id := ksuid.New().String()
	res.CharacterImagePath = filepath.Join(c.TempDir, fmt.Sprintf("character_%s.png", id))
	res.BackgroundImagePath = filepath.Join(c.TempDir, fmt.Sprintf("background_%s.png", id))

	emit(Event{Step: StepImages, Status: StatusStarting})
	if err := c.render(ctx, prompts.CharacterPrompt, res.CharacterImagePath); err != nil {
		return fail(StageImage, fmt.Errorf("character image: %w", err))
	}
	if err := c.render(ctx, prompts.BackgroundPrompt, res.BackgroundImagePath); err != nil {
		return fail(StageImage, fmt.Errorf("background image: %w", err))
	}
	emit(Event{Step: StepImages, Status: StatusCompleted, Data: map[string]string{
		"character_image_path":  res.CharacterImagePath,
		"background_image_path": res.BackgroundImagePath,
	}})

	if err := ctx.Err(); err != nil {
		return fail(StageMerge, err)
	}
	emit(Event{Step: StepMerge, Status: StatusStarting})
	base := fmt.Sprintf("%s_%s_final", utils.Slug(topic, slugLength), id)
	res.FinalImagePath = filepath.Join(c.OutputDir, base+".jpg")
	if err := compose.MergeFiles(res.CharacterImagePath, res.BackgroundImagePath, res.FinalImagePath, c.Threshold); err != nil {
		return fail(StageMerge, err)
	}
	preview := filepath.Join(c.OutputDir, base+".webp")
	if err := compose.SaveWebP(res.FinalImagePath, preview); err != nil {
		log.Warn("preview not written", "error", err)
	} else {
		res.PreviewImagePath = preview
	}
	emit(Event{Step: StepMerge, Status: StatusCompleted, Data: map[string]string{"final_image_path": res.FinalImagePath}})

	summary := filepath.Join(c.OutputDir, fmt.Sprintf("enhanced_story_summary_%s.txt", id))
	if err := writeSummary(summary, res); err != nil {
		log.Warn("summary not written", "error", err)
	} else {
		res.SummaryPath = summary
	}

	log.Info("story visualization complete", "final", res.FinalImagePath)
	emit(Event{Step: StepComplete, Status: StatusSuccess, Data: res})
	return res, nil
}

func (c *Chain) render(ctx context.Context, prompt, path string) error {
	data, err := c.Images.Generate(ctx, diffusion.Request{
		Prompt: prompt,
		Width:  c.Width,
		Height: c.Height,
	})
	if err != nil {
		return err
	}
	if _, err := compose.SaveImage(data, path); err != nil {
		return err
	}
	log.Info("image saved", "path", path)
	return nil
}

func writeSummary(path string, r *Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(Summary(r)), 0o644)
}
