package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"

	"storysmith/pkg/inference"
	"storysmith/pkg/schema"
	"storysmith/pkg/utils"
)

var (
	ErrNoTopic    = errors.New("topic is required")
	ErrEmptyStory = errors.New("model returned an empty story")
)

const (
	minDescriptionTokens = 256
	maxDescriptionTokens = 1024
)

// Generator turns a topic into a story plus character and background
// descriptions with three sequential model calls.
type Generator struct {
	Inferencer inference.Inferencer
}

func NewGenerator(inf inference.Inferencer) *Generator {
	return &Generator{Inferencer: inf}
}

func (g *Generator) Generate(ctx context.Context, topic string) (schema.StoryBundle, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return schema.StoryBundle{}, ErrNoTopic
	}

	log.Info("generating story", "topic", utils.LimitStr(topic, 60))
	raw, err := g.Inferencer.Infer(ctx, nil, storySystemPrompt, fmt.Sprintf(storyUserPrompt, topic))
	if err != nil {
		return schema.StoryBundle{}, fmt.Errorf("story: %w", err)
	}
	story := CleanRepetitiveText(ExtractCleanResponse(strings.TrimSpace(raw)))
	if ok, err := g.Inferencer.Verify(ctx, story); !ok {
		return schema.StoryBundle{}, fmt.Errorf("%w: %v", ErrEmptyStory, err)
	}

	character, background, err := g.describe(ctx, story)
	if err != nil {
		return schema.StoryBundle{}, err
	}

	bundle := schema.StoryBundle{
		Story:                 story,
		CharacterDescription:  EnforcePNGFormat(CleanRepetitiveText(ExtractCleanResponse(character))),
		BackgroundDescription: CleanRepetitiveText(ExtractCleanResponse(background)),
	}
	log.Info("story bundle generated",
		"story_chars", len(bundle.Story),
		"character_chars", len(bundle.CharacterDescription),
		"background_chars", len(bundle.BackgroundDescription))
	return bundle, nil
}

// describe asks for both descriptions as structured output first and falls
// back to one plain-text prompt each when the JSON is unusable.
func (g *Generator) describe(ctx context.Context, story string) (string, string, error) {
	params := &openai.ChatCompletionNewParams{
		MaxCompletionTokens: openai.Int(descriptionBudget(story)),
		ResponseFormat:      schema.DescriptionsResponseFormat(),
	}
	out, err := g.Inferencer.Infer(ctx, params, descriptionsSystemPrompt, story)
	if err == nil {
		var d schema.Descriptions
		if jerr := json.Unmarshal([]byte(utils.CleanJSON(out)), &d); jerr == nil &&
			strings.TrimSpace(d.Character) != "" && strings.TrimSpace(d.Background) != "" {
			return d.Character, d.Background, nil
		} else if jerr != nil {
			log.Warn("descriptions were not valid JSON, falling back to plain prompts", "error", jerr)
		} else {
			log.Warn("descriptions JSON was incomplete, falling back to plain prompts")
		}
	} else {
		log.Warn("structured descriptions failed, falling back to plain prompts", "error", err)
	}

	character, err := g.Inferencer.Infer(ctx, nil, characterSystemPrompt, story)
	if err != nil {
		return "", "", fmt.Errorf("character description: %w", err)
	}
	background, err := g.Inferencer.Infer(ctx, nil, backgroundSystemPrompt, story)
	if err != nil {
		return "", "", fmt.Errorf("background description: %w", err)
	}
	return character, background, nil
}

// descriptionBudget scales the completion budget with the story's token count.
func descriptionBudget(story string) int64 {
	n, err := utils.NumTokens(story)
	if err != nil {
		log.Warn("token count failed", "error", err)
		return 512
	}
	return int64(min(max(n, minDescriptionTokens), maxDescriptionTokens))
}
