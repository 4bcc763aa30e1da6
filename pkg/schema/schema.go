package schema

import (
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
)

// StoryBundle is the output of the story chain.
type StoryBundle struct {
	Story                 string `json:"story"`
	CharacterDescription  string `json:"character_description"`
	BackgroundDescription string `json:"background_description"`
}

// ImagePrompts is the output of the prompt optimisation chain.
type ImagePrompts struct {
	CharacterPrompt               string `json:"character_prompt"`
	BackgroundPrompt              string `json:"background_prompt"`
	DetectedStyle                 string `json:"detected_style"`
	OriginalCharacterDescription  string `json:"original_character_desc"`
	OriginalBackgroundDescription string `json:"original_background_desc"`
}

// Descriptions is requested from the model as structured output.
type Descriptions struct {
	Character  string `json:"character" jsonschema_description:"4-5 sentences describing the main character's physical appearance, clothing, distinctive features and pose, suitable for an illustrator"`
	Background string `json:"background" jsonschema_description:"4-5 sentences describing the story's setting: location, time of day, weather, lighting and atmosphere, without any characters"`
}

func generateSchema[T any]() any {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return r.Reflect(v)
}

var DescriptionsSchema = generateSchema[Descriptions]()

func DescriptionsResponseFormat() openai.ChatCompletionNewParamsResponseFormatUnion {
	p := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "story_descriptions",
		Description: openai.String("Main character and background descriptions derived from a short story"),
		Schema:      DescriptionsSchema,
		Strict:      openai.Bool(true),
	}
	return openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: p},
	}
}
