// Package imageprompt turns story descriptions into text-to-image prompts
// with genre-specific style modifiers.
package imageprompt

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/log"

	"storysmith/pkg/schema"
)

const DefaultStyle = "default"

type genre struct {
	name     string
	keywords []string
}

// Order matters: ties go to the genre listed first.
var genres = []genre{
	{"fantasy", []string{"magic", "wizard", "dragon", "spell", "enchanted", "mystical", "fairy", "quest"}},
	{"sci-fi", []string{"space", "robot", "alien", "future", "technology", "cyber", "laser", "spaceship"}},
	{"horror", []string{"dark", "scary", "ghost", "monster", "haunted", "evil", "shadow", "nightmare"}},
	{"romance", []string{"love", "heart", "romantic", "kiss", "wedding", "passion", "beautiful", "tender"}},
	{"adventure", []string{"journey", "explore", "treasure", "mountain", "forest", "adventure", "brave", "hero"}},
	{"mystery", []string{"mystery", "detective", "clue", "secret", "hidden", "investigate", "solve", "puzzle"}},
}

var styleModifiers = map[string]string{
	"fantasy":    "fantasy art style, magical atmosphere",
	"sci-fi":     "sci-fi concept art, futuristic",
	"horror":     "dark atmosphere, gothic style",
	"romance":    "soft lighting, romantic atmosphere",
	"adventure":  "epic scale, dramatic lighting",
	"mystery":    "noir style, mysterious atmosphere",
	DefaultStyle: "professional illustration style",
}

var (
	fillerRX     = regexp.MustCompile(`(?i)in the story|from the tale|as described|mentioned in|the character|the person|the individual`)
	whitespaceRX = regexp.MustCompile(`\s+`)
)

// DetectStyle scores each genre by how many of its keywords occur in the
// story and returns the best one, or DefaultStyle when nothing matches.
func DetectStyle(story string) string {
	lower := strings.ToLower(story)
	best, bestScore := DefaultStyle, 0
	for _, g := range genres {
		score := 0
		for _, kw := range g.keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = g.name, score
		}
	}
	return best
}

// StyleModifier returns the prompt suffix for a style.
func StyleModifier(style string) string {
	if m, ok := styleModifiers[style]; ok {
		return m
	}
	return styleModifiers[DefaultStyle]
}

// CleanDescription removes narrative filler that does not help an image model.
func CleanDescription(s string) string {
	s = fillerRX.ReplaceAllString(s, "")
	s = collapse(s)
	if s != "" && !strings.HasSuffix(s, ".") {
		s += "."
	}
	return s
}

func CharacterPrompt(desc, style string) string {
	return compose(desc, "full body shot, isolated on pure white background, png style, no background, clean edges, high quality, detailed", style)
}

func BackgroundPrompt(desc, style string) string {
	return compose(desc, "detailed environment, atmospheric lighting, high quality, cinematic", style)
}

func compose(desc, directions, style string) string {
	parts := make([]string, 0, 3)
	if d := strings.TrimRight(CleanDescription(desc), "."); d != "" {
		parts = append(parts, d)
	}
	parts = append(parts, directions, StyleModifier(style))
	return collapse(strings.Join(parts, ", "))
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRX.ReplaceAllString(s, " "))
}

// Build never fails; missing inputs are logged and produce prompts made of the
// style directions alone.
func Build(bundle schema.StoryBundle) schema.ImagePrompts {
	if strings.TrimSpace(bundle.Story) == "" {
		log.Warn("no story to detect a style from")
	}
	if strings.TrimSpace(bundle.CharacterDescription) == "" {
		log.Warn("no character description")
	}
	if strings.TrimSpace(bundle.BackgroundDescription) == "" {
		log.Warn("no background description")
	}

	style := DetectStyle(bundle.Story)
	prompts := schema.ImagePrompts{
		CharacterPrompt:               CharacterPrompt(bundle.CharacterDescription, style),
		BackgroundPrompt:              BackgroundPrompt(bundle.BackgroundDescription, style),
		DetectedStyle:                 style,
		OriginalCharacterDescription:  bundle.CharacterDescription,
		OriginalBackgroundDescription: bundle.BackgroundDescription,
	}
	log.Info("image prompts ready", "style", style)
	log.Debug("image prompts", "character", prompts.CharacterPrompt, "background", prompts.BackgroundPrompt)
	return prompts
}
