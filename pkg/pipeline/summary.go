package pipeline

import (
	"cmp"
	"fmt"
	"strings"
)

const timestampLayout = "2006-01-02 15:04:05"

// Summary renders a plain-text report of a run.
func Summary(r *Result) string {
	rule := strings.Repeat("-", 30) + "\n"
	var b strings.Builder
	b.WriteString("StorySmith AI - Enhanced Story Generation Summary\n")
	b.WriteString(strings.Repeat("=", 60) + "\n")
	fmt.Fprintf(&b, "Generated on: %s\n", r.Timestamp.Format(timestampLayout))
	fmt.Fprintf(&b, "Topic: %s\n", r.Topic)
	fmt.Fprintf(&b, "Detected Style: %s\n\n", cmp.Or(r.DetectedStyle, "N/A"))

	section := func(title, body string) {
		b.WriteString(title + ":\n")
		b.WriteString(rule)
		b.WriteString(body + "\n\n")
	}
	section("STORY", r.Story)
	section("CHARACTER DESCRIPTION", r.CharacterDescription)
	section("BACKGROUND DESCRIPTION", r.BackgroundDescription)

	if r.CharacterPrompt != "" {
		b.WriteString("IMAGE PROMPTS:\n")
		b.WriteString(rule)
		fmt.Fprintf(&b, "Character: %s\n\n", r.CharacterPrompt)
		fmt.Fprintf(&b, "Background: %s\n\n", r.BackgroundPrompt)
	}

	if r.FinalImagePath != "" {
		b.WriteString("GENERATED FILES:\n")
		b.WriteString(rule)
		fmt.Fprintf(&b, "Character Image: %s\n", cmp.Or(r.CharacterImagePath, "N/A"))
		fmt.Fprintf(&b, "Background Image: %s\n", cmp.Or(r.BackgroundImagePath, "N/A"))
		fmt.Fprintf(&b, "Final Image: %s\n", r.FinalImagePath)
		if r.PreviewImagePath != "" {
			fmt.Fprintf(&b, "Preview: %s\n", r.PreviewImagePath)
		}
	}
	return b.String()
}
