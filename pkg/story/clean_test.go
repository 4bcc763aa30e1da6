package story

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanRepetitiveText(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"dedupe ignoring case", "The sun rose. the sun rose. Birds sang", "The sun rose. Birds sang."},
		{"keeps final dot", "One. Two.", "One. Two."},
		{"drops empty pieces", "One. . Two", "One. Two."},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanRepetitiveText(tt.in))
		})
	}
}

func TestEnforcePNGFormat(t *testing.T) {
	assert.Equal(t, "A knight. transparent background, PNG format", EnforcePNGFormat(" A knight... "))
	assert.Equal(t, "A knight. Transparent background, PNG format.", EnforcePNGFormat("A knight. Transparent background, PNG format."))
}

func TestExtractCleanResponse(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"phi3", "<|user|>Write<|end|><|assistant|> Once upon a time.<|end|>", "Once upon a time."},
		{"chatml", "<|im_start|>user\nhi<|im_end|>\n<|im_start|>assistant\nHello there.<|im_end|>", "Hello there."},
		{"gemma", "<start_of_turn>user\nhi<end_of_turn>\n<start_of_turn>model\nA tale.<end_of_turn>", "A tale."},
		{"last marker wins", "<|assistant|>first<|assistant|>second", "second"},
		{"no marker", "Write a story about cats\nThe cat slept.", "The cat slept."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCleanResponse(tt.in))
		})
	}
}

func TestCleanModelOutput(t *testing.T) {
	in := "<s>[INST] Describe the hero [/INST]\nuser\nRequirements: short\nThe hero is tall.\n\n  She wears a red cloak.  </s>"
	assert.Equal(t, "The hero is tall. She wears a red cloak.", CleanModelOutput(in))

	assert.Equal(t, "He smiled. She waved.", CleanModelOutput("He smiled. Based on this: She waved."))

	// nothing survives the line filter
	assert.Equal(t, "Describe the setting", CleanModelOutput("<|user|>Describe the setting<|end|>"))
}
