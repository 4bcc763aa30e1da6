package story

import (
	"regexp"
	"strings"
)

// Assistant turn markers of the chat templates we have seen models echo back
// (Phi-3, Qwen/ChatML and Gemma).
var assistantMarkers = []string{
	"<|assistant|>",
	"<|im_start|>assistant",
	"<start_of_turn>model",
}

var endMarkers = []string{"<|end|>", "<|im_end|>", "<end_of_turn>"}

var chatTokens = strings.NewReplacer(
	"<|user|>", "",
	"<|assistant|>", "",
	"<|end|>", "",
	"<s>", "",
	"</s>", "",
	"[INST]", "",
	"[/INST]", "",
	"<|im_start|>", "",
	"<|im_end|>", "",
	"<start_of_turn>", "",
	"<end_of_turn>", "",
)

var instructionPrefixes = []string{
	"<", "[",
	"Based on", "Write a", "Describe", "Provide", "Create a", "Story:", "Focus on",
	"Requirements:", "Include:",
}

var instructionFragmentRX = regexp.MustCompile(`(Create a detailed|Write 4-5|Include:|Based on this)\W*`)

// CleanRepetitiveText drops sentences that repeat an earlier one, ignoring case.
func CleanRepetitiveText(s string) string {
	seen := make(map[string]struct{})
	var kept []string
	for _, sentence := range strings.Split(s, ". ") {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		key := strings.ToLower(sentence)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, sentence)
	}
	out := strings.Join(kept, ". ")
	if out != "" && !strings.HasSuffix(out, ".") {
		out += "."
	}
	return out
}

// EnforcePNGFormat makes sure a character description asks for a transparent PNG.
func EnforcePNGFormat(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(strings.ToLower(s), "transparent background, png format.") {
		return s
	}
	return strings.TrimRight(s, ".") + ". transparent background, PNG format"
}

// ExtractCleanResponse returns the text after the last assistant marker, or
// falls back to CleanModelOutput when the model did not echo its prompt.
func ExtractCleanResponse(s string) string {
	last, at := -1, ""
	for _, m := range assistantMarkers {
		if i := strings.LastIndex(s, m); i > last {
			last, at = i, m
		}
	}
	if last == -1 {
		return CleanModelOutput(s)
	}
	resp := s[last+len(at):]
	for _, m := range endMarkers {
		resp = strings.ReplaceAll(resp, m, "")
	}
	return strings.TrimSpace(resp)
}

// CleanModelOutput strips chat template tokens and echoed instruction lines.
func CleanModelOutput(s string) string {
	s = chatTokens.Replace(s)

	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "user" || line == "assistant" || line == "model" {
			continue
		}
		if hasAnyPrefix(line, instructionPrefixes) {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return strings.TrimSpace(s)
	}

	out := strings.Join(lines, " ")
	out = instructionFragmentRX.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
