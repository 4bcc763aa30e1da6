package story

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	system     string
	user       string
	structured bool
}

type fakeInferencer struct {
	replies []string
	errs    []error
	calls   []call
}

func (f *fakeInferencer) Infer(_ context.Context, params *openai.ChatCompletionNewParams, system, user string) (string, error) {
	i := len(f.calls)
	f.calls = append(f.calls, call{
		system:     system,
		user:       user,
		structured: params != nil && params.ResponseFormat.OfJSONSchema != nil,
	})
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], err
	}
	return "", err
}

func (f *fakeInferencer) Verify(_ context.Context, result string) (bool, error) {
	if result == "" {
		return false, errors.New("empty result")
	}
	return true, nil
}

func TestGenerateStructured(t *testing.T) {
	inf := &fakeInferencer{replies: []string{
		"<|assistant|>Robo woke up. Robo woke up. The garden was quiet.<|end|>",
		"```json\n{\"character\":\"A small round robot with copper plating\",\"background\":\"A misty garden at dawn\"}\n```",
	}}
	bundle, err := NewGenerator(inf).Generate(context.Background(), "  a friendly robot ")
	require.NoError(t, err)

	assert.Equal(t, "Robo woke up. The garden was quiet.", bundle.Story)
	assert.Equal(t, "A small round robot with copper plating. transparent background, PNG format", bundle.CharacterDescription)
	assert.Equal(t, "A misty garden at dawn.", bundle.BackgroundDescription)

	require.Len(t, inf.calls, 2)
	assert.Contains(t, inf.calls[0].user, "a friendly robot")
	assert.False(t, inf.calls[0].structured)
	assert.True(t, inf.calls[1].structured)
	assert.Equal(t, bundle.Story, inf.calls[1].user)
}

func TestGenerateFallsBackToPlainPrompts(t *testing.T) {
	inf := &fakeInferencer{replies: []string{
		"A dragon could not fly.",
		"not json at all",
		"A tiny green dragon",
		"A windy cliff",
	}}
	bundle, err := NewGenerator(inf).Generate(context.Background(), "dragon")
	require.NoError(t, err)

	require.Len(t, inf.calls, 4)
	assert.Equal(t, characterSystemPrompt, inf.calls[2].system)
	assert.Equal(t, backgroundSystemPrompt, inf.calls[3].system)
	assert.Equal(t, "A tiny green dragon. transparent background, PNG format", bundle.CharacterDescription)
	assert.Equal(t, "A windy cliff.", bundle.BackgroundDescription)
}

func TestGenerateFallsBackOnStructuredError(t *testing.T) {
	inf := &fakeInferencer{
		replies: []string{"Story.", "", "Hero", "Place"},
		errs:    []error{nil, errors.New("response_format unsupported")},
	}
	bundle, err := NewGenerator(inf).Generate(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "Place.", bundle.BackgroundDescription)
}

func TestGenerateErrors(t *testing.T) {
	_, err := NewGenerator(&fakeInferencer{}).Generate(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrNoTopic)

	_, err = NewGenerator(&fakeInferencer{replies: []string{"<|assistant|>   <|end|>"}}).Generate(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmptyStory)

	boom := errors.New("boom")
	_, err = NewGenerator(&fakeInferencer{errs: []error{boom}}).Generate(context.Background(), "x")
	assert.ErrorIs(t, err, boom)

	inf := &fakeInferencer{
		replies: []string{"Story.", "{}", ""},
		errs:    []error{nil, nil, boom},
	}
	_, err = NewGenerator(inf).Generate(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "character description")
}
