package utils

import (
	"github.com/pkoukk/tiktoken-go"
)

// NumTokens counts tokens with the cl100k encoding.
func NumTokens(text string) (int, error) {
	tkm, err := tiktoken.EncodingForModel("gpt-4-0613")
	if err != nil {
		return 0, err
	}

	return len(tkm.Encode(text, nil, nil)), nil
}
