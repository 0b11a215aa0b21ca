package engine

import (
	"context"
	"strings"
	"unicode"
)

// mockEngine spells every word out letter by letter in the same output
// format espeak-ng uses with word mappings enabled. It needs no binary and
// is used by the daemon in mock mode and by tests.
type mockEngine struct{}

func NewMock() Runner { return &mockEngine{} }

func (m *mockEngine) Run(ctx context.Context, text, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var mapping, phonemes []string
	for _, word := range strings.Fields(text) {
		letters := make([]string, 0, len(word))
		for _, r := range strings.ToLower(word) {
			if unicode.IsLetter(r) {
				letters = append(letters, string(r))
			}
		}
		if len(letters) == 0 {
			continue
		}
		phones := strings.Join(letters, "_")
		mapping = append(mapping, word+"~|||~"+strings.Join(letters, ""))
		phonemes = append(phonemes, phones)
	}
	if len(phonemes) == 0 {
		return "\n", nil
	}
	return strings.Join(mapping, "~|~|~ ") + "~|~|~ " + strings.Join(phonemes, " ") + "\n", nil
}

func (m *mockEngine) SupportedLanguages(context.Context) (map[string]string, error) {
	return map[string]string{
		"en-us": "English (America)",
		"fr-fr": "French (France)",
	}, nil
}
