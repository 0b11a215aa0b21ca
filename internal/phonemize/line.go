package phonemize

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var (
	spaceRunRE = regexp.MustCompile(` {2,}`)
	phoneRunRE = regexp.MustCompile(`_+`)
)

// normalize merges the lines the engine splits an utterance into on
// punctuation and removes the extra phone delimiters espeak-ng appends at the
// end of some words (espeak-ng issue #694).
func normalize(raw string) string {
	line := strings.TrimSpace(raw)
	line = strings.ReplaceAll(line, "\r\n", " ")
	line = strings.ReplaceAll(line, "\n", " ")
	line = spaceRunRE.ReplaceAllString(line, " ")
	line = phoneRunRE.ReplaceAllString(line, phoneDelimiter)
	return strings.ReplaceAll(line, phoneDelimiter+" ", " ")
}

// phonemizeLine runs one utterance through the engine and the output
// policies. Utterance.Kept is false when it produces no output line.
func (b *Backend) phonemizeLine(ctx context.Context, n int, text string) (Utterance, error) {
	u := Utterance{Number: n, Text: text}

	raw, err := b.engine.Run(ctx, text, b.opts.Language)
	if err != nil {
		return u, fmt.Errorf("line %d: %w", n, err)
	}

	phonemized, table, err := ParseAlignment(normalize(raw))
	if err != nil {
		return u, fmt.Errorf("line %d: %w", n, err)
	}

	phonemized, found, keep := b.opts.LanguageSwitch.apply(phonemized)
	if found {
		b.report.record(n)
		u.Switched = true
	}
	if !keep || phonemized == "" {
		return u, nil
	}

	u.Kept = true
	u.Phonemes = b.assemble(phonemized)
	u.Alignment = table
	return u, nil
}

func (b *Backend) assemble(text string) string {
	sep := b.opts.Separator
	var out strings.Builder
	for _, word := range strings.Split(text, wordDelimiter) {
		w := strings.TrimSpace(word)
		if w == "" {
			continue
		}
		if !b.opts.WithStress {
			w = StripStress(w)
		}
		w = b.symbols.Apply(w)
		if !b.opts.Strip {
			w += phoneDelimiter
		}
		out.WriteString(strings.ReplaceAll(w, phoneDelimiter, sep.Phone))
		out.WriteString(sep.Word)
	}

	line := out.String()
	if b.opts.Strip && len(line) >= len(sep.Word) {
		line = line[:len(line)-len(sep.Word)]
	}
	return b.opts.UnicodeForm.apply(line)
}
