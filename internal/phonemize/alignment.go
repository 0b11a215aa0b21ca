package phonemize

import (
	"fmt"
	"strings"
)

// Engine output with word mappings enabled looks like
//
//	this~|||~DIs~|~|~ is~|||~Iz~|~|~ to be~|||~t@bi~|~|~ ðɪs ɪz ɐ təbi tɛst .
//
// Mapping segments come first and the phonemized text is always last.
const (
	groupDelimiter = "~|~|~"
	pairDelimiter  = "~|||~"
	// joins the per-subword phonemes of one source phrase, as in lVntS||ru:m
	joinMarker = "||"
)

// Pair maps a source phrase to the phonemes the engine produced for it.
type Pair struct {
	Source   string `json:"source"`
	Phonemes string `json:"phonemes"`
}

// Table is the ordered alignment of one utterance. A nil table means the
// engine emitted no mapping, which happens when every word was spelled out
// character by character.
type Table []Pair

// ParseAlignment splits one normalized engine line into its phonemized text
// and alignment table.
func ParseAlignment(line string) (string, Table, error) {
	segments := strings.Split(line, groupDelimiter)
	text := strings.TrimSpace(segments[len(segments)-1])
	if len(segments) == 1 {
		if strings.Contains(text, pairDelimiter) {
			return "", nil, fmt.Errorf("%w: pair delimiter outside of a mapping segment", ErrCorruptAlignment)
		}
		return text, nil, nil
	}

	table := make(Table, 0, len(segments)-1)
	for i, segment := range segments[:len(segments)-1] {
		fields := strings.Split(segment, pairDelimiter)
		if len(fields) != 2 {
			return "", nil, fmt.Errorf("%w: segment %d has %d fields: %q", ErrCorruptAlignment, i+1, len(fields), segment)
		}
		source := trimOneSpace(fields[0])
		if source == "" {
			return "", nil, fmt.Errorf("%w: segment %d has an empty source phrase", ErrCorruptAlignment, i+1)
		}
		table = append(table, Pair{
			Source:   source,
			Phonemes: strings.ReplaceAll(fields[1], joinMarker, " "),
		})
	}
	return text, table, nil
}

// trimOneSpace drops at most one leading and one trailing space.
func trimOneSpace(s string) string {
	s = strings.TrimPrefix(s, " ")
	return strings.TrimSuffix(s, " ")
}
