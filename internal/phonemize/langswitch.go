package phonemize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// LanguageSwitch selects what happens to utterances in which the engine
// reports a switch to another language, e.g. "ɪts (fr)bɔ̃ʒuːʁ(en) ...".
type LanguageSwitch string

const (
	KeepFlags       LanguageSwitch = "keep-flags"
	RemoveFlags     LanguageSwitch = "remove-flags"
	RemoveUtterance LanguageSwitch = "remove-utterance"
)

var languageFlagRE = regexp.MustCompile(`\(.+?\)`)

// ParseLanguageSwitch validates a policy name.
func ParseLanguageSwitch(s string) (LanguageSwitch, error) {
	switch p := LanguageSwitch(s); p {
	case KeepFlags, RemoveFlags, RemoveUtterance:
		return p, nil
	}
	return "", fmt.Errorf("%w: language switch %q, must be in %s, %s, %s",
		ErrInvalidOption, s, KeepFlags, RemoveFlags, RemoveUtterance)
}

// apply returns the line after the policy and whether a switch was found.
// keep is false when the whole utterance must be discarded.
func (p LanguageSwitch) apply(line string) (out string, found, keep bool) {
	flags := languageFlagRE.FindAllString(line, -1)
	if len(flags) == 0 {
		return line, false, true
	}
	switch p {
	case RemoveFlags:
		seen := make(map[string]struct{}, len(flags))
		for _, flag := range flags {
			if _, ok := seen[flag]; ok {
				continue
			}
			seen[flag] = struct{}{}
			line = strings.ReplaceAll(line, flag, "")
		}
		return line, true, true
	case RemoveUtterance:
		return "", true, false
	default:
		return line, true, true
	}
}

// Report accumulates the utterance numbers in which a language switch was
// detected. It is safe for concurrent use.
type Report struct {
	mu    sync.Mutex
	lines []int
}

func (r *Report) record(n int) {
	r.mu.Lock()
	r.lines = append(r.lines, n)
	r.mu.Unlock()
}

// Lines returns the recorded utterance numbers in ascending order.
func (r *Report) Lines() []int {
	r.mu.Lock()
	lines := append([]int(nil), r.lines...)
	r.mu.Unlock()
	sort.Ints(lines)
	return lines
}
