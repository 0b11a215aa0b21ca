package protocol

import "time"

// Pair is one source phrase and the phonemes produced for it.
type Pair struct {
	Source   string `json:"source"`
	Phonemes string `json:"phonemes"`
}

// PhonemizeRequest asks the service to phonemize text, one utterance per
// line. Zero-valued fields fall back to the service configuration.
type PhonemizeRequest struct {
	RequestID      string  `json:"request_id,omitempty"`
	Text           string  `json:"text"`
	Language       string  `json:"language,omitempty"`
	PhoneSeparator *string `json:"phone_separator,omitempty"`
	WordSeparator  *string `json:"word_separator,omitempty"`
	Strip          *bool   `json:"strip,omitempty"`
	WithStress     *bool   `json:"with_stress,omitempty"`
	LanguageSwitch string  `json:"language_switch,omitempty"`
	UnicodeForm    string  `json:"unicode_form,omitempty"`
}

// Utterance is the outcome of one request line.
type Utterance struct {
	Number         int    `json:"number"`
	Text           string `json:"text"`
	Phonemes       string `json:"phonemes,omitempty"`
	Alignment      []Pair `json:"alignment,omitempty"`
	LanguageSwitch bool   `json:"language_switch,omitempty"`
	Kept           bool   `json:"kept"`
}

// PhonemizeResponse answers a PhonemizeRequest. Error is set instead of the
// results when the run failed.
type PhonemizeResponse struct {
	RequestID      string      `json:"request_id"`
	RunID          string      `json:"run_id,omitempty"`
	Language       string      `json:"language,omitempty"`
	Lines          []string    `json:"lines,omitempty"`
	Utterances     []Utterance `json:"utterances,omitempty"`
	SwitchedLines  []int       `json:"switched_lines,omitempty"`
	Error          string      `json:"error,omitempty"`
	DurationMillis int64       `json:"duration_ms"`
}

// LanguagesResponse lists the engine voices keyed by language code.
type LanguagesResponse struct {
	Languages map[string]string `json:"languages"`
	Error     string            `json:"error,omitempty"`
}

// RunCompleted is broadcast after every run, successful or not.
type RunCompleted struct {
	RunID     string    `json:"run_id"`
	RequestID string    `json:"request_id"`
	Language  string    `json:"language"`
	Lines     int       `json:"lines"`
	Kept      int       `json:"kept"`
	Switched  int       `json:"switched"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectPhonemizeRequest = "phonemize.request"
	SubjectLanguages        = "phonemize.languages"
	SubjectRunCompleted     = "phonemize.done"
)
