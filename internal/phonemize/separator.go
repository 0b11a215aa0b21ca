package phonemize

// phoneDelimiter is the phone boundary the engine emits inside a word
// (requested with --sep=_). It is rewritten to Separator.Phone on output.
const phoneDelimiter = "_"

// wordDelimiter separates words in the engine's phonemized text.
const wordDelimiter = " "

// Separator holds the strings inserted between phones and between words.
type Separator struct {
	Phone string `json:"phone" yaml:"phone"`
	Word  string `json:"word" yaml:"word"`
}

// DefaultSeparator joins phones with nothing and words with a single space.
func DefaultSeparator() Separator {
	return Separator{Phone: "", Word: " "}
}
