package phonemize

import "errors"

var (
	// ErrInvalidOption reports a backend option outside its allowed values.
	ErrInvalidOption = errors.New("invalid phonemizer option")
	// ErrSymbolMapFormat reports a malformed symbol mapping resource.
	ErrSymbolMapFormat = errors.New("bad symbol map format")
	// ErrCorruptAlignment reports engine output that breaks the alignment protocol.
	ErrCorruptAlignment = errors.New("corrupt alignment segment")
)
