package phonemize

import (
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// UnicodeForm is the normalization applied to assembled output lines.
type UnicodeForm string

const (
	FormNone UnicodeForm = "none"
	FormNFC  UnicodeForm = "nfc"
	FormNFD  UnicodeForm = "nfd"
)

// ParseUnicodeForm validates a form name; the empty string means none.
func ParseUnicodeForm(s string) (UnicodeForm, error) {
	switch f := UnicodeForm(s); f {
	case "":
		return FormNone, nil
	case FormNone, FormNFC, FormNFD:
		return f, nil
	}
	return "", fmt.Errorf("%w: unicode form %q, must be in %s, %s, %s", ErrInvalidOption, s, FormNone, FormNFC, FormNFD)
}

func (f UnicodeForm) apply(s string) string {
	switch f {
	case FormNFC:
		return norm.NFC.String(s)
	case FormNFD:
		return norm.NFD.String(s)
	}
	return s
}
