package phonemize

import "strings"

// primary stress, secondary stress, ascii stress and hyphen
var stressMarks = strings.NewReplacer("ˈ", "", "ˌ", "", "'", "", "-", "")

// StripStress removes every stress marker from a phoneme token.
func StripStress(token string) string {
	return stressMarks.Replace(token)
}
