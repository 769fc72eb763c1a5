package textnormalize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/unicode/norm"
)

// Fold prepares text for case- and width-insensitive substring matching:
// NFKC, lowercase, punctuation collapsed to single spaces. Scripts are kept
// as-is so Hangul titles still match Hangul ban words.
func Fold(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.ToLower(norm.NFKC.String(s))

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// ASCII folds and then transliterates to ASCII (best-effort), for matching
// romanized input against native-script text.
func ASCII(s string) string {
	f := Fold(s)
	if f == "" {
		return ""
	}
	return strings.Join(strings.Fields(strings.ToLower(unidecode.Unidecode(f))), " ")
}

// ContainsAny reports whether the folded text contains any folded needle.
// Empty needles never match.
func ContainsAny(text string, needles []string) bool {
	if len(needles) == 0 {
		return false
	}
	hay := Fold(text)
	if hay == "" {
		return false
	}
	for _, n := range needles {
		fn := Fold(n)
		if fn != "" && strings.Contains(hay, fn) {
			return true
		}
	}
	return false
}

// Length counts user-perceived characters (runes) after trimming, so a
// 12-character Korean headline counts as 12, not 36 bytes.
func Length(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}

// Whitespace collapses runs of whitespace into single spaces.
func Whitespace(q string) string {
	return strings.Join(strings.Fields(q), " ")
}
