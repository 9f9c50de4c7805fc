package detect

import (
	"strings"
	"unicode"
)

// Normalize lower-cases text and drops every rune that is not a letter,
// a number or whitespace. Nothing is trimmed or collapsed.
func Normalize(text string) string {
	lower := toLower(text)

	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || isSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// toLower is strings.ToLower plus the Final_Sigma rule: a capital sigma
// that ends a word lowers to ς instead of σ.
func toLower(text string) string {
	if !strings.ContainsRune(text, 'Σ') {
		return strings.ToLower(text)
	}
	rs := []rune(text)
	var b strings.Builder
	b.Grow(len(text))
	for i, r := range rs {
		if r == 'Σ' && finalSigma(rs, i) {
			b.WriteRune('ς')
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// finalSigma reports whether rs[i] follows a cased letter and is not
// followed by one, skipping case-ignorable runes both ways.
func finalSigma(rs []rune, i int) bool {
	j := i - 1
	for j >= 0 && caseIgnorable(rs[j]) {
		j--
	}
	if j < 0 || !cased(rs[j]) {
		return false
	}
	k := i + 1
	for k < len(rs) && caseIgnorable(rs[k]) {
		k++
	}
	return k == len(rs) || !cased(rs[k])
}

func cased(r rune) bool {
	return unicode.IsUpper(r) || unicode.IsLower(r) || unicode.IsTitle(r)
}

func caseIgnorable(r rune) bool {
	switch r {
	case '\'', '.', ':', '·', '\u2018', '\u2019', '\u2024', '\u00AD':
		return true
	}
	return unicode.In(r, unicode.Mn, unicode.Me, unicode.Cf, unicode.Lm, unicode.Sk)
}

// isSpace also accepts the ASCII information separators (FS, GS, RS, US),
// which str.isspace-style classifiers treat as whitespace.
func isSpace(r rune) bool {
	if r >= 0x1C && r <= 0x1F {
		return true
	}
	return unicode.IsSpace(r)
}

// Tokenize splits normalized text on runs of whitespace.
func Tokenize(text string) []string {
	return strings.FieldsFunc(text, isSpace)
}
