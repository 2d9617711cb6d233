package names

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	parenthetical = regexp.MustCompile(`\(.*?\)`)
	spaces        = regexp.MustCompile(` +`)
)

// Key reduces a name to lowercase ASCII letters and digits. Names containing
// NULL are treated as the literal "none", matching how the registries encode
// missing values.
func Key(s string) string {
	if strings.Contains(s, "NULL") {
		return "none"
	}
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Clean drops parenthesised fragments and commas, then collapses whitespace.
func Clean(s string) string {
	s = parenthetical.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, ",", " ")
	s = strings.TrimSpace(s)
	return spaces.ReplaceAllString(s, " ")
}

// CleanIdentity applies Clean to both names.
func CleanIdentity(id Identity) Identity {
	return Identity{Long: Clean(id.Long), Short: Clean(id.Short)}
}

// ConcatNums glues standalone numbers onto the preceding word, so "IX Lon 1"
// becomes "IX Lon1".
func ConcatNums(s string) string {
	var b strings.Builder
	for _, word := range strings.Fields(s) {
		if _, err := strconv.Atoi(word); err == nil {
			b.WriteString(word)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
	}
	return b.String()
}

// Words lowercases s, turns every run of punctuation into a space and splits
// on whitespace.
func Words(s string) []string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Fields(s)
}
