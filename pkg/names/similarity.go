package names

import (
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/cloudflare/ahocorasick"
	"github.com/pmezard/go-difflib/difflib"
)

const (
	DefaultRatioThreshold = 0.80
	DefaultEditThreshold  = 0.85
)

// Similarity scores two normalised names in [0, 1].
type Similarity interface {
	Score(a, b string) float64
}

// Ratio is the sequence matcher ratio 2*M/T over characters.
type Ratio struct{}

func (Ratio) Score(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	m := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return m.Ratio()
}

// EditRatio is one minus the Levenshtein distance over the longer length.
type EditRatio struct{}

func (EditRatio) Score(a, b string) float64 {
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// Matcher decides whether two names refer to the same IXP. Either metric
// exceeding its threshold is enough.
type Matcher struct {
	Ratio          Similarity
	Edit           Similarity
	RatioThreshold float64
	EditThreshold  float64
}

func NewMatcher(ratioThreshold, editThreshold float64) *Matcher {
	return &Matcher{
		Ratio:          Ratio{},
		Edit:           EditRatio{},
		RatioThreshold: ratioThreshold,
		EditThreshold:  editThreshold,
	}
}

// DefaultMatcher uses the stock thresholds.
func DefaultMatcher() *Matcher {
	return NewMatcher(DefaultRatioThreshold, DefaultEditThreshold)
}

// Same compares the Key forms of a and b. Empty names never match.
func (m *Matcher) Same(a, b string) bool {
	a, b = Key(a), Key(b)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if m.Ratio != nil && m.Ratio.Score(a, b) > m.RatioThreshold {
		return true
	}
	return m.Edit != nil && m.Edit.Score(a, b) > m.EditThreshold
}

// ShortInLong reports whether every word of short also appears as a word of
// long.
func ShortInLong(short, long string) bool {
	sw, lw := Words(short), Words(long)
	if len(sw) == 0 || len(lw) == 0 {
		return false
	}
	seen := make(map[string]bool, len(sw))
	var dict []string
	for _, w := range sw {
		if !seen[w] {
			seen[w] = true
			dict = append(dict, " "+w+" ")
		}
	}
	haystack := " " + strings.Join(lw, " ") + " "
	return len(ahocorasick.NewStringMatcher(dict).Match([]byte(haystack))) == len(dict)
}
