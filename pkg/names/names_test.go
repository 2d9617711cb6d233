package names

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"AMS-IX", "amsix"},
		{"DE-CIX Frankfurt", "decixfrankfurt"},
		{"  ", ""},
		{"NULL", "none"},
		{"Équinix", "quinix"},
	}
	for _, tt := range tests {
		if got := Key(tt.in); got != tt.want {
			t.Errorf("Key(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClean(t *testing.T) {
	require.Equal(t, "LINX LON1", Clean("LINX (London Internet Exchange) LON1"))
	require.Equal(t, "Equinix Ashburn VA", Clean(" Equinix,  Ashburn,VA "))
}

func TestConcatNums(t *testing.T) {
	tests := []struct{ in, want string }{
		{"LINX Lon 1", "LINX Lon1"},
		{"Lon 1 2", "Lon12"},
		{"NL-ix", "NL-ix"},
		{"", ""},
		{"1 IX", "1 IX"},
	}
	for _, tt := range tests {
		if got := ConcatNums(tt.in); got != tt.want {
			t.Errorf("ConcatNums(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestShortInLong(t *testing.T) {
	tests := []struct {
		short, long string
		want        bool
	}{
		{"AMS-IX", "AMS IX Amsterdam", true},
		{"LINX", "London Internet Exchange LINX", true},
		{"LINX Lon1", "LINX Lon1 London", true},
		{"LINX Lon2", "LINX Lon1 London", false},
		{"ix", "mix", false},
		{"", "anything", false},
		{"a b", "b a", true},
		{"a a", "a", true},
	}
	for _, tt := range tests {
		if got := ShortInLong(tt.short, tt.long); got != tt.want {
			t.Errorf("ShortInLong(%q, %q) = %v, want %v", tt.short, tt.long, got, tt.want)
		}
	}
}

func TestMatcherSame(t *testing.T) {
	m := DefaultMatcher()
	require.True(t, m.Same("AMS-IX", "AMSIX"))
	require.True(t, m.Same("Netnod Stockholm", "Netnod Stockholm (STH)"))
	require.False(t, m.Same("", ""))
	require.False(t, m.Same("DE-CIX", ""))
	require.False(t, m.Same("LINX", "AMS-IX"))
}

type fixedScore float64

func (f fixedScore) Score(a, b string) float64 { return float64(f) }

func TestMatcherPluggable(t *testing.T) {
	m := &Matcher{Ratio: fixedScore(0.5), Edit: fixedScore(0.95), RatioThreshold: 0.8, EditThreshold: 0.9}
	require.True(t, m.Same("x", "y"), "edit metric alone is enough")

	m.Edit = fixedScore(0.1)
	require.False(t, m.Same("x", "y"))

	m.Ratio = fixedScore(0.81)
	require.True(t, m.Same("x", "y"))
}

func TestScores(t *testing.T) {
	require.InDelta(t, 1.0, Ratio{}.Score("abcd", "abcd"), 1e-9)
	require.InDelta(t, 0.75, Ratio{}.Score("abcd", "abce"), 1e-9)
	require.InDelta(t, 0.75, EditRatio{}.Score("abcd", "abce"), 1e-9)
	require.InDelta(t, 1.0, EditRatio{}.Score("", ""), 1e-9)
}

func TestReconcile(t *testing.T) {
	r := NewReconciler(nil)
	tests := []struct {
		name string
		a, b Identity
		want []Identity
	}{
		{
			name: "short match with degenerate long",
			a:    Identity{Long: "AMS-IX", Short: "AMSIX"},
			b:    Identity{Long: "Amsterdam Internet Exchange", Short: "AMS-IX"},
			want: []Identity{{Long: "Amsterdam Internet Exchange", Short: "AMS-IX"}},
		},
		{
			name: "longer literal wins on long match",
			a:    Identity{Long: "Netnod Stockholm", Short: "Netnod"},
			b:    Identity{Long: "Netnod Stockholm AB", Short: "Netnod"},
			want: []Identity{{Long: "Netnod Stockholm AB", Short: "Netnod"}},
		},
		{
			name: "one side empty",
			a:    Identity{},
			b:    Identity{Long: "London Internet Exchange", Short: "LINX"},
			want: []Identity{{Long: "London Internet Exchange", Short: "LINX"}},
		},
		{
			name: "short in other long",
			a:    Identity{Long: "Big Peering Cooperative Zurich", Short: "SwissIX"},
			b:    Identity{Long: "SwissIX Lucerne Switzerland", Short: "TIX-Z"},
			want: []Identity{{Long: "SwissIX Lucerne Switzerland", Short: "SwissIX"}},
		},
		{
			name: "irreconcilable",
			a:    Identity{Long: "Foo Internet Exchange", Short: "FIX"},
			b:    Identity{Long: "Bar Peering Point", Short: "BPP"},
			want: []Identity{
				{Long: "Foo Internet Exchange", Short: "FIX"},
				{Long: "Bar Peering Point", Short: "BPP"},
			},
		},
		{
			name: "long match, short resolved by containment",
			a:    Identity{Long: "Moscow Internet Exchange", Short: "MSK-IX"},
			b:    Identity{Long: "Moscow Internet eXchange", Short: "MSK-IX Moscow"},
			want: []Identity{{Long: "Moscow Internet Exchange", Short: "MSK-IX"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, r.Reconcile(tt.a, tt.b))
		})
	}
}

func TestReconcileIdempotent(t *testing.T) {
	r := NewReconciler(nil)
	id := Identity{Long: "Deutscher Commercial Internet Exchange", Short: "DE-CIX"}
	require.Equal(t, []Identity{id}, r.Reconcile(id, id))
}

func TestSameIdentity(t *testing.T) {
	r := NewReconciler(nil)
	id := Identity{Long: "London Internet Exchange", Short: "LINX"}
	require.True(t, r.Same(id, "LINX"))
	require.True(t, r.Same(id, "London Internet Exchange Ltd"))
	require.False(t, r.Same(id, "DE-CIX"))
	require.True(t, r.SameIdentity(id, Identity{Short: "LINX"}))
	require.False(t, r.SameIdentity(id, Identity{}))
}
