// Package names reconciles IXP names reported by independent sources.
package names

import "fmt"

// Identity is the (long name, short name) pair of an IXP.
type Identity struct {
	Long  string
	Short string
}

func (id Identity) IsEmpty() bool {
	return id.Long == "" && id.Short == ""
}

func (id Identity) String() string {
	return fmt.Sprintf("%s (%s)", id.Long, id.Short)
}

// Reconciler merges identities using a Matcher.
type Reconciler struct {
	Matcher *Matcher
}

func NewReconciler(m *Matcher) *Reconciler {
	if m == nil {
		m = DefaultMatcher()
	}
	return &Reconciler{Matcher: m}
}

func longer(a, b string) string {
	if len(b) > len(a) {
		return b
	}
	return a
}

// pick chooses a value for one channel: the longer literal when both match,
// otherwise whichever side is present.
func (r *Reconciler) pick(a, b, ka, kb string) string {
	switch {
	case r.Matcher.Same(ka, kb):
		return longer(a, b)
	case Key(ka) == "" && Key(kb) != "":
		return b
	case Key(ka) != "" && Key(kb) == "":
		return a
	}
	return ""
}

// dropDegenerate blanks a long name that is only a spelling of the short name.
func dropDegenerate(id Identity) Identity {
	if id.Long != "" && Key(id.Long) == Key(id.Short) {
		id.Long = ""
	}
	return id
}

// Reconcile returns the canonical identities for two descriptions of the same
// subnet. The result has one element, or two when nothing ties them together.
func (r *Reconciler) Reconcile(a, b Identity) []Identity {
	a, b = dropDegenerate(a), dropDegenerate(b)
	s1, s2 := ConcatNums(a.Short), ConcatNums(b.Short)
	l1, l2 := ConcatNums(a.Long), ConcatNums(b.Long)

	s1InL2 := ShortInLong(s1, l2)
	s2InL1 := ShortInLong(s2, l1)
	s1InS2 := ShortInLong(s1, s2)
	s2InS1 := ShortInLong(s2, s1)
	l1InL2 := ShortInLong(l1, l2)
	l2InL1 := ShortInLong(l2, l1)

	out := Identity{
		Long:  r.pick(a.Long, b.Long, l1, l2),
		Short: r.pick(a.Short, b.Short, s1, s2),
	}

	switch {
	case out.Long == "" && out.Short == "":
		switch {
		case s1InL2:
			out = Identity{Long: b.Long, Short: a.Short}
		case s2InL1:
			out = Identity{Long: a.Long, Short: b.Short}
		default:
			if s1InS2 {
				out.Short = a.Short
			} else if s2InS1 {
				out.Short = b.Short
			}
			if l1InL2 {
				out.Long = b.Long
			} else if l2InL1 {
				out.Long = a.Long
			}
			if out.IsEmpty() {
				return distinct(a, b)
			}
		}
	case out.Short == "":
		switch {
		case s1InL2:
			out.Short = a.Short
		case s2InL1:
			out.Short = b.Short
		case s1InS2:
			out.Short = a.Short
		case s2InS1:
			out.Short = b.Short
		}
	case out.Long == "":
		switch {
		case s1InL2:
			out.Long = b.Long
		case s2InL1:
			out.Long = a.Long
		case l1InL2:
			out.Long = b.Long
		case l2InL1:
			out.Long = a.Long
		}
	}
	return []Identity{out}
}

func distinct(a, b Identity) []Identity {
	if a == b {
		return []Identity{a}
	}
	if a.IsEmpty() {
		return []Identity{b}
	}
	if b.IsEmpty() {
		return []Identity{a}
	}
	return []Identity{a, b}
}

// Same reports whether a name matches either channel of id.
func (r *Reconciler) Same(id Identity, name string) bool {
	return r.Matcher.Same(id.Long, name) || r.Matcher.Same(id.Short, name)
}

// SameIdentity reports whether two identities agree on the long or the short
// channel.
func (r *Reconciler) SameIdentity(a, b Identity) bool {
	return r.Matcher.Same(a.Long, b.Long) || r.Matcher.Same(a.Short, b.Short)
}
