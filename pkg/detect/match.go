package detect

import (
	"github.com/sudorandom/ixpdetect/pkg/classify"
	"github.com/sudorandom/ixpdetect/pkg/names"
	"github.com/sudorandom/ixpdetect/pkg/rules"
)

// compatible checks a clause against the type of the hop it applies to. An
// IXP_IP clause joined with AS_M needs an IXP member address, any other IXP_IP
// clause an address inside an IXP subnet, and the remaining clauses a hop
// outside every IXP.
func compatible(c rules.Clause, t classify.Type) bool {
	mem, hasMem := c.Has(rules.Membership)
	_, noReply := c.Has(rules.NoReply)
	switch {
	case c.IsIXP() && hasMem && !mem.Negated:
		return t == classify.IXPIP
	case c.IsIXP():
		return t.IsIXP()
	case noReply:
		return t == classify.Unresolved
	}
	return !t.IsIXP()
}

// reference picks the IXP hop an AS_M clause at window position k is tested
// against: the pivot when it is an IXP hop other than k, otherwise the
// nearest IXP hop of the window.
func reference(views []HopView, k int) (HopView, bool) {
	if k != pivot && pivot < len(views) && views[pivot].Type.IsIXP() {
		return views[pivot], true
	}
	best, found := 0, false
	for j, v := range views {
		if j == k || !v.Type.IsIXP() {
			continue
		}
		if !found || abs(j-k) < abs(best-k) {
			best, found = j, true
		}
	}
	if !found {
		return HopView{}, false
	}
	return views[best], true
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

var defaultReconciler = names.NewReconciler(nil)

func (d *Detector) reconciler() *names.Reconciler {
	if d.Reconciler == nil {
		return defaultReconciler
	}
	return d.Reconciler
}

// isMember reports whether asn has an address at the reference hop's IXP.
func (d *Detector) isMember(asn uint32, ref HopView) bool {
	if d.Membership == nil || ref.Identity.IsEmpty() {
		return false
	}
	for _, m := range d.Membership.Members(asn) {
		if d.reconciler().Same(ref.Identity, m.Long) || d.reconciler().Same(ref.Identity, m.Short) {
			return true
		}
	}
	return false
}

// Match evaluates a rule against one concrete window. A rule holds when every
// clause is satisfied and at least one clause was checked.
func (d *Detector) Match(r rules.Rule, views []HopView) bool {
	if len(r.Clauses) > len(views) {
		return false
	}
	for k, c := range r.Clauses {
		if !compatible(c, views[k].Type) {
			return false
		}
	}
	checks := 0
	for k, c := range r.Clauses {
		if c.IsIXP() {
			checks++
			continue
		}
		t, ok := c.Has(rules.Membership)
		if !ok {
			continue
		}
		checks++
		h := views[k]
		if h.ASN == 0 {
			return false
		}
		ref, ok := reference(views, k)
		if !ok {
			return false
		}
		if d.isMember(h.ASN, ref) == t.Negated {
			return false
		}
	}
	return checks > 0 && d.backReferences(r, views)
}

type backRef struct {
	clause int
	digit  int
}

// backReferences enforces the digit suffixes: two terms of the same keyword
// family with equal digits need equal values on their hops, different digits
// different values. ASNs are compared for AS_M terms and identities for IXP_IP
// terms. Unknown values satisfy neither.
func (d *Detector) backReferences(r rules.Rule, views []HopView) bool {
	families := map[string][]backRef{}
	for k, c := range r.Clauses {
		for _, t := range c.Terms {
			if t.Ref >= 0 {
				families[t.Keyword] = append(families[t.Keyword], backRef{clause: k, digit: t.Ref})
			}
		}
	}
	for kw, refs := range families {
		for x := 0; x < len(refs); x++ {
			for y := x + 1; y < len(refs); y++ {
				a, b := views[refs[x].clause], views[refs[y].clause]
				var same bool
				switch kw {
				case rules.Membership:
					if a.ASN == 0 || b.ASN == 0 {
						return false
					}
					same = a.ASN == b.ASN
				case rules.IXPIP:
					if a.Identity.IsEmpty() || b.Identity.IsEmpty() {
						return false
					}
					same = d.reconciler().SameIdentity(a.Identity, b.Identity)
				default:
					continue
				}
				if same != (refs[x].digit == refs[y].digit) {
					return false
				}
			}
		}
	}
	return true
}
