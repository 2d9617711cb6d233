// Package merge combines the per-registry datasets into one authoritative
// view of IXP subnets, names, locations and member addresses.
//
// Inputs are never modified; every function returns fresh maps.
package merge

import (
	"net/netip"
	"slices"

	"github.com/sudorandom/ixpdetect/pkg/names"
	"github.com/sudorandom/ixpdetect/pkg/sources"
)

// LargerFirst orders two maps so that the one with more entries comes
// first. On a tie d1 stays first. The first map is the base that the second
// is folded into, which makes merge results depend on dataset size rather
// than on argument order.
func LargerFirst[K comparable, V any](d1, d2 map[K]V) (base, other map[K]V) {
	if len(d2) > len(d1) {
		return d2, d1
	}
	return d1, d2
}

// Identities reconciles every pair drawn from a and b and drops the
// candidates that collapse into an earlier one.
func Identities(a, b []names.Identity, r *names.Reconciler) []names.Identity {
	var out []names.Identity
	for _, x := range a {
		for _, y := range b {
			out = append(out, r.Reconcile(x, y)...)
		}
	}
	return sources.Dedup(out, r)
}

// Names merges two subnet name maps. Subnets known to both sources are
// reconciled; the rest pass through unchanged.
func Names(d1, d2 sources.NameMap, r *names.Reconciler) sources.NameMap {
	if r == nil {
		r = names.NewReconciler(nil)
	}
	out := make(sources.NameMap, len(d1)+len(d2))
	for k, v := range d2 {
		out[k] = slices.Clone(v)
	}
	for k, v := range d1 {
		if other, ok := d2[k]; ok {
			out[k] = Identities(v, other, r)
			continue
		}
		out[k] = slices.Clone(v)
	}
	return out
}

// Coverage answers whether an address lies in a known IXP subnet.
type Coverage interface {
	Contains(addr netip.Addr) bool
}

// IPToASN merges two address maps. An empty ASN list is filled from the other
// side and addresses reported with different ASNs are dropped. With
// checkDirty, addresses outside every subnet of coverage are moved to the
// returned dirty map.
func IPToASN(d1, d2 sources.ASNMap, checkDirty bool, coverage Coverage) (merged, dirty sources.ASNMap, conflicts int) {
	base, other := LargerFirst(d1, d2)
	merged = make(sources.ASNMap, len(base)+len(other))
	for ip, asns := range base {
		merged[ip] = slices.Clone(asns)
	}
	for ip, asns := range other {
		cur, ok := merged[ip]
		switch {
		case !ok:
			merged[ip] = slices.Clone(asns)
		case len(cur) == 0 && len(asns) > 0:
			merged[ip] = slices.Clone(asns)
		case len(cur) > 0 && len(asns) > 0 && !slices.Equal(cur, asns):
			delete(merged, ip)
			conflicts++
		}
	}
	dirty = make(sources.ASNMap)
	if checkDirty && coverage != nil {
		for ip, asns := range merged {
			if !coverage.Contains(ip) {
				dirty[ip] = asns
				delete(merged, ip)
			}
		}
	}
	return merged, dirty, conflicts
}

// Replace overlays the user's address entries on base.
func Replace(base, user sources.ASNMap) sources.ASNMap {
	out := make(sources.ASNMap, len(base)+len(user))
	for ip, asns := range base {
		out[ip] = asns
	}
	for ip, asns := range user {
		out[ip] = slices.Clone(asns)
	}
	return out
}

// CountryCity merges two location maps. Disagreeing values are kept side by
// side as "A//B".
func CountryCity(d1, d2 sources.GeoMap, m *names.Matcher) sources.GeoMap {
	if m == nil {
		m = names.DefaultMatcher()
	}
	base, other := LargerFirst(d1, d2)
	out := make(sources.GeoMap, len(base)+len(other))
	for k, v := range base {
		out[k] = v
	}
	for k, small := range other {
		big, ok := out[k]
		if !ok {
			out[k] = small
			continue
		}
		out[k] = sources.Geo{
			Country: pickCountry(small.Country, big.Country, m),
			City:    pickCity(small.City, big.City, m),
		}
	}
	return out
}

func pickCountry(a, b string, m *names.Matcher) string {
	switch {
	case a == b || m.Same(a, b):
		return a
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "//" + b
}

func pickCity(a, b string, m *names.Matcher) string {
	switch {
	case a == b || m.Same(a, b):
		return b
	case a == "":
		return b
	case b == "":
		return a
	case names.ShortInLong(a, b):
		return b
	case names.ShortInLong(b, a):
		return a
	}
	return a + "//" + b
}
