package merge

import (
	"maps"
	"net/netip"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/sudorandom/ixpdetect/pkg/lpm"
	"github.com/sudorandom/ixpdetect/pkg/names"
	"github.com/sudorandom/ixpdetect/pkg/sources"
	"github.com/sudorandom/ixpdetect/pkg/utils"
)

// Index is the longest-prefix-match view of the IXP subnets.
type Index = lpm.Trie[[]names.Identity]

func covers[V any](t *lpm.Trie[V], p netip.Prefix) bool {
	if t == nil {
		return false
	}
	_, _, ok := t.LookupPrefix(p)
	return ok
}

// SubnetStats counts what BuildSubnetIndex did with its input.
type SubnetStats struct {
	Reserved int
	User     int
	// Merged narrower subnets whose names were folded into the broader one.
	Merged int
	// Redundant narrower subnets that added nothing.
	Redundant int
}

// BuildSubnetIndex inserts subnets broadest first. Subnets inside reserved or
// user space are skipped. A subnet covered by one already inserted is
// reconciled into it and removed, so of two nested subnets only the broader
// survives.
func BuildSubnetIndex(nm sources.NameMap, geo sources.GeoMap, reserved *lpm.Trie[string], user *lpm.Trie[struct{}], r *names.Reconciler) (*Index, sources.NameMap, sources.GeoMap, SubnetStats) {
	if r == nil {
		r = names.NewReconciler(nil)
	}
	index := lpm.New[[]names.Identity]()
	outNames := make(sources.NameMap, len(nm))
	outGeo := make(sources.GeoMap, len(geo))
	var stats SubnetStats

	keys := slices.Collect(maps.Keys(nm))
	lpm.SortPrefixes(keys)
	for _, p := range keys {
		ids := nm[p]
		log := utils.Log.WithField("prefix", p)
		switch {
		case covers(reserved, p):
			log.Debug("Dropping subnet in reserved space")
			stats.Reserved++
			continue
		case covers(user, p):
			log.Debug("Dropping subnet overridden by user data")
			stats.User++
			continue
		}
		broader, existing, ok := index.LookupPrefix(p)
		if !ok {
			if err := index.Insert(p, ids); err != nil {
				log.Warnf("Skipping subnet: %v", err)
				continue
			}
			outNames[p] = ids
			if g, ok := geo[p]; ok {
				outGeo[p] = g
			}
			continue
		}
		merged := Identities(existing, ids, r)
		if slices.Equal(merged, existing) {
			stats.Redundant++
			continue
		}
		log = log.WithFields(logrus.Fields{"covering": broader})
		if err := index.Insert(broader, merged); err != nil {
			log.Warnf("Skipping subnet: %v", err)
			continue
		}
		log.Debug("Folding names into covering subnet")
		outNames[broader] = merged
		stats.Merged++
	}
	return index, outNames, outGeo, stats
}

// ExcludeReservedSubnets removes every indexed subnet that covers reserved
// space.
func ExcludeReservedSubnets(index *Index, nm sources.NameMap, geo sources.GeoMap, reserved *lpm.Trie[string]) int {
	if reserved == nil {
		return 0
	}
	removed := 0
	for _, rp := range reserved.Prefixes() {
		for {
			p, _, ok := index.LookupPrefix(rp)
			if !ok {
				break
			}
			index.Remove(p)
			delete(nm, p)
			delete(geo, p)
			removed++
		}
	}
	return removed
}

// IncludeAdditional layers the user's subnets over the index. A user subnet
// evicts every registry subnet it covers or is covered by and is inserted
// with its names as given. Host entries of user addresses only replace the
// exact /32. User entries touching reserved space are dropped like any other.
func IncludeAdditional(index *Index, nm sources.NameMap, geo sources.GeoMap, user *sources.Overrides, reserved *lpm.Trie[string]) int {
	if user == nil {
		return 0
	}
	evicted := 0
	keys := slices.Collect(maps.Keys(user.Names))
	lpm.SortPrefixes(keys)
	for _, p := range keys {
		if touchesReserved(reserved, p) {
			utils.Log.WithField("prefix", p).Warn("Dropping user entry in reserved space")
			continue
		}
		if user.Subnets != nil && isSubnet(user.Subnets, p) {
			for _, q := range append(index.Covering(p), index.Covered(p)...) {
				if _, mine := user.Names[q]; mine {
					continue
				}
				index.Remove(q)
				delete(nm, q)
				delete(geo, q)
				evicted++
			}
		}
		ids := slices.Clone(user.Names[p])
		if err := index.Insert(p, ids); err != nil {
			continue
		}
		nm[p] = ids
		if g, ok := user.Geo[p]; ok {
			geo[p] = g
		}
	}
	return evicted
}

func touchesReserved(reserved *lpm.Trie[string], p netip.Prefix) bool {
	return covers(reserved, p) || (reserved != nil && len(reserved.Covered(p)) > 0)
}

func isSubnet(t *lpm.Trie[struct{}], p netip.Prefix) bool {
	_, ok := t.Get(p)
	return ok
}

// ExcludeReserved drops addresses in reserved space.
func ExcludeReserved(m sources.ASNMap, reserved *lpm.Trie[string]) int {
	if reserved == nil {
		return 0
	}
	removed := 0
	for ip := range m {
		if reserved.Contains(ip) {
			delete(m, ip)
			removed++
		}
	}
	return removed
}
