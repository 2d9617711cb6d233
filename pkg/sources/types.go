// Package sources parses the IXP registries, the user override file, the
// reserved address list and routing snapshots into the maps the merge engine
// consumes.
package sources

import (
	"net/netip"
	"slices"

	"github.com/sudorandom/ixpdetect/pkg/lpm"
	"github.com/sudorandom/ixpdetect/pkg/names"
)

// Geo is the location reported for a subnet.
type Geo struct {
	Country string
	City    string
}

type (
	NameMap map[netip.Prefix][]names.Identity
	GeoMap  map[netip.Prefix]Geo
	ASNMap  map[netip.Addr][]uint32
)

// Dataset is the normalised content of one registry.
type Dataset struct {
	Name    string
	Names   NameMap
	Geo     GeoMap
	IPToASN ASNMap
}

func NewDataset(name string) *Dataset {
	return &Dataset{
		Name:    name,
		Names:   make(NameMap),
		Geo:     make(GeoMap),
		IPToASN: make(ASNMap),
	}
}

// Filter holds the address space normalizers must honour. Reserved space is
// always dropped. Addresses inside a user subnet are accepted even when the
// registry's own subnet list does not cover them.
type Filter struct {
	Reserved *lpm.Trie[string]
	User     *lpm.Trie[struct{}]
}

func (f Filter) reservedAddr(a netip.Addr) bool {
	return f.Reserved != nil && f.Reserved.Contains(a)
}

func (f Filter) reservedPrefix(p netip.Prefix) bool {
	if f.Reserved == nil {
		return false
	}
	_, _, ok := f.Reserved.LookupPrefix(p)
	return ok
}

func (f Filter) userAddr(a netip.Addr) bool {
	return f.User != nil && f.User.Contains(a)
}

// ipTable accumulates IP to ASN rows. An IP reported with two different ASNs
// is dropped for good.
type ipTable struct {
	asns   ASNMap
	dumped map[netip.Addr]bool
}

func newIPTable() *ipTable {
	return &ipTable{asns: make(ASNMap), dumped: make(map[netip.Addr]bool)}
}

func (t *ipTable) add(ip netip.Addr, asn uint32, accept bool) {
	if t.dumped[ip] {
		return
	}
	if prev, ok := t.asns[ip]; ok {
		if !slices.Equal(prev, []uint32{asn}) {
			delete(t.asns, ip)
			t.dumped[ip] = true
		}
		return
	}
	if accept {
		t.asns[ip] = []uint32{asn}
	}
}

// addNames attaches id to p, reconciling with any identities already present.
func addNames(m NameMap, p netip.Prefix, id names.Identity, r *names.Reconciler) {
	prev, ok := m[p]
	if !ok {
		m[p] = []names.Identity{id}
		return
	}
	var merged []names.Identity
	for _, old := range prev {
		merged = append(merged, r.Reconcile(old, id)...)
	}
	m[p] = Dedup(merged, r)
}

// Dedup removes identities that collapse into an earlier one.
func Dedup(ids []names.Identity, r *names.Reconciler) []names.Identity {
	out := make([]names.Identity, 0, len(ids))
	for _, id := range ids {
		dup := false
		for _, kept := range out {
			if len(r.Reconcile(kept, id)) == 1 {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, id)
		}
	}
	return out
}

// orient puts the longer of two cleaned names in the long slot.
func orient(long, short string) names.Identity {
	id := names.CleanIdentity(names.Identity{Long: long, Short: short})
	if len(id.Short) > len(id.Long) {
		id.Long, id.Short = id.Short, id.Long
	}
	return id
}
