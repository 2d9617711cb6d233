// Package database builds the merged IXP database from the normalised
// registries, derives the AS membership index and persists the result.
package database

import (
	"net/netip"
	"slices"

	"github.com/pkg/errors"

	"github.com/sudorandom/ixpdetect/pkg/lpm"
	"github.com/sudorandom/ixpdetect/pkg/merge"
	"github.com/sudorandom/ixpdetect/pkg/names"
	"github.com/sudorandom/ixpdetect/pkg/sources"
)

// ErrNoData is returned when no IXP data of any kind is available.
var ErrNoData = errors.New("no IXP data available")

// Membership maps an ASN to the IXPs it has an address at.
type Membership map[uint32][]names.Identity

// DB is the merged, read-only view used for classification. It is safe for
// concurrent readers once built.
type DB struct {
	Subnets    *merge.Index
	Geo        sources.GeoMap
	IPToASN    sources.ASNMap
	Dirty      sources.ASNMap
	Routes     *sources.Routes
	Membership Membership
	Stats      merge.Stats
}

func newDB() *DB {
	return &DB{
		Subnets:    lpm.New[[]names.Identity](),
		Geo:        make(sources.GeoMap),
		IPToASN:    make(sources.ASNMap),
		Dirty:      make(sources.ASNMap),
		Routes:     lpm.New[[]uint32](),
		Membership: make(Membership),
	}
}

// Subnet returns the most specific IXP subnet covering addr.
func (db *DB) Subnet(addr netip.Addr) (netip.Prefix, []names.Identity, bool) {
	return db.Subnets.Lookup(addr)
}

// MemberASN returns the ASNs registered for an IXP member address.
func (db *DB) MemberASN(addr netip.Addr) ([]uint32, bool) {
	asns, ok := db.IPToASN[addr]
	return asns, ok
}

// Route returns the origin ASNs of the routed prefix covering addr.
func (db *DB) Route(addr netip.Addr) (netip.Prefix, []uint32, bool) {
	if db.Routes == nil {
		return netip.Prefix{}, nil, false
	}
	return db.Routes.Lookup(addr)
}

func (db *DB) Location(p netip.Prefix) (sources.Geo, bool) {
	g, ok := db.Geo[p]
	return g, ok
}

func (db *DB) Members(asn uint32) []names.Identity {
	return db.Membership[asn]
}

// Names returns the subnet to identity map held by the index.
func (db *DB) Names() sources.NameMap {
	out := make(sources.NameMap, db.Subnets.Len())
	db.Subnets.Walk(func(p netip.Prefix, ids []names.Identity) bool {
		out[p] = ids
		return true
	})
	return out
}

// BuildMembership lists, for every ASN with an IXP address, the identities of
// the subnets covering its addresses.
func BuildMembership(ipToASN sources.ASNMap, index *merge.Index) Membership {
	m := make(Membership)
	for _, ip := range sortedAddrs(ipToASN) {
		_, ids, ok := index.Lookup(ip)
		if !ok {
			continue
		}
		for _, asn := range ipToASN[ip] {
			for _, id := range ids {
				if !slices.Contains(m[asn], id) {
					m[asn] = append(m[asn], id)
				}
			}
		}
	}
	return m
}

// DirtyASN returns the ASNs of a member address that no IXP subnet covers.
func (db *DB) DirtyASN(addr netip.Addr) ([]uint32, bool) {
	asns, ok := db.Dirty[addr]
	return asns, ok
}
