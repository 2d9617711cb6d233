// Package classify annotates the hops of a traceroute path with what the
// merged IXP database knows about them.
package classify

import (
	"net/netip"
	"slices"

	"github.com/sudorandom/ixpdetect/pkg/lpm"
	"github.com/sudorandom/ixpdetect/pkg/names"
	"github.com/sudorandom/ixpdetect/pkg/sources"
)

type Type int

const (
	Unresolved Type = iota
	IXPIP
	IXPPrefix
	NormalIP
)

func (t Type) String() string {
	switch t {
	case IXPIP:
		return "IXP IP"
	case IXPPrefix:
		return "IXP prefix"
	case NormalIP:
		return "Normal IP"
	default:
		return "Unresolved"
	}
}

// IsIXP reports whether the hop lies on an IXP fabric.
func (t Type) IsIXP() bool {
	return t == IXPIP || t == IXPPrefix
}

// Lookup is the read side of the merged database.
type Lookup interface {
	Subnet(addr netip.Addr) (netip.Prefix, []names.Identity, bool)
	MemberASN(addr netip.Addr) ([]uint32, bool)
	DirtyASN(addr netip.Addr) ([]uint32, bool)
	Route(addr netip.Addr) (netip.Prefix, []uint32, bool)
	Location(p netip.Prefix) (sources.Geo, bool)
}

// Hop is one annotated path entry.
type Hop struct {
	Index int
	Addr  string
	IP    netip.Addr
	Type  Type
	// ASNs is empty when the hop's AS is unknown.
	ASNs       []uint32
	Identities []names.Identity
	// Ambiguous is set when the covering subnet carries more than one
	// identity.
	Ambiguous bool
	// Dirty marks an IXP member address outside every known IXP subnet.
	Dirty  bool
	Subnet netip.Prefix
	Geo    sources.Geo
}

// Classify annotates every hop of path. The checks run in a fixed order:
// the no-reply sentinel, IXP member addresses inside an IXP subnet, other
// addresses inside an IXP subnet, routed addresses and finally everything
// else. A member address is only trusted when its subnet is known too.
func Classify(db Lookup, path []string) []Hop {
	hops := make([]Hop, len(path))
	for i, raw := range path {
		hops[i] = classifyHop(db, i, raw)
	}
	return hops
}

func classifyHop(db Lookup, i int, raw string) Hop {
	h := Hop{Index: i, Addr: raw}
	if raw == sources.NoReply {
		return h
	}
	ip, err := lpm.ParseAddr(raw)
	if err != nil {
		return h
	}
	h.IP = ip
	_, h.Dirty = db.DirtyASN(ip)

	if subnet, ids, ok := db.Subnet(ip); ok {
		h.Subnet = subnet
		h.Identities = slices.Clone(ids)
		h.Ambiguous = len(ids) > 1
		h.Geo, _ = db.Location(subnet)
		h.Type = IXPPrefix
		if asns, ok := db.MemberASN(ip); ok {
			h.Type = IXPIP
			h.ASNs = slices.Clone(asns)
		}
		return h
	}
	if _, asns, ok := db.Route(ip); ok {
		h.Type = NormalIP
		h.ASNs = slices.Clone(asns)
	}
	return h
}
