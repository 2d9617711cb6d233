package merge

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sudorandom/ixpdetect/pkg/lpm"
	"github.com/sudorandom/ixpdetect/pkg/names"
	"github.com/sudorandom/ixpdetect/pkg/sources"
)

var (
	docNet  = netip.MustParsePrefix("203.0.113.0/24")
	amsix   = names.Identity{Long: "Amsterdam Internet Exchange", Short: "AMS-IX"}
	frix    = names.Identity{Long: "Frankfurt Internet Exchange", Short: "FRIX"}
	fooIX   = names.Identity{Long: "Foo Internet Exchange", Short: "FIX"}
	barIX   = names.Identity{Long: "Bar Peering Point", Short: "BPP"}
	linx    = names.Identity{Long: "London Internet Exchange", Short: "LINX"}
	pfx     = netip.MustParsePrefix
	addr    = netip.MustParseAddr
	noRsvd  *lpm.Trie[string]
	noUsers *lpm.Trie[struct{}]
)

func TestLargerFirst(t *testing.T) {
	small := map[string]int{"a": 1}
	big := map[string]int{"a": 2, "b": 3}

	base, other := LargerFirst(small, big)
	require.Equal(t, big, base)
	require.Equal(t, small, other)

	base, _ = LargerFirst(big, small)
	require.Equal(t, big, base)

	tie := map[string]int{"z": 9, "y": 8}
	base, _ = LargerFirst(tie, big)
	require.Equal(t, tie, base, "ties keep the first argument as base")
}

func TestNamesReconcilesSharedSubnet(t *testing.T) {
	a := sources.NameMap{docNet: {{Long: "AMS-IX", Short: "AMSIX"}}}
	b := sources.NameMap{docNet: {amsix}}

	merged := Names(a, b, nil)
	require.Equal(t, []names.Identity{amsix}, merged[docNet])
}

func TestNamesIrreconcilable(t *testing.T) {
	a := sources.NameMap{docNet: {fooIX}}
	b := sources.NameMap{docNet: {barIX}}

	merged := Names(a, b, nil)
	require.Len(t, merged[docNet], 2)
	require.ElementsMatch(t, []names.Identity{fooIX, barIX}, merged[docNet])
}

func TestNamesPassThroughAndInputsUntouched(t *testing.T) {
	a := sources.NameMap{pfx("185.1.0.0/24"): {frix}}
	b := sources.NameMap{pfx("185.2.0.0/24"): {linx}}

	merged := Names(a, b, nil)
	require.Len(t, merged, 2)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
}

func TestNamesAssociative(t *testing.T) {
	r := names.NewReconciler(nil)
	a := sources.NameMap{pfx("185.1.0.0/24"): {frix}, docNet: {amsix}}
	b := sources.NameMap{docNet: {amsix}, pfx("185.2.0.0/24"): {linx}}
	c := sources.NameMap{pfx("185.2.0.0/24"): {linx}, pfx("185.3.0.0/24"): {fooIX}}

	left := Names(Names(a, b, r), c, r)
	right := Names(a, Names(b, c, r), r)
	require.Equal(t, len(left), len(right))
	for k, v := range left {
		require.ElementsMatch(t, v, right[k], k.String())
	}
}

func TestIPToASN(t *testing.T) {
	d1 := sources.ASNMap{addr("185.1.0.1"): {1}, addr("185.1.0.2"): {2}, addr("185.1.0.3"): {4}}
	d2 := sources.ASNMap{addr("185.1.0.1"): {1}, addr("185.1.0.2"): {3}, addr("185.1.0.3"): {}, addr("185.1.0.4"): {5}}

	merged, dirty, conflicts := IPToASN(d1, d2, false, nil)
	require.Equal(t, sources.ASNMap{
		addr("185.1.0.1"): {1},
		addr("185.1.0.3"): {4},
		addr("185.1.0.4"): {5},
	}, merged)
	require.Empty(t, dirty)
	require.Equal(t, 1, conflicts)
}

func TestIPToASNDirty(t *testing.T) {
	index := lpm.New[[]names.Identity]()
	require.NoError(t, index.Insert(docNet, []names.Identity{amsix}))

	registry := sources.ASNMap{addr("203.0.113.5"): {1200}, addr("198.51.100.9"): {3333}}
	merged, dirty, _ := IPToASN(registry, nil, true, index)

	require.Equal(t, sources.ASNMap{addr("203.0.113.5"): {1200}}, merged)
	require.Equal(t, sources.ASNMap{addr("198.51.100.9"): {3333}}, dirty)
}

func TestReplace(t *testing.T) {
	base := sources.ASNMap{addr("185.1.0.1"): {1}, addr("185.1.0.2"): {2}}
	user := sources.ASNMap{addr("185.1.0.2"): {20}}
	require.Equal(t, sources.ASNMap{addr("185.1.0.1"): {1}, addr("185.1.0.2"): {20}}, Replace(base, user))
	require.Equal(t, []uint32{2}, base[addr("185.1.0.2")])
}

func TestCountryCity(t *testing.T) {
	p1, p2, p3, p4 := pfx("185.1.0.0/24"), pfx("185.2.0.0/24"), pfx("185.3.0.0/24"), pfx("185.4.0.0/24")
	d1 := sources.GeoMap{
		p1: {Country: "NL", City: "Amsterdam"},
		p2: {Country: "DE", City: "Frankfurt"},
		p3: {Country: "", City: "New York"},
	}
	d2 := sources.GeoMap{
		p1: {Country: "NL", City: "Amsterdam"},
		p2: {Country: "FR", City: "Paris"},
		p3: {Country: "US", City: "New York City"},
		p4: {Country: "GB", City: "London"},
	}
	got := CountryCity(d1, d2, nil)
	require.Equal(t, sources.Geo{Country: "NL", City: "Amsterdam"}, got[p1])
	require.Equal(t, sources.Geo{Country: "DE//FR", City: "Frankfurt//Paris"}, got[p2])
	require.Equal(t, "US", got[p3].Country)
	require.Equal(t, "New York City", got[p3].City)
	require.Equal(t, "London", got[p4].City)
}

func TestBuildSubnetIndexCovering(t *testing.T) {
	broad, narrow := pfx("185.1.0.0/23"), pfx("185.1.1.0/24")

	t.Run("redundant narrower subnet is dropped", func(t *testing.T) {
		nm := sources.NameMap{broad: {frix}, narrow: {frix}}
		index, out, _, stats := BuildSubnetIndex(nm, nil, noRsvd, noUsers, nil)
		require.Equal(t, 1, index.Len())
		require.Equal(t, sources.NameMap{broad: {frix}}, out)
		require.Equal(t, 1, stats.Redundant)
	})

	t.Run("differing narrower subnet is folded into the broader", func(t *testing.T) {
		nm := sources.NameMap{narrow: {barIX}, broad: {fooIX}}
		index, out, _, stats := BuildSubnetIndex(nm, nil, noRsvd, noUsers, nil)
		require.Equal(t, 1, index.Len())
		require.Len(t, out, 1)
		require.ElementsMatch(t, []names.Identity{fooIX, barIX}, out[broad])
		_, ids, ok := index.Lookup(addr("185.1.1.1"))
		require.True(t, ok)
		require.Len(t, ids, 2)
		require.Equal(t, 1, stats.Merged)
	})

	t.Run("reserved and user space are skipped", func(t *testing.T) {
		user := lpm.New[struct{}]()
		require.NoError(t, user.Insert(pfx("185.9.0.0/16"), struct{}{}))
		nm := sources.NameMap{
			pfx("10.1.0.0/24"):  {linx},
			pfx("185.9.1.0/24"): {linx},
			broad:               {frix},
		}
		geo := sources.GeoMap{broad: {Country: "DE"}, pfx("10.1.0.0/24"): {Country: "GB"}}
		index, out, outGeo, stats := BuildSubnetIndex(nm, geo, sources.Reserved(), user, nil)
		require.Equal(t, 1, index.Len())
		require.Contains(t, out, broad)
		require.Equal(t, sources.GeoMap{broad: {Country: "DE"}}, outGeo)
		require.Equal(t, 1, stats.Reserved)
		require.Equal(t, 1, stats.User)
	})
}

func TestExcludeReservedSubnets(t *testing.T) {
	nm := sources.NameMap{pfx("192.0.0.0/8"): {linx}, pfx("185.1.0.0/24"): {frix}}
	geo := sources.GeoMap{pfx("192.0.0.0/8"): {Country: "GB"}}
	index, out, outGeo, _ := BuildSubnetIndex(nm, geo, sources.Reserved(), noUsers, nil)
	require.Equal(t, 2, index.Len())

	require.Equal(t, 1, ExcludeReservedSubnets(index, out, outGeo, sources.Reserved()))
	require.Equal(t, 1, index.Len())
	require.NotContains(t, out, pfx("192.0.0.0/8"))
	require.Empty(t, outGeo)

	for _, rp := range sources.Reserved().Prefixes() {
		_, _, ok := index.LookupPrefix(rp)
		require.False(t, ok, rp.String())
		require.Empty(t, index.Covered(rp), rp.String())
	}
}

func TestExcludeReserved(t *testing.T) {
	m := sources.ASNMap{addr("10.0.0.1"): {1}, addr("185.1.0.1"): {2}}
	require.Equal(t, 1, ExcludeReserved(m, sources.Reserved()))
	require.Equal(t, sources.ASNMap{addr("185.1.0.1"): {2}}, m)
	require.Equal(t, 0, ExcludeReserved(m, nil))
}

func TestIncludeAdditional(t *testing.T) {
	nm := sources.NameMap{
		pfx("185.1.0.0/23"): {frix},
		pfx("185.2.0.0/24"): {linx},
		pfx("185.3.0.0/24"): {fooIX},
	}
	index, out, geo, _ := BuildSubnetIndex(nm, nil, noRsvd, noUsers, nil)

	user := sources.NewOverrides()
	userNet := pfx("185.1.1.0/24")
	userWide := pfx("185.2.0.0/16")
	host := pfx("185.3.0.7/32")
	user.Names[userNet] = []names.Identity{{Long: "User Exchange", Short: "UIX"}}
	user.Names[userWide] = []names.Identity{{Long: "Wide Exchange", Short: "WIX"}}
	user.Names[host] = []names.Identity{barIX}
	user.Geo[userNet] = sources.Geo{Country: "GR", City: "Athens"}
	require.NoError(t, user.Subnets.Insert(userNet, struct{}{}))
	require.NoError(t, user.Subnets.Insert(userWide, struct{}{}))
	user.IPToASN[host.Addr()] = []uint32{64500}

	evicted := IncludeAdditional(index, out, geo, user, nil)
	require.Equal(t, 2, evicted)

	_, ok := index.Get(pfx("185.1.0.0/23"))
	require.False(t, ok, "covering registry subnet is evicted")
	_, ok = index.Get(pfx("185.2.0.0/24"))
	require.False(t, ok, "covered registry subnet is evicted")
	_, ok = index.Get(pfx("185.3.0.0/24"))
	require.True(t, ok, "user host entries keep their registry subnet")

	_, ids, _ := index.Lookup(addr("185.1.1.9"))
	require.Equal(t, user.Names[userNet], ids)
	_, ids, _ = index.Lookup(addr("185.3.0.7"))
	require.Equal(t, []names.Identity{barIX}, ids)
	require.Equal(t, sources.Geo{Country: "GR", City: "Athens"}, geo[userNet])
	require.Contains(t, out, userWide)
}

func TestIncludeAdditionalReserved(t *testing.T) {
	index, out, geo, _ := BuildSubnetIndex(sources.NameMap{pfx("185.1.0.0/24"): {frix}}, nil, noRsvd, noUsers, nil)

	user := sources.NewOverrides()
	private := pfx("10.1.0.0/24")
	host := pfx("192.168.7.7/32")
	user.Names[private] = []names.Identity{{Long: "Private Exchange", Short: "PIX"}}
	user.Names[host] = []names.Identity{barIX}
	user.Geo[private] = sources.Geo{Country: "NL", City: "Utrecht"}
	require.NoError(t, user.Subnets.Insert(private, struct{}{}))

	require.Equal(t, 0, IncludeAdditional(index, out, geo, user, sources.Reserved()))
	for _, p := range []netip.Prefix{private, host} {
		_, ok := index.Get(p)
		require.False(t, ok, "%s is reserved", p)
		require.NotContains(t, out, p)
		require.NotContains(t, geo, p)
	}
	require.Equal(t, 1, index.Len())
}
