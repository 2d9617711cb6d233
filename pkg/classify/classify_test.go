package classify

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sudorandom/ixpdetect/pkg/database"
	"github.com/sudorandom/ixpdetect/pkg/lpm"
	"github.com/sudorandom/ixpdetect/pkg/names"
	"github.com/sudorandom/ixpdetect/pkg/sources"
)

var (
	pfx   = netip.MustParsePrefix
	addr  = netip.MustParseAddr
	amsix = names.Identity{Long: "Amsterdam Internet Exchange", Short: "AMS-IX"}
	fooIX = names.Identity{Long: "Foo Internet Exchange", Short: "FIX"}
	barIX = names.Identity{Long: "Bar Peering Point", Short: "BPP"}
)

func testDB(t *testing.T) *database.DB {
	t.Helper()
	pch := sources.NewDataset("pch")
	pch.Names[pfx("203.0.113.0/24")] = []names.Identity{amsix}
	pch.Geo[pfx("203.0.113.0/24")] = sources.Geo{Country: "NL", City: "Amsterdam"}
	pch.Names[pfx("185.1.0.0/24")] = []names.Identity{fooIX}
	pch.IPToASN[addr("203.0.113.5")] = []uint32{1200}
	pch.IPToASN[addr("185.1.0.7")] = []uint32{64500}
	pch.IPToASN[addr("198.51.100.9")] = []uint32{3333}

	pdb := sources.NewDataset("peeringdb")
	pdb.Names[pfx("185.1.0.0/24")] = []names.Identity{barIX}

	routes := lpm.New[[]uint32]()
	require.NoError(t, routes.Insert(pfx("198.51.100.0/24"), []uint32{100}))
	require.NoError(t, routes.Insert(pfx("192.0.2.0/24"), []uint32{200, 201}))

	db, err := database.Build(context.Background(),
		database.Sources{PCH: pch, PeeringDB: pdb, Routes: routes},
		database.Options{Reconciler: names.NewReconciler(nil)})
	require.NoError(t, err)
	return db
}

func TestClassify(t *testing.T) {
	db := testDB(t)
	hops := Classify(db, []string{
		"198.51.100.1", "203.0.113.5", "203.0.113.77", "*", "192.0.2.9", "8.8.8.8", "not-an-ip", "185.1.0.7",
	})
	require.Len(t, hops, 8)

	tests := []struct {
		index int
		typ   Type
		asns  []uint32
		ids   []names.Identity
	}{
		{0, NormalIP, []uint32{100}, nil},
		{1, IXPIP, []uint32{1200}, []names.Identity{amsix}},
		{2, IXPPrefix, nil, []names.Identity{amsix}},
		{3, Unresolved, nil, nil},
		{4, NormalIP, []uint32{200, 201}, nil},
		{5, Unresolved, nil, nil},
		{6, Unresolved, nil, nil},
	}
	for _, tt := range tests {
		h := hops[tt.index]
		if h.Type != tt.typ {
			t.Errorf("hop %d (%s) type = %s; want %s", tt.index, h.Addr, h.Type, tt.typ)
		}
		require.Equal(t, tt.asns, h.ASNs, "hop %d", tt.index)
		require.Equal(t, tt.ids, h.Identities, "hop %d", tt.index)
		require.Equal(t, tt.index, h.Index)
	}

	require.Equal(t, pfx("203.0.113.0/24"), hops[1].Subnet)
	require.Equal(t, "NL", hops[1].Geo.Country)
	require.False(t, hops[1].Ambiguous)
}

func TestClassifyAmbiguous(t *testing.T) {
	db := testDB(t)
	hops := Classify(db, []string{"185.1.0.7"})
	require.Equal(t, IXPIP, hops[0].Type)
	require.True(t, hops[0].Ambiguous)
	require.ElementsMatch(t, []names.Identity{fooIX, barIX}, hops[0].Identities)
}

func TestClassifyMemberOutsideSubnet(t *testing.T) {
	db := testDB(t)
	hops := Classify(db, []string{"198.51.100.9"})
	require.NotEqual(t, IXPIP, hops[0].Type, "a member address without a covering subnet is not an IXP IP")
	require.Equal(t, NormalIP, hops[0].Type)
	require.True(t, hops[0].Dirty)
	require.Equal(t, []uint32{100}, hops[0].ASNs)
}

func TestTypeString(t *testing.T) {
	for typ, want := range map[Type]string{
		IXPIP:      "IXP IP",
		IXPPrefix:  "IXP prefix",
		NormalIP:   "Normal IP",
		Unresolved: "Unresolved",
	} {
		if got := typ.String(); got != want {
			t.Errorf("Type(%d).String() = %q; want %q", typ, got, want)
		}
	}
	require.True(t, IXPPrefix.IsIXP())
	require.False(t, NormalIP.IsIXP())
}
