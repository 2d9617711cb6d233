package database

import (
	"bytes"
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sudorandom/ixpdetect/pkg/lpm"
	"github.com/sudorandom/ixpdetect/pkg/names"
	"github.com/sudorandom/ixpdetect/pkg/sources"
)

var (
	pfx   = netip.MustParsePrefix
	addr  = netip.MustParseAddr
	amsix = names.Identity{Long: "Amsterdam Internet Exchange", Short: "AMS-IX"}
	decix = names.Identity{Long: "DE-CIX Frankfurt", Short: "DE-CIX"}
)

// docSources covers the AMS-IX subnet in both registries, one member address
// inside it and one outside every subnet.
func docSources() Sources {
	pch := sources.NewDataset("pch")
	pch.Names[pfx("203.0.113.0/24")] = []names.Identity{{Long: "AMS-IX", Short: "AMSIX"}}
	pch.Geo[pfx("203.0.113.0/24")] = sources.Geo{Country: "NL", City: "Amsterdam"}
	pch.IPToASN[addr("203.0.113.5")] = []uint32{1200}

	pdb := sources.NewDataset("peeringdb")
	pdb.Names[pfx("203.0.113.0/24")] = []names.Identity{amsix}
	pdb.IPToASN[addr("198.51.100.9")] = []uint32{3333}

	routes := lpm.New[[]uint32]()
	_ = routes.Insert(pfx("198.51.100.0/24"), []uint32{100})
	_ = routes.Insert(pfx("192.0.2.0/24"), []uint32{200, 201})
	return Sources{PCH: pch, PeeringDB: pdb, Routes: routes}
}

func noReserved() Options {
	return Options{Reconciler: names.NewReconciler(nil)}
}

func TestBuild(t *testing.T) {
	db, err := Build(context.Background(), docSources(), noReserved())
	require.NoError(t, err)

	p, ids, ok := db.Subnet(addr("203.0.113.5"))
	require.True(t, ok)
	require.Equal(t, pfx("203.0.113.0/24"), p)
	require.Equal(t, []names.Identity{amsix}, ids)

	asns, ok := db.MemberASN(addr("203.0.113.5"))
	require.True(t, ok)
	require.Equal(t, []uint32{1200}, asns)

	_, ok = db.MemberASN(addr("198.51.100.9"))
	require.False(t, ok, "uncovered member addresses are dirty")
	require.Equal(t, []uint32{3333}, db.Dirty[addr("198.51.100.9")])
	require.Equal(t, 1, db.Stats.Dirty)

	require.Equal(t, []names.Identity{amsix}, db.Members(1200))
	require.Empty(t, db.Members(3333))

	_, origins, ok := db.Route(addr("192.0.2.9"))
	require.True(t, ok)
	require.Equal(t, []uint32{200, 201}, origins)

	g, ok := db.Location(pfx("203.0.113.0/24"))
	require.True(t, ok)
	require.Equal(t, "NL", g.Country)
}

func TestBuildNoData(t *testing.T) {
	_, err := Build(context.Background(), Sources{}, noReserved())
	require.ErrorIs(t, err, ErrNoData)
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, docSources(), noReserved())
	require.ErrorIs(t, err, context.Canceled)
}

func TestBuildUserOverrides(t *testing.T) {
	ov, err := sources.ParseOverrides(strings.NewReader(
		"203.0.113.0/25, DE-CIX Frankfurt, DE-CIX, Frankfurt, DE\n" +
			"203.0.113.200, 64500, DE-CIX Frankfurt, DE-CIX, Frankfurt, DE\n"))
	require.NoError(t, err)
	src := docSources()
	src.Overrides = ov

	db, err := Build(context.Background(), src, noReserved())
	require.NoError(t, err)

	_, ids, ok := db.Subnet(addr("203.0.113.5"))
	require.True(t, ok)
	require.Equal(t, []names.Identity{decix}, ids)
	_, ok = db.Subnets.Get(pfx("203.0.113.0/24"))
	require.False(t, ok, "the covering registry subnet is evicted")

	asns, ok := db.MemberASN(addr("203.0.113.200"))
	require.True(t, ok)
	require.Equal(t, []uint32{64500}, asns)
	require.Equal(t, []names.Identity{decix}, db.Members(64500))
}

func TestBuildReservedExcluded(t *testing.T) {
	pch := sources.NewDataset("pch")
	pch.Names[pfx("192.168.1.0/24")] = []names.Identity{{Long: "Private Exchange", Short: "PX"}}
	pch.Names[pfx("10.0.0.0/7")] = []names.Identity{{Long: "Wide Exchange", Short: "WX"}}
	pch.Names[pfx("80.81.192.0/21")] = []names.Identity{decix}
	pch.IPToASN[addr("192.168.1.5")] = []uint32{65000}
	pch.IPToASN[addr("80.81.192.10")] = []uint32{6695}
	ov, err := sources.ParseOverrides(strings.NewReader(
		"10.1.0.0/24, Private IX, PIX, Utrecht, NL\n" +
			"192.168.7.7, 64500, Private IX, PIX, Utrecht, NL\n"))
	require.NoError(t, err)

	db, err := Build(context.Background(), Sources{PCH: pch, Overrides: ov}, DefaultOptions())
	require.NoError(t, err)

	reserved := sources.Reserved()
	db.Subnets.Walk(func(p netip.Prefix, _ []names.Identity) bool {
		_, _, covered := reserved.LookupPrefix(p)
		require.False(t, covered, "%s lies in reserved space", p)
		require.Empty(t, reserved.Covered(p), "%s covers reserved space", p)
		return true
	})
	for ip := range db.IPToASN {
		require.False(t, reserved.Contains(ip), ip.String())
	}
	for ip := range db.Dirty {
		require.False(t, reserved.Contains(ip), ip.String())
	}
	require.Equal(t, 1, db.Subnets.Len())
	require.Equal(t, []uint32{6695}, db.IPToASN[addr("80.81.192.10")])

	for _, a := range []string{"10.1.0.5", "192.168.7.7"} {
		_, _, ok := db.Subnet(addr(a))
		require.False(t, ok, "user entry %s survived in reserved space", a)
	}
	_, ok := db.MemberASN(addr("192.168.7.7"))
	require.False(t, ok)
}

func TestCacheRoundTrip(t *testing.T) {
	db, err := Build(context.Background(), docSources(), noReserved())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "merged")
	cache, err := OpenCache(path)
	require.NoError(t, err)
	defer func() {
		if err := cache.Close(); err != nil {
			t.Logf("Error closing cache: %v", err)
		}
	}()

	_, ok, err := cache.Load(42)
	require.NoError(t, err)
	require.False(t, ok, "an empty cache holds nothing")

	require.NoError(t, cache.Save(db, 42))

	loaded, ok, err := cache.Load(42)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, db.Names(), loaded.Names())
	require.Equal(t, db.Geo, loaded.Geo)
	require.Equal(t, db.IPToASN, loaded.IPToASN)
	require.Equal(t, db.Dirty, loaded.Dirty)
	require.Equal(t, db.Membership, loaded.Membership)
	require.Equal(t, db.Routes.Prefixes(), loaded.Routes.Prefixes())
	require.NotZero(t, loaded.Stats.FinalSubnets)
	require.Equal(t, db.Stats, loaded.Stats)

	_, ok, err = cache.Load(43)
	require.NoError(t, err)
	require.False(t, ok, "a different override mtime makes the cache stale")
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	opts := OpenOptions{
		Layout:    sources.Layout{Dir: dir},
		Overrides: filepath.Join(dir, "additional_info.txt"),
		Options:   DefaultOptions(),
	}

	_, err := Open(context.Background(), opts)
	require.ErrorIs(t, err, ErrNoData)

	err = os.WriteFile(opts.Overrides, []byte("80.81.192.0/21, DE-CIX Frankfurt, DE-CIX, Frankfurt, Germany\n"), 0o644)
	require.NoError(t, err)

	built, err := Open(context.Background(), opts)
	require.NoError(t, err)
	_, ids, ok := built.Subnet(addr("80.81.192.10"))
	require.True(t, ok)
	require.Equal(t, []names.Identity{decix}, ids)

	cached, err := Open(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, built.Names(), cached.Names())

	opts.Force = true
	rebuilt, err := Open(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, built.Names(), rebuilt.Names())
}

func TestExport(t *testing.T) {
	ov, err := sources.ParseOverrides(strings.NewReader("80.81.192.0/21, DE-CIX Frankfurt, DE-CIX, Frankfurt, DE\n"))
	require.NoError(t, err)
	src := docSources()
	src.Overrides = ov
	db, err := Build(context.Background(), src, noReserved())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WritePrefixes(&buf, db, ov))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Equal(t, []string{
		"0\t+\t80.81.192.0/21\tDE-CIX Frankfurt\tDE-CIX\tDE\tFrankfurt",
		"1\t!\t203.0.113.0/24\tAmsterdam Internet Exchange\tAMS-IX\tNL\tAmsterdam",
	}, lines)

	buf.Reset()
	require.NoError(t, WriteMembership(&buf, db, ov))
	lines = strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Equal(t, []string{
		"0\t!\t203.0.113.5\tAS1200\tAmsterdam Internet Exchange\tAMS-IX",
		"1\t?\t198.51.100.9\tAS3333",
	}, lines)
}
