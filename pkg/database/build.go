package database

import (
	"context"
	"net/netip"

	"github.com/sudorandom/ixpdetect/pkg/lpm"
	"github.com/sudorandom/ixpdetect/pkg/merge"
	"github.com/sudorandom/ixpdetect/pkg/names"
	"github.com/sudorandom/ixpdetect/pkg/sources"
	"github.com/sudorandom/ixpdetect/pkg/utils"
)

// Sources are the normalised inputs of a build. Any of them may be nil.
type Sources struct {
	PCH       *sources.Dataset
	PeeringDB *sources.Dataset
	Overrides *sources.Overrides
	Routes    *sources.Routes
}

// Options tune a build. A nil Reserved disables reserved space filtering.
type Options struct {
	Reserved   *lpm.Trie[string]
	Reconciler *names.Reconciler
	Geofeed    *sources.Geofeed
	GeoIP      *sources.GeoIP
}

func DefaultOptions() Options {
	return Options{
		Reserved:   sources.Reserved(),
		Reconciler: names.NewReconciler(nil),
	}
}

func orEmpty(d *sources.Dataset, name string) *sources.Dataset {
	if d == nil {
		return sources.NewDataset(name)
	}
	return d
}

// Build merges the sources into a database. The steps run in a fixed order:
// locations, names, the subnet index, reserved space removal, user subnets,
// member addresses with the dirty check, user addresses and finally the AS
// membership index.
func Build(ctx context.Context, src Sources, opts Options) (*DB, error) {
	pch := orEmpty(src.PCH, "pch")
	pdb := orEmpty(src.PeeringDB, "peeringdb")
	user := src.Overrides
	if user == nil {
		user = sources.NewOverrides()
	}
	if len(pch.Names) == 0 && len(pdb.Names) == 0 && len(user.Names) == 0 {
		return nil, ErrNoData
	}
	r := opts.Reconciler
	if r == nil {
		r = names.NewReconciler(nil)
	}

	db := newDB()
	st := &db.Stats
	st.PCHSubnets, st.PCHAddrs = len(pch.Names), len(pch.IPToASN)
	st.PDBSubnets, st.PDBAddrs = len(pdb.Names), len(pdb.IPToASN)
	st.UserSubnets, st.UserAddrs = user.Subnets.Len(), len(user.IPToASN)
	if opts.Reserved != nil {
		st.Reserved = opts.Reserved.Len()
	}

	geo := merge.CountryCity(pdb.Geo, pch.Geo, r.Matcher)
	nm := merge.Names(pch.Names, pdb.Names, r)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	index, nm, geo, sstats := merge.BuildSubnetIndex(nm, geo, opts.Reserved, user.Subnets, r)
	st.Subnets = sstats
	st.Subnets.Reserved += merge.ExcludeReservedSubnets(index, nm, geo, opts.Reserved)
	st.UserEvicted = merge.IncludeAdditional(index, nm, geo, user, opts.Reserved)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged, dirty, conflicts := merge.IPToASN(pch.IPToASN, pdb.IPToASN, true, index)
	final := merge.Replace(merged, user.IPToASN)
	merge.ExcludeReserved(final, opts.Reserved)
	merge.ExcludeReserved(dirty, opts.Reserved)
	st.ASNConflicts, st.Dirty = conflicts, len(dirty)

	if opts.Geofeed != nil {
		filled := opts.Geofeed.Backfill(nm, geo)
		utils.Log.Infof("[Geofeed] Filled the location of %d subnets", filled)
	}
	if opts.GeoIP != nil {
		filled := opts.GeoIP.Backfill(nm, geo)
		utils.Log.Infof("[GeoIP] Filled the location of %d subnets", filled)
	}

	db.Subnets = index
	db.Geo = geo
	db.IPToASN = final
	db.Dirty = dirty
	if src.Routes != nil {
		db.Routes = src.Routes
	}
	db.Membership = BuildMembership(final, index)

	st.FinalSubnets, st.FinalAddrs, st.Members = index.Len(), len(final), len(db.Membership)
	index.Walk(func(_ netip.Prefix, ids []names.Identity) bool {
		if len(ids) > 1 {
			st.MultiIdentity++
		}
		return true
	})
	utils.Log.Infof("Merged database has %d subnets, %d member addresses and %d dirty addresses",
		st.FinalSubnets, st.FinalAddrs, st.Dirty)
	return db, nil
}
