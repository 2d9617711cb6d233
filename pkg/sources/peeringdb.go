package sources

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/sudorandom/ixpdetect/pkg/lpm"
	"github.com/sudorandom/ixpdetect/pkg/names"
	"github.com/sudorandom/ixpdetect/pkg/utils"
)

// PeeringDB object types, used both as API paths and as cache file names.
const (
	PDBIX       = "ix"
	PDBIXLan    = "ixlan"
	PDBIXPfx    = "ixpfx"
	PDBNetIXLan = "netixlan"
)

type pdbIX struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	NameLong string `json:"name_long"`
	Country  string `json:"country"`
	City     string `json:"city"`
}

type pdbIXLan struct {
	ID   int `json:"id"`
	IXID int `json:"ix_id"`
}

type pdbIXPfx struct {
	Prefix  string `json:"prefix"`
	IXLanID int    `json:"ixlan_id"`
}

type pdbNetIXLan struct {
	IPAddr4 *string `json:"ipaddr4"`
	ASN     uint32  `json:"asn"`
}

func decodePDB[T any](r io.Reader) ([]T, error) {
	var body struct {
		Data []T `json:"data"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

type pdbExchange struct {
	id  names.Identity
	geo Geo
}

// LoadPeeringDB normalises the four PeeringDB object dumps into a dataset.
// Member addresses are kept only when a PeeringDB prefix covers them.
func LoadPeeringDB(ix, ixlan, ixpfx, netixlan io.Reader, f Filter, rec *names.Reconciler) (*Dataset, error) {
	if rec == nil {
		rec = names.NewReconciler(nil)
	}
	d := NewDataset("peeringdb")

	ixs, err := decodePDB[pdbIX](ix)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode PeeringDB ix")
	}
	exchanges := make(map[int]pdbExchange, len(ixs))
	for _, x := range ixs {
		exchanges[x.ID] = pdbExchange{id: orient(x.NameLong, x.Name), geo: newGeo(x.Country, x.City)}
	}

	lans, err := decodePDB[pdbIXLan](ixlan)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode PeeringDB ixlan")
	}
	lanToIX := make(map[int]int, len(lans))
	for _, l := range lans {
		lanToIX[l.ID] = l.IXID
	}

	pfxs, err := decodePDB[pdbIXPfx](ixpfx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode PeeringDB ixpfx")
	}
	covered := lpm.New[struct{}]()
	for _, pf := range pfxs {
		p, err := lpm.ParsePrefix(pf.Prefix)
		if err != nil {
			continue
		}
		ixID, ok := lanToIX[pf.IXLanID]
		if !ok {
			continue
		}
		ex, ok := exchanges[ixID]
		if !ok || ex.id.IsEmpty() {
			continue
		}
		if f.reservedPrefix(p) {
			continue
		}
		_ = covered.Insert(p, struct{}{})
		addNames(d.Names, p, ex.id, rec)
		d.Geo[p] = ex.geo
	}

	members, err := decodePDB[pdbNetIXLan](netixlan)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode PeeringDB netixlan")
	}
	table := newIPTable()
	for _, m := range members {
		if m.IPAddr4 == nil || m.ASN == 0 {
			continue
		}
		ip, err := lpm.ParseAddr(*m.IPAddr4)
		if err != nil {
			continue
		}
		table.add(ip, m.ASN, (covered.Contains(ip) && !f.reservedAddr(ip)) || f.userAddr(ip))
	}
	for ip, asns := range table.asns {
		d.IPToASN[ip] = asns
	}

	utils.Log.Infof("[PeeringDB] Loaded %d subnets and %d member addresses", len(d.Names), len(d.IPToASN))
	return d, nil
}
