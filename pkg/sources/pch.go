package sources

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/sudorandom/ixpdetect/pkg/lpm"
	"github.com/sudorandom/ixpdetect/pkg/names"
	"github.com/sudorandom/ixpdetect/pkg/utils"
)

// PCH file names as published by Packet Clearing House.
const (
	PCHExchanges  = "ixp_exchange.csv"
	PCHSubnets    = "ixp_subnets.csv"
	PCHMembership = "ixp_membership.csv"
)

type pchExchange struct {
	long string
	geo  Geo
}

// readRows returns the records of a CSV body without its header line.
func readRows(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false
	var rows [][]string
	header := true
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			if _, ok := err.(*csv.ParseError); ok {
				utils.Log.Debugf("[PCH] Skipping malformed row: %v", err)
				continue
			}
			return nil, err
		}
		if header {
			header = false
			continue
		}
		rows = append(rows, rec)
	}
}

func active(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), "active")
}

// ParseASN reads an AS number, tolerating an "AS" prefix and blanks.
func ParseASN(s string) (uint32, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "AS"), "as")
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

func loadPCHExchanges(r io.Reader) (map[string]pchExchange, error) {
	rows, err := readRows(r)
	if err != nil {
		return nil, err
	}
	out := make(map[string]pchExchange)
	for _, row := range rows {
		if len(row) <= 6 || !active(row[5]) {
			continue
		}
		out[row[0]] = pchExchange{long: row[4], geo: newGeo(row[2], row[3])}
	}
	return out, nil
}

func loadPCHSubnets(d *Dataset, r io.Reader, exchanges map[string]pchExchange, f Filter, rec *names.Reconciler) error {
	rows, err := readRows(r)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if len(row) <= 6 || !active(row[2]) {
			continue
		}
		p, err := lpm.ParsePrefix(row[6])
		if err != nil {
			continue
		}
		if f.reservedPrefix(p) {
			continue
		}
		var id names.Identity
		if ex, ok := exchanges[row[0]]; ok {
			id = orient(ex.long, row[1])
			d.Geo[p] = ex.geo
		} else {
			short := names.Clean(row[1])
			if short == "" {
				continue
			}
			id = names.Identity{Short: short}
		}
		if id.IsEmpty() {
			continue
		}
		addNames(d.Names, p, id, rec)
	}
	return nil
}

func loadPCHMembership(d *Dataset, r io.Reader, f Filter) error {
	rows, err := readRows(r)
	if err != nil {
		return err
	}
	table := newIPTable()
	for _, row := range rows {
		if len(row) <= 3 {
			continue
		}
		ip, err := lpm.ParseAddr(row[1])
		if err != nil {
			continue
		}
		asn, ok := ParseASN(row[3])
		if !ok {
			continue
		}
		subnet, err := lpm.ParsePrefix(row[0])
		inSubnet := err == nil && subnet.Contains(ip)
		table.add(ip, asn, (inSubnet && !f.reservedAddr(ip)) || f.userAddr(ip))
	}
	for ip, asns := range table.asns {
		d.IPToASN[ip] = asns
	}
	return nil
}

// LoadPCH normalises the three PCH files into a dataset.
func LoadPCH(exchanges, subnets, membership io.Reader, f Filter, rec *names.Reconciler) (*Dataset, error) {
	if rec == nil {
		rec = names.NewReconciler(nil)
	}
	d := NewDataset("pch")
	ex, err := loadPCHExchanges(exchanges)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read PCH exchanges")
	}
	if err := loadPCHSubnets(d, subnets, ex, f, rec); err != nil {
		return nil, errors.Wrap(err, "failed to read PCH subnets")
	}
	if err := loadPCHMembership(d, membership, f); err != nil {
		return nil, errors.Wrap(err, "failed to read PCH membership")
	}
	utils.Log.Infof("[PCH] Loaded %d subnets and %d member addresses", len(d.Names), len(d.IPToASN))
	return d, nil
}
