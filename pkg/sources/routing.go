package sources

import (
	"bufio"
	"io"
	"strings"

	"github.com/osrg/gobgp/v3/pkg/packet/bgp"
	"github.com/osrg/gobgp/v3/pkg/packet/mrt"
	"github.com/pkg/errors"

	"github.com/sudorandom/ixpdetect/pkg/lpm"
	"github.com/sudorandom/ixpdetect/pkg/utils"
)

// Routes maps announced prefixes to their origin ASNs. A prefix announced by
// several origins keeps all of them.
type Routes = lpm.Trie[[]uint32]

func parseOrigins(s string) []uint32 {
	var out []uint32
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == ',' }) {
		if asn, ok := ParseASN(part); ok && !containsASN(out, asn) {
			out = append(out, asn)
		}
	}
	return out
}

func containsASN(list []uint32, asn uint32) bool {
	for _, a := range list {
		if a == asn {
			return true
		}
	}
	return false
}

// LoadPfx2AS reads a CAIDA routeviews prefix-to-AS file, one
// "address mask origins" triple per line. Prefixes inside reserved space are
// skipped.
func LoadPfx2AS(r io.Reader, f Filter) (*Routes, error) {
	routes := lpm.New[[]uint32]()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	skipped := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		p, err := lpm.ParsePrefix(fields[0] + "/" + fields[1])
		if err != nil {
			skipped++
			continue
		}
		if f.reservedPrefix(p) {
			continue
		}
		origins := parseOrigins(fields[2])
		if len(origins) == 0 {
			skipped++
			continue
		}
		_ = routes.Insert(p, origins)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read pfx2as at line %d", lineNo)
	}
	if skipped > 0 {
		utils.Log.Debugf("[Routeviews] Skipped %d malformed lines", skipped)
	}
	utils.Log.Infof("[Routeviews] Loaded %d prefixes", routes.Len())
	return routes, nil
}

// originOf returns the origin ASNs of an AS path. An AS_SET in the last
// position contributes all of its members.
func originOf(attrs []bgp.PathAttributeInterface) []uint32 {
	for _, attr := range attrs {
		path, ok := attr.(*bgp.PathAttributeAsPath)
		if !ok || len(path.Value) == 0 {
			continue
		}
		last := path.Value[len(path.Value)-1]
		asns := last.GetAS()
		if len(asns) == 0 {
			return nil
		}
		if last.GetType() == bgp.BGP_ASPATH_ATTR_TYPE_SET {
			return asns
		}
		return []uint32{asns[len(asns)-1]}
	}
	return nil
}

// LoadMRT builds the routing table from an MRT TABLE_DUMP_V2 RIB dump. Every
// origin seen for a prefix across peers is kept.
func LoadMRT(r io.Reader, f Filter) (*Routes, error) {
	routes := lpm.New[[]uint32]()
	br := bufio.NewReaderSize(r, 1<<20)
	header := make([]byte, mrt.MRT_COMMON_HEADER_LEN)
	records := 0
	for {
		if _, err := io.ReadFull(br, header); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrapf(err, "failed to read MRT header after %d records", records)
		}
		h := &mrt.MRTHeader{}
		if err := h.DecodeFromBytes(header); err != nil {
			return nil, errors.Wrap(err, "failed to decode MRT header")
		}
		body := make([]byte, h.Len)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, errors.Wrapf(err, "failed to read MRT body after %d records", records)
		}
		records++
		if h.Type != mrt.TABLE_DUMPv2 || mrt.MRTSubTypeTableDumpv2(h.SubType) != mrt.RIB_IPV4_UNICAST {
			continue
		}
		msg, err := mrt.ParseMRTBody(h, body)
		if err != nil {
			utils.Log.Debugf("[MRT] Skipping record %d: %v", records, err)
			continue
		}
		rib, ok := msg.Body.(*mrt.Rib)
		if !ok {
			continue
		}
		p, err := lpm.ParsePrefix(rib.Prefix.String())
		if err != nil || f.reservedPrefix(p) {
			continue
		}
		origins, _ := routes.Get(p)
		for _, e := range rib.Entries {
			for _, asn := range originOf(e.PathAttributes) {
				if !containsASN(origins, asn) {
					origins = append(origins, asn)
				}
			}
		}
		if len(origins) > 0 {
			_ = routes.Insert(p, origins)
		}
	}
	utils.Log.Infof("[MRT] Loaded %d prefixes from %d records", routes.Len(), records)
	return routes, nil
}
