package sources

import (
	"encoding/json"
	"io"
	"net/netip"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/sudorandom/ixpdetect/pkg/lpm"
)

// RemotePeer is a known remote peering interface at an IXP.
type RemotePeer struct {
	Addr    netip.Addr
	IXP     string
	Country string
	City    string
	Info    map[string]any
}

// RemotePeering indexes remote peering interfaces by address.
type RemotePeering struct {
	byAddr map[netip.Addr][]RemotePeer
}

var tupleField = regexp.MustCompile(`'([^']*)'|"([^"]*)"`)

// parseIXPKey reads an "(ixp, country, city)" key.
func parseIXPKey(k string) (ixp, country, city string, ok bool) {
	var parts []string
	for _, m := range tupleField.FindAllStringSubmatch(k, -1) {
		parts = append(parts, m[1]+m[2])
	}
	if len(parts) != 3 {
		parts = strings.Split(strings.Trim(k, "()[] "), ",")
		if len(parts) != 3 {
			return "", "", "", false
		}
		for i := range parts {
			parts[i] = strings.Trim(strings.TrimSpace(parts[i]), `'"`)
		}
	}
	return parts[0], parts[1], parts[2], true
}

// LoadRemotePeering reads the aggregated remote peering dataset:
//
//	{"<ip>": {"('<ixp>', '<country>', '<city>')": {...}}}
func LoadRemotePeering(r io.Reader) (*RemotePeering, error) {
	var raw map[string]map[string]map[string]any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode remote peering dataset")
	}
	rp := &RemotePeering{byAddr: make(map[netip.Addr][]RemotePeer, len(raw))}
	for ipStr, entries := range raw {
		addr, err := lpm.ParseAddr(ipStr)
		if err != nil {
			continue
		}
		for k, info := range entries {
			ixp, country, city, ok := parseIXPKey(k)
			if !ok {
				continue
			}
			rp.byAddr[addr] = append(rp.byAddr[addr], RemotePeer{
				Addr: addr, IXP: ixp, Country: country, City: city, Info: info,
			})
		}
	}
	return rp, nil
}

func (rp *RemotePeering) Len() int {
	if rp == nil {
		return 0
	}
	return len(rp.byAddr)
}

// Find returns the remote peering record of addr at the named IXP. IXP names
// match by containment either way; country and city by containment.
func (rp *RemotePeering) Find(addr netip.Addr, ixp, country, city string) (*RemotePeer, bool) {
	if rp == nil {
		return nil, false
	}
	ixp, country, city = strings.ToLower(ixp), strings.ToLower(country), strings.ToLower(city)
	for i, e := range rp.byAddr[addr] {
		name := strings.ToLower(e.IXP)
		if name == "" || ixp == "" {
			continue
		}
		if !strings.Contains(ixp, name) && !strings.Contains(name, ixp) {
			continue
		}
		if strings.Contains(country, strings.ToLower(e.Country)) && strings.Contains(city, strings.ToLower(e.City)) {
			return &rp.byAddr[addr][i], true
		}
	}
	return nil, false
}
