package sources

import (
	"bufio"
	"io"
	"net/netip"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sudorandom/ixpdetect/pkg/lpm"
	"github.com/sudorandom/ixpdetect/pkg/names"
	"github.com/sudorandom/ixpdetect/pkg/utils"
)

// Overrides is the content of the user's additional info file. Subnet lines
// have the form
//
//	prefix,long name,short name,city,country
//
// and address lines
//
//	ip,asn,long name,short name,city,country
//
// An address line also registers the address as a /32 subnet.
type Overrides struct {
	Names   NameMap
	Geo     GeoMap
	IPToASN ASNMap
	// Subnets holds the prefix lines only.
	Subnets *lpm.Trie[struct{}]
}

func NewOverrides() *Overrides {
	return &Overrides{
		Names:   make(NameMap),
		Geo:     make(GeoMap),
		IPToASN: make(ASNMap),
		Subnets: lpm.New[struct{}](),
	}
}

// Filter returns a normalizer filter trusting the override subnets.
func (o *Overrides) Filter(reserved *lpm.Trie[string]) Filter {
	return Filter{Reserved: reserved, User: o.Subnets}
}

// ParseOverrides reads the override file. Malformed or duplicate lines are
// logged and skipped; the first entry for a prefix or address wins.
func ParseOverrides(r io.Reader) (*Overrides, error) {
	o := NewOverrides()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line, _, _ := strings.Cut(scanner.Text(), "#")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		log := utils.Log.WithFields(logrus.Fields{"source": "overrides", "line": lineNo})

		switch len(fields) {
		case 5:
			if !strings.Contains(fields[0], "/") {
				log.Warnf("Expected a prefix, got %q", fields[0])
				continue
			}
			p, err := lpm.ParsePrefix(fields[0])
			if err != nil {
				log.Warnf("Invalid prefix %q: %v", fields[0], err)
				continue
			}
			if _, dup := o.Names[p]; dup {
				log.Warnf("Duplicate prefix %s ignored", p)
				continue
			}
			o.Names[p] = []names.Identity{names.CleanIdentity(names.Identity{Long: fields[1], Short: fields[2]})}
			o.Geo[p] = newGeo(fields[4], fields[3])
			_ = o.Subnets.Insert(p, struct{}{})
		case 6:
			ip, err := lpm.ParseAddr(fields[0])
			if err != nil {
				log.Warnf("Invalid address %q: %v", fields[0], err)
				continue
			}
			asn, ok := ParseASN(fields[1])
			if !ok {
				log.Warnf("Invalid ASN %q", fields[1])
				continue
			}
			if _, dup := o.IPToASN[ip]; dup {
				log.Warnf("Duplicate address %s ignored", ip)
				continue
			}
			host := netip.PrefixFrom(ip, 32)
			o.IPToASN[ip] = []uint32{asn}
			o.Names[host] = []names.Identity{names.CleanIdentity(names.Identity{Long: fields[2], Short: fields[3]})}
			o.Geo[host] = newGeo(fields[5], fields[4])
		default:
			log.Warnf("Expected 5 or 6 comma separated fields, got %d", len(fields))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return o, nil
}
