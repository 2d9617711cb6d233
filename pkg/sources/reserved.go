package sources

import (
	"net/netip"

	"github.com/sudorandom/ixpdetect/pkg/lpm"
)

var ReservedPrefixes = map[string]string{
	"0.0.0.0/8":          "this network",
	"10.0.0.0/8":         "private use",
	"100.64.0.0/10":      "shared address space",
	"127.0.0.0/8":        "loopback",
	"169.254.0.0/16":     "link local",
	"172.16.0.0/12":      "private use",
	"192.0.0.0/24":       "IETF protocol assignments",
	"192.0.2.0/24":       "TEST-NET-1",
	"192.88.99.0/24":     "6to4 relay anycast",
	"192.168.0.0/16":     "private use",
	"198.18.0.0/15":      "benchmarking",
	"198.51.100.0/24":    "TEST-NET-2",
	"203.0.113.0/24":     "TEST-NET-3",
	"224.0.0.0/4":        "multicast",
	"240.0.0.0/4":        "reserved",
	"255.255.255.255/32": "limited broadcast",
}

// Reserved returns the reserved address space as a prefix store.
func Reserved() *lpm.Trie[string] {
	t := lpm.New[string]()
	for p, desc := range ReservedPrefixes {
		_ = t.Insert(netip.MustParsePrefix(p), desc)
	}
	return t
}

// IsReserved reports whether addr falls in reserved space.
func IsReserved(addr netip.Addr) bool {
	return reserved.Contains(addr)
}

var reserved = Reserved()
