package lpm

import (
	"net/netip"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseAddr parses a dotted IPv4 address, tolerating surrounding spaces and
// zero-padded octets such as "080.081.192.001".
func ParseAddr(s string) (netip.Addr, error) {
	s = strings.TrimSpace(s)
	octets := strings.Split(s, ".")
	if len(octets) != 4 {
		return netip.Addr{}, errors.Errorf("invalid IPv4 address %q", s)
	}
	var b [4]byte
	for i, o := range octets {
		n, err := strconv.ParseUint(o, 10, 8)
		if err != nil || o == "" {
			return netip.Addr{}, errors.Errorf("invalid IPv4 address %q", s)
		}
		b[i] = byte(n)
	}
	return netip.AddrFrom4(b), nil
}

// ParsePrefix parses an IPv4 prefix. Truncated forms like "10.1.2/24" are
// completed with zero octets and host bits are cleared, so the result is
// always canonical.
func ParsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	addrPart, bitsPart, ok := strings.Cut(s, "/")
	if !ok {
		return netip.Prefix{}, errors.Errorf("invalid prefix %q: missing mask", s)
	}
	bits, err := strconv.Atoi(bitsPart)
	if err != nil || bits < 0 || bits > 32 {
		return netip.Prefix{}, errors.Errorf("invalid prefix %q: bad mask", s)
	}
	octets := strings.Split(addrPart, ".")
	if len(octets) == 0 || len(octets) > 4 {
		return netip.Prefix{}, errors.Errorf("invalid prefix %q", s)
	}
	for len(octets) < 4 {
		octets = append(octets, "0")
	}
	addr, err := ParseAddr(strings.Join(octets, "."))
	if err != nil {
		return netip.Prefix{}, errors.Errorf("invalid prefix %q", s)
	}
	return netip.PrefixFrom(addr, bits).Masked(), nil
}

// HostPrefix returns the /32 prefix of addr.
func HostPrefix(addr netip.Addr) netip.Prefix {
	return netip.PrefixFrom(addr.Unmap(), 32)
}
