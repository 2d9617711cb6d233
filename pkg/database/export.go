package database

import (
	"bufio"
	"fmt"
	"io"
	"maps"
	"net/netip"
	"slices"
	"strings"

	"github.com/sudorandom/ixpdetect/pkg/lpm"
	"github.com/sudorandom/ixpdetect/pkg/names"
	"github.com/sudorandom/ixpdetect/pkg/sources"
)

// Export flags in the first column after the line number.
const (
	FlagUser     = "+"
	FlagMultiple = "?"
	FlagDirty    = "?"
	FlagSingle   = "!"
)

func identityFields(ids []names.Identity) []string {
	var out []string
	for _, id := range ids {
		out = append(out, id.Long, id.Short)
	}
	return out
}

func asnFields(asns []uint32) []string {
	out := make([]string, len(asns))
	for i, a := range asns {
		out[i] = fmt.Sprintf("AS%d", a)
	}
	return out
}

// WritePrefixes writes one tab separated line per IXP subnet: a running
// number, a flag, the prefix, the long and short name of every identity and
// the location. User subnets are flagged "+", subnets with more than one
// identity "?".
func WritePrefixes(w io.Writer, db *DB, user *sources.Overrides) error {
	bw := bufio.NewWriter(w)
	n := 0
	var err error
	db.Subnets.Walk(func(p netip.Prefix, ids []names.Identity) bool {
		flag := FlagSingle
		switch {
		case user != nil && user.Subnets != nil && isUserSubnet(user.Subnets, p):
			flag = FlagUser
		case len(ids) > 1:
			flag = FlagMultiple
		}
		g := db.Geo[p]
		fields := append([]string{fmt.Sprint(n), flag, p.String()}, identityFields(ids)...)
		fields = append(fields, g.Country, g.City)
		_, err = fmt.Fprintln(bw, strings.Join(fields, "\t"))
		n++
		return err == nil
	})
	if err != nil {
		return err
	}
	return bw.Flush()
}

// WriteMembership writes one tab separated line per IXP member address: a
// running number, a flag, the address, its ASNs and the identities of the
// covering subnet. User addresses are flagged "+", dirty addresses "?".
func WriteMembership(w io.Writer, db *DB, user *sources.Overrides) error {
	bw := bufio.NewWriter(w)
	n := 0
	line := func(flag string, ip netip.Addr, asns []uint32) error {
		fields := append([]string{fmt.Sprint(n), flag, ip.String()}, asnFields(asns)...)
		if _, ids, ok := db.Subnet(ip); ok {
			fields = append(fields, identityFields(ids)...)
		}
		n++
		_, err := fmt.Fprintln(bw, strings.Join(fields, "\t"))
		return err
	}

	for _, ip := range sortedAddrs(db.IPToASN) {
		flag := FlagSingle
		if user != nil {
			if _, ok := user.IPToASN[ip]; ok {
				flag = FlagUser
			}
		}
		if err := line(flag, ip, db.IPToASN[ip]); err != nil {
			return err
		}
	}
	for _, ip := range sortedAddrs(db.Dirty) {
		if err := line(FlagDirty, ip, db.Dirty[ip]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func sortedAddrs(m sources.ASNMap) []netip.Addr {
	addrs := slices.Collect(maps.Keys(m))
	slices.SortFunc(addrs, func(a, b netip.Addr) int { return a.Compare(b) })
	return addrs
}

func isUserSubnet(t *lpm.Trie[struct{}], p netip.Prefix) bool {
	_, ok := t.Get(p)
	return ok
}
