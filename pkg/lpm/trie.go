// Package lpm implements an IPv4 longest-prefix-match store.
//
// Entries live in 33 maps, one per mask length, keyed by the masked address.
// Lookups probe from /32 down to /0 so the first hit is the most specific.
package lpm

import (
	"encoding/binary"
	"net/netip"
	"sort"

	"github.com/pkg/errors"
)

var ErrNotIPv4 = errors.New("only IPv4 supported")

type Trie[V any] struct {
	masks [33]map[uint32]V
	size  int
}

func New[V any]() *Trie[V] {
	t := &Trie[V]{}
	for i := range t.masks {
		t.masks[i] = make(map[uint32]V)
	}
	return t
}

func mask(bits int) uint32 {
	if bits <= 0 {
		return 0
	}
	return uint32(0xFFFFFFFF) << (32 - bits)
}

func addrBits(a netip.Addr) (uint32, bool) {
	a = a.Unmap()
	if !a.Is4() {
		return 0, false
	}
	b := a.As4()
	return binary.BigEndian.Uint32(b[:]), true
}

func prefixOf(v uint32, bits int) netip.Prefix {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.PrefixFrom(netip.AddrFrom4(b), bits)
}

// Canonical validates p as an IPv4 prefix and zeroes its host bits.
func Canonical(p netip.Prefix) (netip.Prefix, error) {
	if !p.IsValid() {
		return netip.Prefix{}, errors.New("invalid prefix")
	}
	addr := p.Addr().Unmap()
	if !addr.Is4() {
		return netip.Prefix{}, ErrNotIPv4
	}
	bits := p.Bits()
	if p.Addr().Is4In6() {
		if bits < 96 {
			return netip.Prefix{}, ErrNotIPv4
		}
		bits -= 96
	}
	return netip.PrefixFrom(addr, bits).Masked(), nil
}

// Insert stores v under p, replacing any value stored under the same prefix.
func (t *Trie[V]) Insert(p netip.Prefix, v V) error {
	p, err := Canonical(p)
	if err != nil {
		return err
	}
	key, _ := addrBits(p.Addr())
	if _, ok := t.masks[p.Bits()][key]; !ok {
		t.size++
	}
	t.masks[p.Bits()][key] = v
	return nil
}

// Get returns the value stored under exactly p.
func (t *Trie[V]) Get(p netip.Prefix) (V, bool) {
	var zero V
	p, err := Canonical(p)
	if err != nil {
		return zero, false
	}
	key, _ := addrBits(p.Addr())
	v, ok := t.masks[p.Bits()][key]
	return v, ok
}

// Remove deletes the entry stored under exactly p.
func (t *Trie[V]) Remove(p netip.Prefix) bool {
	p, err := Canonical(p)
	if err != nil {
		return false
	}
	key, _ := addrBits(p.Addr())
	if _, ok := t.masks[p.Bits()][key]; !ok {
		return false
	}
	delete(t.masks[p.Bits()], key)
	t.size--
	return true
}

// Lookup returns the most specific entry covering addr.
func (t *Trie[V]) Lookup(addr netip.Addr) (netip.Prefix, V, bool) {
	return t.lookupFrom(addr, 32)
}

// LookupPrefix returns the most specific entry that covers p, including an
// entry equal to p. Coverage is decided by mask length, never by insertion
// order.
func (t *Trie[V]) LookupPrefix(p netip.Prefix) (netip.Prefix, V, bool) {
	p, err := Canonical(p)
	if err != nil {
		var zero V
		return netip.Prefix{}, zero, false
	}
	return t.lookupFrom(p.Addr(), p.Bits())
}

func (t *Trie[V]) lookupFrom(addr netip.Addr, maxBits int) (netip.Prefix, V, bool) {
	var zero V
	target, ok := addrBits(addr)
	if !ok {
		return netip.Prefix{}, zero, false
	}
	for m := maxBits; m >= 0; m-- {
		key := target & mask(m)
		if v, ok := t.masks[m][key]; ok {
			return prefixOf(key, m), v, true
		}
	}
	return netip.Prefix{}, zero, false
}

// Contains reports whether any entry covers addr.
func (t *Trie[V]) Contains(addr netip.Addr) bool {
	_, _, ok := t.Lookup(addr)
	return ok
}

// Covering returns the entries strictly broader than p that contain it,
// broadest first.
func (t *Trie[V]) Covering(p netip.Prefix) []netip.Prefix {
	p, err := Canonical(p)
	if err != nil {
		return nil
	}
	target, _ := addrBits(p.Addr())
	var out []netip.Prefix
	for m := 0; m < p.Bits(); m++ {
		key := target & mask(m)
		if _, ok := t.masks[m][key]; ok {
			out = append(out, prefixOf(key, m))
		}
	}
	return out
}

// Covered returns the entries strictly inside p, broadest first.
func (t *Trie[V]) Covered(p netip.Prefix) []netip.Prefix {
	p, err := Canonical(p)
	if err != nil {
		return nil
	}
	base, _ := addrBits(p.Addr())
	pm := mask(p.Bits())
	var out []netip.Prefix
	for m := p.Bits() + 1; m <= 32; m++ {
		var level []netip.Prefix
		for key := range t.masks[m] {
			if key&pm == base {
				level = append(level, prefixOf(key, m))
			}
		}
		sortPrefixes(level)
		out = append(out, level...)
	}
	return out
}

func (t *Trie[V]) Len() int {
	return t.size
}

// Walk visits every entry in ascending (mask length, address) order. It stops
// early when fn returns false.
func (t *Trie[V]) Walk(fn func(p netip.Prefix, v V) bool) {
	for m := 0; m <= 32; m++ {
		keys := make([]uint32, 0, len(t.masks[m]))
		for k := range t.masks[m] {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		for _, k := range keys {
			if !fn(prefixOf(k, m), t.masks[m][k]) {
				return
			}
		}
	}
}

// Prefixes returns all stored prefixes in Walk order.
func (t *Trie[V]) Prefixes() []netip.Prefix {
	out := make([]netip.Prefix, 0, t.size)
	t.Walk(func(p netip.Prefix, _ V) bool {
		out = append(out, p)
		return true
	})
	return out
}

// SortPrefixes orders prefixes by mask length, then address.
func SortPrefixes(ps []netip.Prefix) {
	sortPrefixes(ps)
}

func sortPrefixes(ps []netip.Prefix) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Bits() != ps[j].Bits() {
			return ps[i].Bits() < ps[j].Bits()
		}
		return ps[i].Addr().Less(ps[j].Addr())
	})
}
