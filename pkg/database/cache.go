package database

import (
	"bytes"
	"encoding/binary"
	"net/netip"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/sudorandom/ixpdetect/pkg/merge"
	"github.com/sudorandom/ixpdetect/pkg/names"
	"github.com/sudorandom/ixpdetect/pkg/sources"
)

// Cache persists a merged database in a badger store. Subnet keyed families
// use the 4 address bytes plus the mask length as key suffix, address keyed
// families the 4 address bytes.
type Cache struct {
	db *badger.DB
}

var (
	keyMtime     = []byte("meta/override_mtime")
	keyStats     = []byte("meta/stats")
	prefixSubnet = []byte("subnet/")
	prefixGeo    = []byte("geo/")
	prefixIP     = []byte("ip/")
	prefixDirty  = []byte("dirty/")
	prefixMember = []byte("member/")
	prefixRoute  = []byte("route/")
)

// ErrCorrupt is returned when a cached value cannot be decoded.
var ErrCorrupt = errors.New("corrupt cache entry")

func OpenCache(path string) (*Cache, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open cache at %s", path)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func prefixKey(family []byte, p netip.Prefix) []byte {
	a := p.Addr().As4()
	key := make([]byte, 0, len(family)+5)
	key = append(key, family...)
	key = append(key, a[:]...)
	return append(key, byte(p.Bits()))
}

func addrKey(family []byte, ip netip.Addr) []byte {
	a := ip.As4()
	return append(append(make([]byte, 0, len(family)+4), family...), a[:]...)
}

func asnKey(asn uint32) []byte {
	return binary.BigEndian.AppendUint32(append([]byte(nil), prefixMember...), asn)
}

func parsePrefixKey(suffix []byte) (netip.Prefix, error) {
	if len(suffix) != 5 {
		return netip.Prefix{}, ErrCorrupt
	}
	return netip.AddrFrom4([4]byte(suffix[:4])).Prefix(int(suffix[4]))
}

func parseAddrKey(suffix []byte) (netip.Addr, error) {
	if len(suffix) != 4 {
		return netip.Addr{}, ErrCorrupt
	}
	return netip.AddrFrom4([4]byte(suffix)), nil
}

// Identity lists are encoded as repeated field 1 messages holding the long
// name in field 1 and the short name in field 2.
func encodeIdentities(ids []names.Identity) []byte {
	var b []byte
	for _, id := range ids {
		var msg []byte
		msg = protowire.AppendTag(msg, 1, protowire.BytesType)
		msg = protowire.AppendString(msg, id.Long)
		msg = protowire.AppendTag(msg, 2, protowire.BytesType)
		msg = protowire.AppendString(msg, id.Short)
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}
	return b
}

// walkFields calls fn for each field of a message.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), ErrCorrupt.Error())
		}
		b = b[n:]
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return errors.Wrap(protowire.ParseError(m), ErrCorrupt.Error())
		}
		if err := fn(num, typ, b[:m]); err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func consumeString(v []byte) (string, error) {
	s, n := protowire.ConsumeString(v)
	if n < 0 {
		return "", ErrCorrupt
	}
	return s, nil
}

func decodeIdentities(b []byte) ([]names.Identity, error) {
	var out []names.Identity
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != 1 || typ != protowire.BytesType {
			return nil
		}
		msg, n := protowire.ConsumeBytes(v)
		if n < 0 {
			return ErrCorrupt
		}
		var id names.Identity
		err := walkFields(msg, func(num protowire.Number, typ protowire.Type, v []byte) error {
			if typ != protowire.BytesType {
				return nil
			}
			s, err := consumeString(v)
			switch num {
			case 1:
				id.Long = s
			case 2:
				id.Short = s
			}
			return err
		})
		out = append(out, id)
		return err
	})
	return out, err
}

func encodeGeo(g sources.Geo) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, g.Country)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	return protowire.AppendString(b, g.City)
}

func decodeGeo(b []byte) (sources.Geo, error) {
	var g sources.Geo
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		s, err := consumeString(v)
		switch num {
		case 1:
			g.Country = s
		case 2:
			g.City = s
		}
		return err
	})
	return g, err
}

// ASN lists are a packed repeated field 1.
func encodeASNs(asns []uint32) []byte {
	var packed []byte
	for _, a := range asns {
		packed = protowire.AppendVarint(packed, uint64(a))
	}
	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func decodeASNs(b []byte) ([]uint32, error) {
	out := []uint32{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != 1 || typ != protowire.BytesType {
			return nil
		}
		packed, n := protowire.ConsumeBytes(v)
		if n < 0 {
			return ErrCorrupt
		}
		for len(packed) > 0 {
			x, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return ErrCorrupt
			}
			out = append(out, uint32(x))
			packed = packed[m:]
		}
		return nil
	})
	return out, err
}

// statsFields lists the merge counters in their stored order. New counters
// are appended.
func statsFields(s *merge.Stats) []*int {
	return []*int{
		&s.PCHSubnets, &s.PCHAddrs, &s.PDBSubnets, &s.PDBAddrs,
		&s.UserSubnets, &s.UserAddrs, &s.Reserved,
		&s.Subnets.Reserved, &s.Subnets.User, &s.Subnets.Merged, &s.Subnets.Redundant,
		&s.UserEvicted, &s.ASNConflicts, &s.Dirty,
		&s.FinalSubnets, &s.FinalAddrs, &s.MultiIdentity, &s.Members,
	}
}

func encodeStats(s merge.Stats) []byte {
	var packed []byte
	for _, f := range statsFields(&s) {
		packed = protowire.AppendVarint(packed, uint64(*f))
	}
	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func decodeStats(b []byte) (merge.Stats, error) {
	var s merge.Stats
	fields := statsFields(&s)
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != 1 || typ != protowire.BytesType {
			return nil
		}
		packed, n := protowire.ConsumeBytes(v)
		if n < 0 {
			return ErrCorrupt
		}
		for i := 0; len(packed) > 0 && i < len(fields); i++ {
			x, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return ErrCorrupt
			}
			*fields[i] = int(x)
			packed = packed[m:]
		}
		return nil
	})
	return s, err
}

// Save replaces the cache content with db, stamped with the override file
// modification time in Unix nanoseconds.
func (c *Cache) Save(db *DB, mtime int64) error {
	if err := c.db.DropAll(); err != nil {
		return errors.Wrap(err, "failed to clear cache")
	}
	wb := c.db.NewWriteBatch()
	defer wb.Cancel()

	set := func(k, v []byte) error {
		return wb.Set(k, v)
	}
	var err error
	db.Subnets.Walk(func(p netip.Prefix, ids []names.Identity) bool {
		err = set(prefixKey(prefixSubnet, p), encodeIdentities(ids))
		return err == nil
	})
	if err != nil {
		return err
	}
	for p, g := range db.Geo {
		if err := set(prefixKey(prefixGeo, p), encodeGeo(g)); err != nil {
			return err
		}
	}
	for ip, asns := range db.IPToASN {
		if err := set(addrKey(prefixIP, ip), encodeASNs(asns)); err != nil {
			return err
		}
	}
	for ip, asns := range db.Dirty {
		if err := set(addrKey(prefixDirty, ip), encodeASNs(asns)); err != nil {
			return err
		}
	}
	for asn, ids := range db.Membership {
		if err := set(asnKey(asn), encodeIdentities(ids)); err != nil {
			return err
		}
	}
	if db.Routes != nil {
		db.Routes.Walk(func(p netip.Prefix, asns []uint32) bool {
			err = set(prefixKey(prefixRoute, p), encodeASNs(asns))
			return err == nil
		})
		if err != nil {
			return err
		}
	}
	if err := set(keyStats, encodeStats(db.Stats)); err != nil {
		return err
	}
	if err := set(keyMtime, protowire.AppendVarint(nil, uint64(mtime))); err != nil {
		return err
	}
	return wb.Flush()
}

// Mtime returns the stored override modification time.
func (c *Cache) Mtime() (int64, bool, error) {
	var mtime int64
	found := false
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyMtime)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			x, n := protowire.ConsumeVarint(v)
			if n < 0 {
				return ErrCorrupt
			}
			mtime, found = int64(x), true
			return nil
		})
	})
	return mtime, found, err
}

// forEach visits every entry under a key family.
func (c *Cache) forEach(family []byte, fn func(suffix, v []byte) error) error {
	return c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = family
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(family); it.ValidForPrefix(family); it.Next() {
			item := it.Item()
			suffix := bytes.TrimPrefix(item.KeyCopy(nil), family)
			if err := item.Value(func(v []byte) error {
				return fn(suffix, v)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load returns the cached database when it was saved for mtime. A missing or
// stale cache is reported with ok false and no error.
func (c *Cache) Load(mtime int64) (db *DB, ok bool, err error) {
	stored, found, err := c.Mtime()
	if err != nil || !found || stored != mtime {
		return nil, false, err
	}
	db = newDB()

	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyStats)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			db.Stats, err = decodeStats(v)
			return err
		})
	})
	if err != nil {
		return nil, false, err
	}
	err = c.forEach(prefixSubnet, func(suffix, v []byte) error {
		p, err := parsePrefixKey(suffix)
		if err != nil {
			return err
		}
		ids, err := decodeIdentities(v)
		if err != nil {
			return err
		}
		return db.Subnets.Insert(p, ids)
	})
	if err != nil {
		return nil, false, err
	}
	err = c.forEach(prefixGeo, func(suffix, v []byte) error {
		p, err := parsePrefixKey(suffix)
		if err != nil {
			return err
		}
		db.Geo[p], err = decodeGeo(v)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	for _, fam := range []struct {
		prefix []byte
		into   sources.ASNMap
	}{{prefixIP, db.IPToASN}, {prefixDirty, db.Dirty}} {
		err = c.forEach(fam.prefix, func(suffix, v []byte) error {
			ip, err := parseAddrKey(suffix)
			if err != nil {
				return err
			}
			fam.into[ip], err = decodeASNs(v)
			return err
		})
		if err != nil {
			return nil, false, err
		}
	}
	err = c.forEach(prefixMember, func(suffix, v []byte) error {
		if len(suffix) != 4 {
			return ErrCorrupt
		}
		ids, err := decodeIdentities(v)
		db.Membership[binary.BigEndian.Uint32(suffix)] = ids
		return err
	})
	if err != nil {
		return nil, false, err
	}
	err = c.forEach(prefixRoute, func(suffix, v []byte) error {
		p, err := parsePrefixKey(suffix)
		if err != nil {
			return err
		}
		asns, err := decodeASNs(v)
		if err != nil {
			return err
		}
		return db.Routes.Insert(p, asns)
	})
	if err != nil {
		return nil, false, err
	}
	return db, true, nil
}
