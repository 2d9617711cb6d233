package sources

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/sudorandom/ixpdetect/pkg/lpm"
	"github.com/sudorandom/ixpdetect/pkg/names"
)

// Geofeed is a self-published location feed (RFC 8805) used to place IXP
// subnets the registries leave without a location.
type Geofeed struct {
	trie *lpm.Trie[Geo]
}

// ParseGeofeed reads "prefix,country,region,city,postal" lines. IPv6 and
// malformed lines are skipped.
func ParseGeofeed(r io.Reader) (*Geofeed, error) {
	g := &Geofeed{trie: lpm.New[Geo]()}
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				continue
			}
			return nil, errors.Wrap(err, "failed to read geofeed")
		}
		if len(record) < 4 {
			continue
		}
		p, err := lpm.ParsePrefix(strings.TrimSpace(record[0]))
		if err != nil {
			continue
		}
		_ = g.trie.Insert(p, newGeo(record[1], record[3]))
	}
	return g, nil
}

func (g *Geofeed) Len() int {
	if g == nil {
		return 0
	}
	return g.trie.Len()
}

// Backfill sets the location of every subnet in nm that has none in geo
// from the most specific feed entry covering it.
func (g *Geofeed) Backfill(nm NameMap, geo GeoMap) int {
	if g == nil {
		return 0
	}
	filled := 0
	for p := range nm {
		if cur, ok := geo[p]; ok && cur.Country != "" {
			continue
		}
		_, loc, ok := g.trie.LookupPrefix(p)
		if !ok || loc.Country == "" {
			continue
		}
		geo[p] = Geo{Country: loc.Country, City: names.Clean(loc.City)}
		filled++
	}
	return filled
}
