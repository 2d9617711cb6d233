package sources

import (
	"net"
	"net/netip"
	"strings"

	"github.com/biter777/countries"
	"github.com/oschwald/maxminddb-golang"
	"github.com/pkg/errors"

	"github.com/sudorandom/ixpdetect/pkg/names"
)

// CleanPlace turns punctuation into spaces and drops repeated words.
func CleanPlace(s string) string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range strings.Fields(strings.Map(func(r rune) rune {
		if strings.ContainsRune(`!"#$%&'()*+,./:;<=>?@[\]^_{|}~-`, r) {
			return ' '
		}
		return r
	}, s)) {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return strings.Join(out, " ")
}

// NormalizeCountry maps a country name or code to its ISO 3166 alpha-2 code.
// Unknown values are returned cleaned but otherwise untouched.
func NormalizeCountry(s string) string {
	s = CleanPlace(s)
	if s == "" {
		return ""
	}
	if cc := countries.ByName(s); cc != countries.Unknown {
		return cc.Alpha2()
	}
	return s
}

// CountryName renders an alpha-2 code as a country name for display.
func CountryName(code string) string {
	if cc := countries.ByName(code); cc != countries.Unknown {
		return cc.String()
	}
	return code
}

func newGeo(country, city string) Geo {
	return Geo{Country: NormalizeCountry(country), City: CleanPlace(city)}
}

// GeoIP resolves locations from a MaxMind city database. It fills in subnets
// for which no registry reported a location.
type GeoIP struct {
	reader *maxminddb.Reader
}

func OpenGeoIP(path string) (*GeoIP, error) {
	r, err := maxminddb.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open GeoIP database %s", path)
	}
	return &GeoIP{reader: r}, nil
}

func (g *GeoIP) Close() error {
	return g.reader.Close()
}

// Lookup returns the country code and English city name of addr.
func (g *GeoIP) Lookup(addr netip.Addr) (Geo, error) {
	var record struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
		City struct {
			Names map[string]string `maxminddb:"names"`
		} `maxminddb:"city"`
	}
	if err := g.reader.Lookup(net.IP(addr.AsSlice()), &record); err != nil {
		return Geo{}, err
	}
	return Geo{Country: record.Country.ISOCode, City: record.City.Names["en"]}, nil
}

// Backfill sets the location of every subnet in nm that has none in geo,
// using the subnet's base address.
func (g *GeoIP) Backfill(nm NameMap, geo GeoMap) int {
	filled := 0
	for p := range nm {
		if cur, ok := geo[p]; ok && cur.Country != "" {
			continue
		}
		loc, err := g.Lookup(p.Addr())
		if err != nil || loc.Country == "" {
			continue
		}
		geo[p] = Geo{Country: loc.Country, City: names.Clean(loc.City)}
		filled++
	}
	return filled
}
