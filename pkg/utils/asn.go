package utils

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const AutnumsURL = "https://thyme.apnic.net/current/data-used-autnums"

// ASNames maps AS numbers to their registered names, used to render events.
type ASNames struct {
	names map[uint32]string
}

func NewASNames() *ASNames {
	return &ASNames{names: make(map[uint32]string)}
}

// Fetch loads the APNIC autnums listing through the download cache.
func (m *ASNames) Fetch(ctx context.Context, cacheDir string) error {
	r, err := CachedReader(ctx, AutnumsURL, cacheDir, "[ASN]")
	if err != nil {
		return errors.Wrap(err, "failed to fetch ASN names")
	}
	defer CloseLogged(r, "ASN names")
	return m.Load(r)
}

// Load parses lines of the form "AS<n> <name>" or "<n> <name>".
func (m *ASNames) Load(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) < 2 {
			continue
		}
		asn, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "AS"), 10, 32)
		if err != nil {
			continue
		}
		m.names[uint32(asn)] = strings.Join(parts[1:], " ")
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	Log.Infof("Loaded %d ASN names", len(m.names))
	return nil
}

func (m *ASNames) Name(asn uint32) string {
	if m == nil {
		return ""
	}
	return m.names[asn]
}
