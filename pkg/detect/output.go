package detect

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/sudorandom/ixpdetect/pkg/classify"
	"github.com/sudorandom/ixpdetect/pkg/rules"
)

// ASNamer resolves AS numbers to registered names. A nil namer is allowed.
type ASNamer interface {
	Name(asn uint32) string
}

func asnList(h classify.Hop, namer ASNamer) string {
	if len(h.ASNs) == 0 {
		return "AS*"
	}
	parts := make([]string, len(h.ASNs))
	for i, asn := range h.ASNs {
		parts[i] = fmt.Sprintf("AS%d", asn)
		if namer != nil {
			if n := namer.Name(asn); n != "" {
				parts[i] += " " + n
			}
		}
	}
	return strings.Join(parts, ", ")
}

func identityList(h classify.Hop) string {
	parts := make([]string, 0, len(h.Identities))
	for _, id := range h.Identities {
		name := id.Short
		if name == "" {
			name = id.Long
		}
		parts = append(parts, name)
	}
	s := strings.Join(parts, " | ")
	if s != "" && h.Geo.Country != "" {
		s += fmt.Sprintf(" (%s,%s)", h.Geo.Country, h.Geo.City)
	}
	return s
}

// WriteReport renders a report as a hop table followed by the detected
// crossings.
func WriteReport(w io.Writer, r Report, namer ASNamer) error {
	t := r.Trace
	header := fmt.Sprintf("Path %s: %s -> %s", t.ID, t.Src, t.Dst)
	if t.Info != "" {
		header += " (" + t.Info + ")"
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, h := range r.Hops {
		info := ""
		if i < len(t.HopInfo) {
			info = t.HopInfo[i]
		}
		flag := ""
		if h.Dirty {
			flag = "?"
		}
		if _, err := fmt.Fprintf(tw, "%d)\t%s\t%s\t%s\t%s%s\t%s\n",
			h.Index+1, h.Addr, asnList(h, namer), h.Type, identityList(h), flag, info); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, ev := range r.Events {
		prefix := "IXP crossing"
		if ev.Possible() {
			prefix = "Possible IXP crossing"
		}
		if _, err := fmt.Fprintf(w, "%s. %s\n", prefix, ev); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

type jsonCrossing struct {
	Rule       int      `json:"rule"`
	Assessment string   `json:"assessment"`
	From       int      `json:"from"`
	To         int      `json:"to"`
	IXP        string   `json:"ixp"`
	ASNs       []uint32 `json:"asns"`
	Possible   bool     `json:"possible,omitempty"`
	RemotePeer string   `json:"remote_peer,omitempty"`
}

type jsonHop struct {
	Addr  string   `json:"addr"`
	Type  string   `json:"type"`
	ASNs  []uint32 `json:"asns,omitempty"`
	IXPs  []string `json:"ixps,omitempty"`
	Dirty bool     `json:"dirty,omitempty"`
	Info  string   `json:"info,omitempty"`
}

type jsonReport struct {
	ID        string         `json:"id"`
	Src       string         `json:"src"`
	Dst       string         `json:"dst"`
	Info      string         `json:"info,omitempty"`
	Hops      []jsonHop      `json:"hops"`
	Crossings []jsonCrossing `json:"crossings"`
}

func toJSON(r Report) jsonReport {
	out := jsonReport{
		ID: r.Trace.ID, Src: r.Trace.Src, Dst: r.Trace.Dst, Info: r.Trace.Info,
		Hops:      make([]jsonHop, len(r.Hops)),
		Crossings: []jsonCrossing{},
	}
	for i, h := range r.Hops {
		jh := jsonHop{Addr: h.Addr, Type: h.Type.String(), ASNs: h.ASNs, Dirty: h.Dirty}
		for _, id := range h.Identities {
			jh.IXPs = append(jh.IXPs, id.String())
		}
		if i < len(r.Trace.HopInfo) {
			jh.Info = r.Trace.HopInfo[i]
		}
		out.Hops[i] = jh
	}
	for _, ev := range r.Events {
		for _, c := range ev.Crossings {
			jc := jsonCrossing{
				Rule:       ev.Rule.Index + 1,
				Assessment: string(ev.Assessment),
				From:       c.From.Index + 1,
				To:         c.To.Index + 1,
				IXP:        c.IXP(),
				ASNs:       []uint32{c.From.ASN, c.To.ASN},
				Possible:   ev.Possible(),
			}
			if ev.RemotePeer != nil {
				jc.RemotePeer = ev.RemotePeer.Addr.String()
			}
			out.Crossings = append(out.Crossings, jc)
		}
	}
	return out
}

// WriteJSON writes one JSON document per report.
func WriteJSON(w io.Writer, reports []Report) error {
	enc := json.NewEncoder(w)
	for _, r := range reports {
		if err := enc.Encode(toJSON(r)); err != nil {
			return err
		}
	}
	return nil
}

// WriteHits prints the hit count of every rule that fired at least once.
func WriteHits(w io.Writer, hits []int, rs []rules.Rule) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for j, n := range hits {
		if n == 0 || j >= len(rs) {
			continue
		}
		if _, err := fmt.Fprintf(tw, "Rule %d\t%s\t%d\n", j+1, rs[j], n); err != nil {
			return err
		}
	}
	return tw.Flush()
}

