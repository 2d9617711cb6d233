// Package detect applies the detection rules to classified traceroute paths
// and reports IXP crossings.
package detect

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/sudorandom/ixpdetect/pkg/classify"
	"github.com/sudorandom/ixpdetect/pkg/names"
	"github.com/sudorandom/ixpdetect/pkg/rules"
	"github.com/sudorandom/ixpdetect/pkg/sources"
)

// pivot is the window position the rules are anchored on.
const pivot = 1

// MembershipIndex lists the IXPs an AS has member addresses at.
type MembershipIndex interface {
	Members(asn uint32) []names.Identity
}

// Detector evaluates rules over sliding windows of two or three hops. It
// only reads its fields and may be shared between goroutines.
type Detector struct {
	Rules      []rules.Rule
	Membership MembershipIndex
	Reconciler *names.Reconciler
	// Remote, when set, annotates events of the remote peering rule.
	Remote *sources.RemotePeering
}

func New(rs []rules.Rule, m MembershipIndex, r *names.Reconciler) *Detector {
	if r == nil {
		r = names.NewReconciler(nil)
	}
	return &Detector{Rules: rs, Membership: m, Reconciler: r}
}

// HopView is a hop with one candidate ASN and one candidate identity chosen.
type HopView struct {
	Index    int
	Addr     string
	IP       netip.Addr
	Type     classify.Type
	ASN      uint32 // 0 when unknown
	Identity names.Identity
	Geo      sources.Geo
	Dirty    bool
}

func (h HopView) ASNString() string {
	if h.ASN == 0 {
		return "AS*"
	}
	return fmt.Sprintf("AS%d", h.ASN)
}

// Label renders the hop's IXP as "name (country,city)", or "" for hops
// outside an IXP.
func (h HopView) Label() string {
	name := h.Identity.Short
	if name == "" {
		name = h.Identity.Long
	}
	if name == "" {
		return ""
	}
	return fmt.Sprintf("%s (%s,%s)", name, h.Geo.Country, h.Geo.City)
}

func (h HopView) String() string {
	return fmt.Sprintf("%d) %s (%s)", h.Index+1, h.Addr, h.ASNString())
}

// Crossing is one pair of adjacent hops an IXP is crossed between.
type Crossing struct {
	From, To HopView
}

// IXP joins the distinct labels of both hops.
func (c Crossing) IXP() string {
	a, b := c.From.Label(), c.To.Label()
	switch {
	case a == "":
		return b
	case b == "" || a == b:
		return a
	}
	return a + "," + b
}

func (c Crossing) String() string {
	return fmt.Sprintf("%s <--- %s ---> %s", c.From, c.IXP(), c.To)
}

// Event is one satisfied rule on one window.
type Event struct {
	// Window is the path index of the window's pivot hop.
	Window     int
	Rule       rules.Rule
	Assessment rules.Assessment
	Hops       []HopView
	Crossings  []Crossing
	RemotePeer *sources.RemotePeer
}

// Possible reports whether the rule only marks a possible crossing.
func (e Event) Possible() bool {
	return e.Assessment == rules.Possible
}

func (e Event) String() string {
	parts := make([]string, len(e.Crossings))
	for i, c := range e.Crossings {
		parts[i] = c.String()
	}
	sep := " or "
	if e.Assessment == rules.AAndB {
		sep = " and "
	}
	s := fmt.Sprintf("Rule: %d --- %s", e.Rule.Index+1, strings.Join(parts, sep))
	if e.RemotePeer != nil {
		s += fmt.Sprintf(" [remote peer %s at %s]", e.RemotePeer.Addr, e.RemotePeer.IXP)
	}
	return s
}

// Result holds the events of one path and the hit count per rule.
type Result struct {
	Events []Event
	Hits   []int
}

type candidates struct {
	asns []uint32
	ids  []names.Identity
}

func candidatesOf(h classify.Hop) candidates {
	c := candidates{asns: h.ASNs, ids: h.Identities}
	if len(c.asns) == 0 {
		c.asns = []uint32{0}
	}
	if len(c.ids) == 0 {
		c.ids = []names.Identity{{}}
	}
	return c
}

// Detect slides a window over hops and evaluates every rule against every
// combination of candidate ASNs and identities in it. All satisfied rules
// are reported; identical renderings of the same rule are reported once.
func (d *Detector) Detect(hops []classify.Hop) Result {
	res := Result{Hits: make([]int, len(d.Rules))}
	seen := make(map[string]bool)
	for i := 1; i < len(hops); i++ {
		window := hops[i-1 : min(i+2, len(hops))]
		cands := make([]candidates, len(window))
		sizes := make([]int, 0, 2*len(window))
		for k, h := range window {
			cands[k] = candidatesOf(h)
			sizes = append(sizes, len(cands[k].asns), len(cands[k].ids))
		}
		for combo := range Product(sizes) {
			views := make([]HopView, len(window))
			for k, h := range window {
				views[k] = HopView{
					Index:    h.Index,
					Addr:     h.Addr,
					IP:       h.IP,
					Type:     h.Type,
					ASN:      cands[k].asns[combo[2*k]],
					Identity: cands[k].ids[combo[2*k+1]],
					Geo:      h.Geo,
					Dirty:    h.Dirty,
				}
			}
			for j, r := range d.Rules {
				if !d.Match(r, views) {
					continue
				}
				ev, ok := d.event(i, r, views)
				if !ok {
					continue
				}
				key := fmt.Sprint(j, "|", ev.String())
				if seen[key] {
					continue
				}
				seen[key] = true
				res.Events = append(res.Events, ev)
				if !ev.Possible() {
					res.Hits[j]++
				}
			}
		}
	}
	return res
}

// edges returns the window positions of the hop pairs an assessment names.
func edges(a rules.Assessment) [][2]int {
	switch a {
	case rules.B:
		return [][2]int{{1, 2}}
	case rules.AOrB, rules.AAndB:
		return [][2]int{{0, 1}, {1, 2}}
	default:
		return [][2]int{{0, 1}}
	}
}

func (d *Detector) event(window int, r rules.Rule, views []HopView) (Event, bool) {
	ev := Event{Window: window, Rule: r, Assessment: r.Assessment, Hops: views}
	for _, e := range edges(r.Assessment) {
		if e[1] >= len(views) {
			continue
		}
		ev.Crossings = append(ev.Crossings, Crossing{From: views[e[0]], To: views[e[1]]})
	}
	if len(ev.Crossings) == 0 {
		// The last window of a path has two hops, so an edge past it falls
		// back to the pair the condition was checked on.
		if len(views) < 2 {
			return ev, false
		}
		n := len(views)
		ev.Crossings = append(ev.Crossings, Crossing{From: views[n-2], To: views[n-1]})
	}
	if r.RemotePeer >= 0 && r.RemotePeer < len(views) && d.Remote != nil {
		ev.RemotePeer = d.remotePeer(views[r.RemotePeer], ev.Crossings[0])
	}
	return ev, true
}

func (d *Detector) remotePeer(peer HopView, c Crossing) *sources.RemotePeer {
	ixp := c.From
	if ixp.Identity.IsEmpty() {
		ixp = c.To
	}
	if !peer.IP.IsValid() {
		return nil
	}
	for _, name := range []string{ixp.Identity.Short, ixp.Identity.Long} {
		if rp, ok := d.Remote.Find(peer.IP, name, ixp.Geo.Country, ixp.Geo.City); ok {
			return rp
		}
	}
	return nil
}
