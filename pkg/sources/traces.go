package sources

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// NoReply marks a hop that did not answer.
const NoReply = "*"

// Trace is one traceroute path to analyse. HopInfo runs parallel to Hops
// and is carried through untouched.
type Trace struct {
	ID      string
	Src     string
	Dst     string
	Info    string
	Hops    []string
	HopInfo []string
}

type jsonHop struct {
	From string          `json:"from"`
	Info json.RawMessage `json:"info"`
}

type jsonTrace struct {
	ID     json.RawMessage    `json:"id"`
	Src    string             `json:"src"`
	Dst    string             `json:"dst"`
	Info   string             `json:"info"`
	Result map[string]jsonHop `json:"result"`
}

func rawString(m json.RawMessage) string {
	if len(m) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m, &s); err == nil {
		return s
	}
	return string(m)
}

func (jt jsonTrace) trace() (Trace, error) {
	t := Trace{ID: rawString(jt.ID), Src: jt.Src, Dst: jt.Dst, Info: jt.Info}
	byIndex := make(map[int]jsonHop, len(jt.Result))
	indexes := make([]int, 0, len(jt.Result))
	for k, hop := range jt.Result {
		n, err := strconv.Atoi(strings.TrimPrefix(k, "hop"))
		if err != nil {
			return Trace{}, errors.Errorf("trace %s: invalid hop key %q", t.ID, k)
		}
		byIndex[n] = hop
		indexes = append(indexes, n)
	}
	if len(indexes) == 0 {
		return t, nil
	}
	sort.Ints(indexes)
	for i := indexes[0]; i <= indexes[len(indexes)-1]; i++ {
		hop, ok := byIndex[i]
		if !ok || hop.From == "" {
			t.Hops = append(t.Hops, NoReply)
			t.HopInfo = append(t.HopInfo, "")
			continue
		}
		t.Hops = append(t.Hops, hop.From)
		t.HopInfo = append(t.HopInfo, rawString(hop.Info))
	}
	return t, nil
}

// ParseTraces reads a JSON array of traces in the form
//
//	{"id": .., "src": .., "dst": .., "info": .., "result": {"hop1": {"from": .., "info": ..}}}
//
// Gaps in the hop numbering become non-responding hops.
func ParseTraces(r io.Reader) ([]Trace, error) {
	var raw []jsonTrace
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode traces")
	}
	out := make([]Trace, 0, len(raw))
	for _, jt := range raw {
		t, err := jt.trace()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// AtlasReply is one probe packet reply.
type AtlasReply struct {
	From string  `json:"from"`
	RTT  float64 `json:"rtt"`
	X    string  `json:"x"`
}

type AtlasHop struct {
	Hop    int          `json:"hop"`
	Error  string       `json:"error"`
	Result []AtlasReply `json:"result"`
}

// AtlasResult is a RIPE Atlas traceroute result.
type AtlasResult struct {
	MsmID     int        `json:"msm_id"`
	PrbID     int        `json:"prb_id"`
	From      string     `json:"from"`
	DstAddr   string     `json:"dst_addr"`
	DstName   string     `json:"dst_name"`
	AF        int        `json:"af"`
	Type      string     `json:"type"`
	Timestamp int64      `json:"timestamp"`
	Result    []AtlasHop `json:"result"`
}

// ErrUnsupportedMeasurement is returned for non traceroute or IPv6 results.
var ErrUnsupportedMeasurement = errors.New("only IPv4 traceroute measurements are supported")

// Trace converts the result to a path, taking the first reply carrying an
// address at each hop. Hop 255 is the final timeout marker and is skipped.
func (a AtlasResult) Trace() (Trace, error) {
	if a.AF != 4 || a.Type != "traceroute" {
		return Trace{}, ErrUnsupportedMeasurement
	}
	t := Trace{
		ID:   fmt.Sprintf("%d-%d-%d", a.MsmID, a.PrbID, a.Timestamp),
		Src:  a.From,
		Dst:  NoReply,
		Info: a.DstName,
	}
	if len(a.Result) == 0 || a.Result[0].Error != "" {
		return t, nil
	}
	t.Dst = a.DstAddr
	for _, hop := range a.Result {
		if hop.Hop == 255 {
			continue
		}
		ip, delay := NoReply, ""
		for _, reply := range hop.Result {
			if reply.From != "" {
				ip = reply.From
				delay = strconv.FormatFloat(reply.RTT, 'f', 3, 64) + " ms"
				break
			}
		}
		t.Hops = append(t.Hops, ip)
		t.HopInfo = append(t.HopInfo, delay)
	}
	return t, nil
}

// ParseAtlasResults reads a JSON array of RIPE Atlas traceroute results.
// Unsupported results are skipped.
func ParseAtlasResults(r io.Reader) ([]Trace, error) {
	var raw []AtlasResult
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode Atlas results")
	}
	out := make([]Trace, 0, len(raw))
	for _, res := range raw {
		t, err := res.Trace()
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// ParsePaths reads one whitespace separated path per line, the simplest
// input accepted by the detector.
func ParsePaths(r io.Reader) ([]Trace, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var out []Trace
	for i, line := range strings.Split(string(data), "\n") {
		line, _, _ = strings.Cut(line, "#")
		hops := strings.Fields(line)
		if len(hops) == 0 {
			continue
		}
		out = append(out, Trace{
			ID:      strconv.Itoa(i + 1),
			Src:     hops[0],
			Dst:     hops[len(hops)-1],
			Hops:    hops,
			HopInfo: make([]string, len(hops)),
		})
	}
	return out, nil
}
