package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sudorandom/ixpdetect/pkg/detect"
	"github.com/sudorandom/ixpdetect/pkg/names"
	"github.com/sudorandom/ixpdetect/pkg/rules"
	"github.com/sudorandom/ixpdetect/pkg/sources"
)

func crossingAt(name string) detect.Crossing {
	ixp := detect.HopView{
		Identity: names.Identity{Short: name},
		Geo:      sources.Geo{Country: "NL", City: "Amsterdam"},
	}
	return detect.Crossing{From: ixp, To: detect.HopView{Index: 1}}
}

func TestStatsRecord(t *testing.T) {
	stats := NewStats(2)

	possible := detect.Event{Assessment: rules.Possible, Crossings: []detect.Crossing{crossingAt("AMS-IX")}}
	stats.Record(detect.Report{Result: detect.Result{Events: []detect.Event{possible}, Hits: []int{0, 0}}})
	require.Equal(t, 1, stats.Results)
	require.Equal(t, 0, stats.Crossing, "possible crossings alone are not counted")
	require.Equal(t, 1, stats.Possible)
	require.Empty(t, stats.IXPs)

	crossing := detect.Event{Assessment: rules.A, Crossings: []detect.Crossing{crossingAt("AMS-IX")}}
	stats.Record(detect.Report{Result: detect.Result{Events: []detect.Event{crossing, possible}, Hits: []int{0, 1}}})
	require.Equal(t, 2, stats.Results)
	require.Equal(t, 1, stats.Crossing)
	require.Equal(t, 2, stats.Possible)
	require.Equal(t, map[string]int{"AMS-IX (NL,Amsterdam)": 1}, stats.IXPs)
	require.Equal(t, []int{0, 1}, stats.Hits)

	stats.Record(detect.Report{})
	require.Equal(t, 3, stats.Results)
	require.Equal(t, 1, stats.Crossing)
}
