package detect

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sudorandom/ixpdetect/pkg/classify"
	"github.com/sudorandom/ixpdetect/pkg/sources"
)

// Report is the analysis of one trace.
type Report struct {
	Trace sources.Trace
	Hops  []classify.Hop
	Result
}

// Pool analyses traces concurrently against a frozen database.
type Pool struct {
	DB       classify.Lookup
	Detector *Detector
	Workers  int
}

// Analyze classifies one trace and runs the detector on it.
func (p *Pool) Analyze(t sources.Trace) Report {
	hops := classify.Classify(p.DB, t.Hops)
	return Report{Trace: t, Hops: hops, Result: p.Detector.Detect(hops)}
}

// Run analyses every trace and returns the reports in input order. When ctx
// is cancelled the partial results are discarded.
func (p *Pool) Run(ctx context.Context, traces []sources.Trace) ([]Report, error) {
	reports := make([]Report, len(traces))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.Workers, 1))
	for i, t := range traces {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			reports[i] = p.Analyze(t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return reports, nil
}

// TotalHits sums the per-rule hit counts of reports.
func TotalHits(reports []Report, rules int) []int {
	total := make([]int, rules)
	for _, r := range reports {
		for j, n := range r.Hits {
			if j < len(total) {
				total[j] += n
			}
		}
	}
	return total
}
