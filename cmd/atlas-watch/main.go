package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/sudorandom/ixpdetect/pkg/config"
	"github.com/sudorandom/ixpdetect/pkg/database"
	"github.com/sudorandom/ixpdetect/pkg/detect"
	"github.com/sudorandom/ixpdetect/pkg/rules"
	"github.com/sudorandom/ixpdetect/pkg/sources"
	"github.com/sudorandom/ixpdetect/pkg/utils"
)

type Stats struct {
	mu        sync.Mutex
	Results   int
	Skipped   int
	Crossing  int
	Possible  int
	Remote    int
	IXPs      map[string]int
	Hits      []int
	StartTime time.Time
}

func NewStats(rules int) *Stats {
	return &Stats{IXPs: make(map[string]int), Hits: make([]int, rules), StartTime: time.Now()}
}

func (s *Stats) Record(r detect.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Results++
	for j, n := range r.Hits {
		if j < len(s.Hits) {
			s.Hits[j] += n
		}
	}
	crossed := false
	for _, ev := range r.Events {
		if ev.Possible() {
			s.Possible++
			continue
		}
		crossed = true
		if ev.RemotePeer != nil {
			s.Remote++
		}
		for _, c := range ev.Crossings {
			s.IXPs[c.IXP()]++
		}
	}
	if crossed {
		s.Crossing++
	}
}

func (s *Stats) Skip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Skipped++
}

func (s *Stats) Report(rs []rules.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}

	fmt.Printf("\033[H\033[2J")
	fmt.Printf("Atlas IXP Crossing Stats (Running for %.1fs)\n", elapsed)
	fmt.Printf("--------------------------------------------------\n")
	fmt.Printf("Traceroutes:      %d (%.2f/s)\n", s.Results, float64(s.Results)/elapsed)
	fmt.Printf("Skipped:          %d\n", s.Skipped)
	fmt.Printf("Crossing IXPs:    %d\n", s.Crossing)
	fmt.Printf("Possible only:    %d\n", s.Possible)
	fmt.Printf("Remote peerings:  %d\n", s.Remote)
	fmt.Printf("--------------------------------------------------\n")

	fmt.Printf("RULE HITS:\n")
	for j, n := range s.Hits {
		if n > 0 && j < len(rs) {
			fmt.Printf("  %2d) %-40s %d\n", j+1, rs[j].Condition(), n)
		}
	}
	fmt.Printf("--------------------------------------------------\n")

	type ixpCount struct {
		Name  string
		Count int
	}
	var list []ixpCount
	for name, n := range s.IXPs {
		list = append(list, ixpCount{name, n})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Count != list[j].Count {
			return list[i].Count > list[j].Count
		}
		return list[i].Name < list[j].Name
	})
	maxIXPs := min(10, len(list))
	if maxIXPs > 0 {
		fmt.Printf("Top %d Crossed IXPs:\n", maxIXPs)
		for _, x := range list[:maxIXPs] {
			fmt.Printf("  %s: %d crossings\n", x.Name, x.Count)
		}
	}
}

type CLI struct {
	Config       string        `help:"Configuration file." default:"${config_file}" type:"path"`
	Measurements []int         `arg:"" help:"RIPE Atlas traceroute measurement ids to follow."`
	Timeout      time.Duration `help:"How long to run before exiting (0 for infinite)."`
	Events       bool          `help:"Print every detected crossing instead of showing stats."`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("atlas-watch"),
		kong.Description("Follows RIPE Atlas traceroutes and reports IXP crossings as they arrive."),
		kong.Vars{"config_file": config.DefaultFile},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cli.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cli.Timeout)
		defer cancel()
	}

	if err := run(ctx, cli); err != nil && ctx.Err() == nil {
		utils.Log.Fatal(err)
	}
}

func run(ctx context.Context, cli CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if err := utils.SetLevel(cfg.LogLevel); err != nil {
		return err
	}
	rs, _, err := rules.LoadFiles(cfg.RuleFiles())
	if err != nil {
		return err
	}
	db, err := database.Open(ctx, cfg.OpenOptions(false))
	if err != nil {
		return err
	}
	d := detect.New(rs, db, cfg.Reconciler())
	d.Remote = loadRemotePeering(cfg.Path(cfg.Files.RemotePeering))
	pool := &detect.Pool{DB: db, Detector: d, Workers: cfg.NumWorkers}
	stats := NewStats(len(rs))

	// Results are analysed off the websocket reader so a slow detector
	// does not stall the stream.
	results := make(chan sources.Trace, 1024)
	var wg sync.WaitGroup
	for range max(cfg.NumWorkers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range results {
				r := pool.Analyze(t)
				stats.Record(r)
				if cli.Events {
					for _, ev := range r.Events {
						fmt.Printf("%s %s -> %s: %s\n", t.ID, t.Src, t.Dst, ev)
					}
				}
			}
		}()
	}

	if !cli.Events {
		go func() {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					stats.Report(rs)
				}
			}
		}()
	}

	stream := sources.NewAtlasStream(cfg.Atlas.StreamURL, cli.Measurements...)
	err = stream.Run(ctx, func(res sources.AtlasResult) {
		t, err := res.Trace()
		if err != nil {
			stats.Skip()
			return
		}
		select {
		case results <- t:
		default:
			utils.Log.Warn("Detector queue full, dropping result")
			stats.Skip()
		}
	})
	close(results)
	wg.Wait()
	utils.Log.Println("Exiting...")
	if !cli.Events {
		stats.Report(rs)
	}
	return err
}

func loadRemotePeering(path string) *sources.RemotePeering {
	f, err := utils.Open(path)
	if err != nil {
		return nil
	}
	defer utils.CloseLogged(f, "remote peering dataset")
	rp, err := sources.LoadRemotePeering(f)
	if err != nil {
		utils.Log.Warnf("%v", err)
		return nil
	}
	return rp
}
