package main

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/sudorandom/ixpdetect/pkg/classify"
	"github.com/sudorandom/ixpdetect/pkg/config"
	"github.com/sudorandom/ixpdetect/pkg/database"
	"github.com/sudorandom/ixpdetect/pkg/detect"
	"github.com/sudorandom/ixpdetect/pkg/rules"
	"github.com/sudorandom/ixpdetect/pkg/sources"
	"github.com/sudorandom/ixpdetect/pkg/utils"
)

type UpdateCmd struct {
	ASNames bool `help:"Also download the AS name listing." name:"as-names"`
}

func (c *UpdateCmd) Run(ctx context.Context, g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if err := sources.Update(ctx, cfg.Endpoints(), cfg.Layout()); err != nil {
		return err
	}
	if c.ASNames {
		return utils.NewASNames().Fetch(ctx, cfg.Layout().Dir)
	}
	return nil
}

// openDB opens the merged database, with geofeed and GeoIP backfill when
// configured.
func openDB(ctx context.Context, cfg *config.Config, force bool) (*database.DB, error) {
	o := cfg.OpenOptions(force)
	if path := cfg.Path(cfg.Files.Geofeed); path != "" {
		f, err := utils.Open(path)
		if err != nil {
			utils.Log.Warnf("[Geofeed] %v", err)
		} else {
			o.Geofeed, err = sources.ParseGeofeed(f)
			utils.CloseLogged(f, "geofeed")
			if err != nil {
				return nil, err
			}
		}
	}
	if path := cfg.Path(cfg.Files.GeoIP); path != "" {
		geo, err := sources.OpenGeoIP(path)
		if err != nil {
			utils.Log.Warnf("[GeoIP] %v", err)
		} else {
			defer utils.CloseLogged(geo, "GeoIP database")
			o.GeoIP = geo
		}
	}
	return database.Open(ctx, o)
}

type MergeCmd struct {
	Export string `help:"Directory to write the merged prefix and membership files to." type:"path"`
}

func (c *MergeCmd) Run(ctx context.Context, g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	db, err := openDB(ctx, cfg, true)
	if err != nil {
		return err
	}
	if err := db.Stats.Report(os.Stdout); err != nil {
		return err
	}
	if c.Export == "" {
		return nil
	}
	user, err := database.ReadOverrides(cfg.Path(cfg.Files.Additional))
	if err != nil {
		return err
	}
	if err := writeFile(filepath.Join(c.Export, "ixp_prefixes.txt"), func(w io.Writer) error {
		return database.WritePrefixes(w, db, user)
	}); err != nil {
		return err
	}
	return writeFile(filepath.Join(c.Export, "ixp_membership.txt"), func(w io.Writer) error {
		return database.WriteMembership(w, db, user)
	})
}

func writeFile(path string, fn func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create export dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write %s", path)
	}
	utils.Log.Infof("Wrote %s", path)
	return f.Close()
}

// Output selects how detection results are printed.
type Output struct {
	JSON    bool `help:"Print one JSON document per path."`
	ASNames bool `help:"Annotate ASNs with their registered names." name:"as-names"`
	Force   bool `help:"Rebuild the database instead of using the cache."`
}

// analyze loads the database and rules, runs the detector over traces and
// prints the reports followed by the rule hit counts.
func analyze(ctx context.Context, g *Globals, out Output, traces []sources.Trace) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	rs, errs, err := rules.LoadFiles(cfg.RuleFiles())
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		utils.Log.Warnf("%d rules were rejected", len(errs))
	}
	db, err := openDB(ctx, cfg, out.Force)
	if err != nil {
		return err
	}

	d := detect.New(rs, db, cfg.Reconciler())
	d.Remote = loadRemotePeering(cfg.Path(cfg.Files.RemotePeering))

	var namer detect.ASNamer
	if out.ASNames {
		an := utils.NewASNames()
		if err := an.Fetch(ctx, cfg.Layout().Dir); err != nil {
			utils.Log.Warnf("[ASN] %v", err)
		} else {
			namer = an
		}
	}

	pool := &detect.Pool{DB: db, Detector: d, Workers: cfg.NumWorkers}
	reports, err := pool.Run(ctx, traces)
	if err != nil {
		return err
	}
	if out.JSON {
		return detect.WriteJSON(os.Stdout, reports)
	}
	for _, r := range reports {
		if err := detect.WriteReport(os.Stdout, r, namer); err != nil {
			return err
		}
	}
	return detect.WriteHits(os.Stdout, detect.TotalHits(reports, len(rs)), rs)
}

func loadRemotePeering(path string) *sources.RemotePeering {
	if path == "" {
		return nil
	}
	f, err := utils.Open(path)
	if err != nil {
		utils.Log.Debugf("No remote peering dataset: %v", err)
		return nil
	}
	defer utils.CloseLogged(f, "remote peering dataset")
	rp, err := sources.LoadRemotePeering(f)
	if err != nil {
		utils.Log.Warnf("%v", err)
		return nil
	}
	utils.Log.Infof("Loaded remote peering records for %d addresses", rp.Len())
	return rp
}

type DetectCmd struct {
	Output
	File string   `help:"File with one whitespace separated path per line." short:"f" type:"existingfile"`
	Hops []string `arg:"" optional:"" help:"Hops of a single path."`
}

func (c *DetectCmd) Run(ctx context.Context, g *Globals) error {
	var traces []sources.Trace
	if len(c.Hops) > 0 {
		t, err := sources.ParsePaths(strings.NewReader(strings.Join(c.Hops, " ")))
		if err != nil {
			return err
		}
		traces = append(traces, t...)
	}
	if c.File != "" {
		f, err := os.Open(c.File)
		if err != nil {
			return err
		}
		defer utils.CloseLogged(f, c.File)
		t, err := sources.ParsePaths(f)
		if err != nil {
			return err
		}
		traces = append(traces, t...)
	}
	if len(traces) == 0 {
		return errors.New("no paths given")
	}
	return analyze(ctx, g, c.Output, traces)
}

type ImportCmd struct {
	Output
	Format      string `help:"Input format." enum:"json,atlas" default:"json"`
	Measurement int    `help:"Fetch the results of a RIPE Atlas measurement." name:"msm"`
	File        string `arg:"" optional:"" help:"Result file." type:"existingfile"`
}

func (c *ImportCmd) Run(ctx context.Context, g *Globals) error {
	var traces []sources.Trace
	switch {
	case c.Measurement > 0:
		cfg, err := g.load()
		if err != nil {
			return err
		}
		traces, err = sources.FetchAtlasMeasurement(ctx, cfg.Atlas.APIURL, c.Measurement)
		if err != nil {
			return err
		}
	case c.File != "":
		f, err := utils.Open(c.File)
		if err != nil {
			return err
		}
		defer utils.CloseLogged(f, c.File)
		if c.Format == "atlas" {
			traces, err = sources.ParseAtlasResults(f)
		} else {
			traces, err = sources.ParseTraces(f)
		}
		if err != nil {
			return err
		}
	default:
		return errors.New("either a file or --msm is required")
	}
	utils.Log.Infof("Imported %d traceroutes", len(traces))
	return analyze(ctx, g, c.Output, traces)
}

type RulesCmd struct {
	List     RulesListCmd     `cmd:"" default:"1" help:"Print the accepted rules."`
	Validate RulesValidateCmd `cmd:"" help:"Report rejected rules and fail when there are any."`
}

type RulesListCmd struct{}

func (c *RulesListCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	rs, _, err := rules.LoadFiles(cfg.RuleFiles())
	if err != nil {
		return err
	}
	for _, r := range rs {
		remote := ""
		if r.RemotePeer >= 0 {
			remote = "  [remote peering]"
		}
		fmt.Printf("%2d  %s%s\n", r.Index+1, r, remote)
	}
	return nil
}

type RulesValidateCmd struct{}

func (c *RulesValidateCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	rs, errs, err := rules.LoadFiles(cfg.RuleFiles())
	if err != nil {
		return err
	}
	for _, e := range errs {
		fmt.Println(e)
	}
	if len(errs) > 0 {
		return errors.Errorf("%d of %d rules rejected", len(errs), len(errs)+len(rs))
	}
	fmt.Printf("%d rules accepted\n", len(rs))
	return nil
}

type LookupCmd struct {
	Addrs []string `arg:"" help:"Addresses to classify."`
}

func (c *LookupCmd) Run(ctx context.Context, g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	db, err := openDB(ctx, cfg, false)
	if err != nil {
		return err
	}
	for _, h := range classify.Classify(db, c.Addrs) {
		fmt.Printf("%s\t%s\n", h.Addr, h.Type)
		if h.Subnet.IsValid() {
			fmt.Printf("  subnet\t%s %s,%s\n", h.Subnet, h.Geo.Country, h.Geo.City)
		}
		for _, id := range h.Identities {
			fmt.Printf("  ixp\t%s\n", id)
		}
		for _, asn := range h.ASNs {
			fmt.Printf("  asn\tAS%d (%d IXPs)\n", asn, len(db.Members(asn)))
		}
		if h.Dirty {
			fmt.Println("  note\tmember address outside every IXP subnet")
		}
		if p, _, ok := routeOf(db, h.IP); ok {
			fmt.Printf("  route\t%s\n", p)
		}
	}
	return nil
}

func routeOf(db *database.DB, addr netip.Addr) (netip.Prefix, []uint32, bool) {
	if !addr.IsValid() {
		return netip.Prefix{}, nil, false
	}
	return db.Route(addr)
}
