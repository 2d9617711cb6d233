// Package config holds the settings shared by the commands.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/sudorandom/ixpdetect/pkg/database"
	"github.com/sudorandom/ixpdetect/pkg/names"
	"github.com/sudorandom/ixpdetect/pkg/rules"
	"github.com/sudorandom/ixpdetect/pkg/sources"
	"github.com/sudorandom/ixpdetect/pkg/utils"
)

const DefaultFile = "ixpdetect.toml"

type Similarity struct {
	RatioThreshold float64 `toml:"ratio_threshold"`
	EditThreshold  float64 `toml:"edit_threshold"`
}

type PCH struct {
	ExchangesURL  string `toml:"exchanges_url"`
	SubnetsURL    string `toml:"subnets_url"`
	MembershipURL string `toml:"ips_url"`
}

type PeeringDB struct {
	URL string `toml:"url"`
}

type Routeviews struct {
	// LogURL lists the published pfx2as snapshots.
	LogURL string `toml:"url"`
	// MRTPath, when set, builds the routing table from an MRT RIB dump
	// instead of pfx2as.
	MRTPath string `toml:"mrt_path"`
}

// Files locates the user supplied inputs. Relative paths are resolved
// against the home directory; empty rule paths select the built-in files.
type Files struct {
	Rules         string `toml:"rules"`
	Expressions   string `toml:"expressions"`
	Delimiters    string `toml:"delimiters"`
	Additional    string `toml:"additional"`
	RemotePeering string `toml:"remote_peering"`
	GeoIP         string `toml:"geoip"`
	Geofeed       string `toml:"geofeed"`
}

type Atlas struct {
	StreamURL string `toml:"stream_url"`
	APIURL    string `toml:"api_url"`
}

type Config struct {
	HomeDir    string     `toml:"home_dir"`
	NumWorkers int        `toml:"num_workers"`
	LogLevel   string     `toml:"log_level"`
	Similarity Similarity `toml:"similarity"`
	PCH        PCH        `toml:"pch"`
	PeeringDB  PeeringDB  `toml:"peeringdb"`
	Routeviews Routeviews `toml:"routeviews"`
	Files      Files      `toml:"files"`
	Atlas      Atlas      `toml:"atlas"`
}

// InitDefaults fills every unset field.
func (c *Config) InitDefaults() {
	if c.HomeDir == "" {
		c.HomeDir = defaultHome()
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = runtime.NumCPU()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Similarity.RatioThreshold == 0 {
		c.Similarity.RatioThreshold = names.DefaultRatioThreshold
	}
	if c.Similarity.EditThreshold == 0 {
		c.Similarity.EditThreshold = names.DefaultEditThreshold
	}
	if c.PCH.ExchangesURL == "" {
		c.PCH.ExchangesURL = sources.PCHExchangesURL
	}
	if c.PCH.SubnetsURL == "" {
		c.PCH.SubnetsURL = sources.PCHSubnetsURL
	}
	if c.PCH.MembershipURL == "" {
		c.PCH.MembershipURL = sources.PCHMembershipURL
	}
	if c.PeeringDB.URL == "" {
		c.PeeringDB.URL = sources.PeeringDBURL
	}
	if c.Routeviews.LogURL == "" {
		c.Routeviews.LogURL = sources.Pfx2ASLogURL
	}
	if c.Files.Additional == "" {
		c.Files.Additional = "additional_info.txt"
	}
	if c.Files.RemotePeering == "" {
		c.Files.RemotePeering = "remote_peering.json"
	}
	if c.Atlas.StreamURL == "" {
		c.Atlas.StreamURL = sources.AtlasStreamURL
	}
	if c.Atlas.APIURL == "" {
		c.Atlas.APIURL = sources.AtlasResultsURL
	}
}

func defaultHome() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".ixpdetect")
	}
	return ".ixpdetect"
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.InitDefaults()
	return c
}

// Load decodes the TOML file at path over the defaults. A missing file is
// not an error.
func Load(path string) (*Config, error) {
	c := &Config{}
	md, err := toml.DecodeFile(path, c)
	switch {
	case os.IsNotExist(errors.Cause(err)):
		utils.Log.Infof("No configuration at %s, using defaults", path)
	case err != nil:
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	default:
		for _, k := range md.Undecoded() {
			utils.Log.WithField("key", k.String()).Warn("Unknown configuration key")
		}
	}
	c.InitDefaults()
	return c, nil
}

// Path resolves a file name against the home directory. Empty names stay
// empty.
func (c *Config) Path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.HomeDir, name)
}

func (c *Config) Matcher() *names.Matcher {
	return names.NewMatcher(c.Similarity.RatioThreshold, c.Similarity.EditThreshold)
}

func (c *Config) Reconciler() *names.Reconciler {
	return names.NewReconciler(c.Matcher())
}

func (c *Config) Layout() sources.Layout {
	return sources.Layout{Dir: filepath.Join(c.HomeDir, "database")}
}

func (c *Config) Endpoints() sources.Endpoints {
	return sources.Endpoints{
		PCHExchanges:  c.PCH.ExchangesURL,
		PCHSubnets:    c.PCH.SubnetsURL,
		PCHMembership: c.PCH.MembershipURL,
		PeeringDB:     c.PeeringDB.URL,
		Pfx2ASLog:     c.Routeviews.LogURL,
	}
}

func (c *Config) RuleFiles() rules.Files {
	return rules.Files{
		Rules:       c.Path(c.Files.Rules),
		Expressions: c.Path(c.Files.Expressions),
		Delimiters:  c.Path(c.Files.Delimiters),
	}
}

// OpenOptions describes how the merged database is located and built.
func (c *Config) OpenOptions(force bool) database.OpenOptions {
	opts := database.DefaultOptions()
	opts.Reconciler = c.Reconciler()
	return database.OpenOptions{
		Layout:    c.Layout(),
		Overrides: c.Path(c.Files.Additional),
		MRT:       c.Path(c.Routeviews.MRTPath),
		Force:     force,
		Options:   opts,
	}
}
