package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/sudorandom/ixpdetect/pkg/config"
	"github.com/sudorandom/ixpdetect/pkg/utils"
)

// Globals are the flags shared by every command.
type Globals struct {
	Config   string `help:"Configuration file." default:"${config_file}" type:"path"`
	Home     string `help:"Data directory, overriding home_dir."`
	LogLevel string `help:"Log level, overriding log_level."`
	Workers  int    `help:"Worker goroutines, overriding num_workers."`
}

// load reads the configuration and applies the global overrides.
func (g *Globals) load() (*config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.Home != "" {
		cfg.HomeDir = g.Home
	}
	if g.LogLevel != "" {
		cfg.LogLevel = g.LogLevel
	}
	if g.Workers > 0 {
		cfg.NumWorkers = g.Workers
	}
	if err := utils.SetLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

type CLI struct {
	Globals

	Update UpdateCmd `cmd:"" help:"Download the PCH, PeeringDB and Routeviews datasets."`
	Merge  MergeCmd  `cmd:"" help:"Rebuild the merged IXP database and print its statistics."`
	Detect DetectCmd `cmd:"" help:"Detect IXP crossings in traceroute paths."`
	Import ImportCmd `cmd:"" help:"Detect IXP crossings in stored traceroute results."`
	Rules  RulesCmd  `cmd:"" help:"List and validate the detection rules."`
	Lookup LookupCmd `cmd:"" help:"Classify single addresses against the database."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("ixpdetect"),
		kong.Description("Detects IXP crossings in traceroute paths."),
		kong.UsageOnError(),
		kong.Vars{"config_file": config.DefaultFile},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	kctx.BindTo(ctx, (*context.Context)(nil))

	if err := kctx.Run(&cli.Globals); err != nil {
		utils.Log.Fatalf("%s: %v", kctx.Command(), err)
	}
}
