package database

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/sudorandom/ixpdetect/pkg/sources"
	"github.com/sudorandom/ixpdetect/pkg/utils"
)

// OpenOptions locate the inputs of a database.
type OpenOptions struct {
	Layout    sources.Layout
	Overrides string
	// MRT, when set, replaces the pfx2as routing snapshot.
	MRT string
	// Force ignores the cache.
	Force bool
	Options
}

// CachePath is where the merged database is kept.
func (o OpenOptions) CachePath() string {
	return filepath.Join(o.Layout.Dir, "merged")
}

// OverridesMtime returns the modification time of the override file, or zero
// when it does not exist.
func OverridesMtime(path string) int64 {
	if path == "" {
		return 0
	}
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.ModTime().UnixNano()
}

func openAll(paths ...string) ([]io.ReadCloser, error) {
	var out []io.ReadCloser
	for _, p := range paths {
		rc, err := utils.Open(p)
		if err != nil {
			for _, c := range out {
				_ = c.Close()
			}
			return nil, err
		}
		out = append(out, rc)
	}
	return out, nil
}

func closeAll(rcs []io.ReadCloser) {
	for _, rc := range rcs {
		_ = rc.Close()
	}
}

// ReadOverrides parses the override file. A missing file yields no overrides.
func ReadOverrides(path string) (*sources.Overrides, error) {
	if path == "" {
		return sources.NewOverrides(), nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		utils.Log.Infof("No override file at %s", path)
		return sources.NewOverrides(), nil
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return sources.ParseOverrides(f)
}

// LoadSources reads every downloaded dataset from disk, the registries
// concurrently. A missing registry is logged and treated as empty.
func LoadSources(ctx context.Context, o OpenOptions) (Sources, error) {
	var src Sources
	ov, err := ReadOverrides(o.Overrides)
	if err != nil {
		return src, errors.Wrap(err, "failed to read overrides")
	}
	src.Overrides = ov
	filter := ov.Filter(o.Reserved)
	l := o.Layout

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		rcs, err := openAll(l.PCH(sources.PCHExchanges), l.PCH(sources.PCHSubnets), l.PCH(sources.PCHMembership))
		if err != nil {
			utils.Log.Warnf("[PCH] Dataset unavailable: %v", err)
			return nil
		}
		defer closeAll(rcs)
		src.PCH, err = sources.LoadPCH(rcs[0], rcs[1], rcs[2], filter, o.Reconciler)
		return err
	})
	g.Go(func() error {
		rcs, err := openAll(l.PeeringDB(sources.PDBIX), l.PeeringDB(sources.PDBIXLan),
			l.PeeringDB(sources.PDBIXPfx), l.PeeringDB(sources.PDBNetIXLan))
		if err != nil {
			utils.Log.Warnf("[PeeringDB] Dataset unavailable: %v", err)
			return nil
		}
		defer closeAll(rcs)
		src.PeeringDB, err = sources.LoadPeeringDB(rcs[0], rcs[1], rcs[2], rcs[3], filter, o.Reconciler)
		return err
	})
	g.Go(func() error {
		path, load := l.Pfx2AS(), sources.LoadPfx2AS
		if o.MRT != "" {
			path, load = o.MRT, sources.LoadMRT
		}
		rcs, err := openAll(path)
		if err != nil {
			utils.Log.Warnf("[Routeviews] Routing snapshot unavailable: %v", err)
			return nil
		}
		defer closeAll(rcs)
		src.Routes, err = load(rcs[0], filter)
		return err
	})
	return src, g.Wait()
}

// Open returns the merged database, from the cache when it was saved for
// the current override file and otherwise by rebuilding and re-caching it.
func Open(ctx context.Context, o OpenOptions) (*DB, error) {
	mtime := OverridesMtime(o.Overrides)
	cache, err := OpenCache(o.CachePath())
	if err != nil {
		utils.Log.Warnf("Cache unavailable, building without it: %v", err)
	} else {
		defer func() {
			if err := cache.Close(); err != nil {
				utils.Log.Warnf("Error closing cache: %v", err)
			}
		}()
		if !o.Force {
			db, ok, err := cache.Load(mtime)
			switch {
			case err != nil:
				utils.Log.Warnf("Ignoring unreadable cache: %v", err)
			case ok:
				utils.Log.Infof("Loaded merged database from %s", o.CachePath())
				return db, nil
			}
		}
	}

	src, err := LoadSources(ctx, o)
	if err != nil {
		return nil, err
	}
	db, err := Build(ctx, src, o.Options)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		if err := cache.Save(db, mtime); err != nil {
			utils.Log.Warnf("Failed to save cache: %v", err)
		}
	}
	return db, nil
}
