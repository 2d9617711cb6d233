package sources

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/sudorandom/ixpdetect/pkg/utils"
)

// Endpoints are the download locations of the registry datasets.
type Endpoints struct {
	PCHExchanges  string
	PCHSubnets    string
	PCHMembership string
	// PeeringDB is the API root; object types are appended to it.
	PeeringDB string
	// Pfx2ASLog lists the published pfx2as files, newest last.
	Pfx2ASLog string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		PCHExchanges:  PCHExchangesURL,
		PCHSubnets:    PCHSubnetsURL,
		PCHMembership: PCHMembershipURL,
		PeeringDB:     PeeringDBURL,
		Pfx2ASLog:     Pfx2ASLogURL,
	}
}

// Layout is the on-disk arrangement of downloaded datasets under a database
// directory.
type Layout struct {
	Dir string
}

func (l Layout) PCH(name string) string {
	return filepath.Join(l.Dir, "pch", name)
}

func (l Layout) PeeringDB(object string) string {
	return filepath.Join(l.Dir, "peeringdb", object+".json")
}

func (l Layout) Pfx2AS() string {
	return filepath.Join(l.Dir, "routeviews", "pfx2as.txt.gz")
}

// Update downloads every registry dataset into the layout, one goroutine per
// registry. A failed registry does not stop the others; the first error is
// returned once all have finished.
func Update(ctx context.Context, e Endpoints, l Layout) error {
	g, ctx := errgroup.WithContext(ctx)
	var pchErr, pdbErr, rvErr error
	g.Go(func() error {
		pchErr = fetchAll(ctx, "[PCH]", map[string]string{
			e.PCHExchanges:  l.PCH(PCHExchanges),
			e.PCHSubnets:    l.PCH(PCHSubnets),
			e.PCHMembership: l.PCH(PCHMembership),
		})
		return nil
	})
	g.Go(func() error {
		files := make(map[string]string)
		for _, obj := range []string{PDBIX, PDBIXLan, PDBIXPfx, PDBNetIXLan} {
			files[strings.TrimRight(e.PeeringDB, "/")+"/"+obj] = l.PeeringDB(obj)
		}
		pdbErr = fetchAll(ctx, "[PeeringDB]", files)
		return nil
	})
	g.Go(func() error {
		url, err := LatestPfx2AS(ctx, e.Pfx2ASLog)
		if err != nil {
			rvErr = err
			return nil
		}
		rvErr = fetchAll(ctx, "[Routeviews]", map[string]string{url: l.Pfx2AS()})
		return nil
	})
	_ = g.Wait()
	for _, err := range []error{pchErr, pdbErr, rvErr} {
		if err != nil {
			return err
		}
	}
	return nil
}

func fetchAll(ctx context.Context, tag string, files map[string]string) error {
	for url, path := range files {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errors.Wrapf(err, "%s failed to create %s", tag, filepath.Dir(path))
		}
		utils.Log.Infof("%s Downloading %s", tag, url)
		if err := utils.DownloadFile(ctx, url, path); err != nil {
			return errors.Wrapf(err, "%s failed to download %s", tag, url)
		}
	}
	utils.Log.Infof("%s Dataset has been updated", tag)
	return nil
}

// LatestPfx2AS returns the URL of the newest pfx2as file named in the
// creation log. Log lines are tab separated with the relative path third.
func LatestPfx2AS(ctx context.Context, logURL string) (string, error) {
	rc, err := utils.CachedReader(ctx, logURL, "", "[Routeviews]")
	if err != nil {
		return "", err
	}
	defer func() {
		_ = rc.Close()
	}()
	body, err := io.ReadAll(rc)
	if err != nil {
		return "", errors.Wrap(err, "failed to read pfx2as log")
	}
	return latestFromLog(logURL, string(body))
}

func latestFromLog(logURL, body string) (string, error) {
	lines := strings.Split(strings.TrimSpace(body), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		fields := strings.Split(lines[i], "\t")
		if len(fields) >= 3 && !strings.HasPrefix(lines[i], "#") {
			base := logURL[:strings.LastIndex(logURL, "/")+1]
			return base + strings.TrimSpace(fields[2]), nil
		}
	}
	return "", errors.New("no pfx2as file listed in creation log")
}
