package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sudorandom/ixpdetect/pkg/names"
	"github.com/sudorandom/ixpdetect/pkg/sources"
)

func TestLoadMissingFile(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, names.DefaultRatioThreshold, c.Similarity.RatioThreshold)
	require.Equal(t, names.DefaultEditThreshold, c.Similarity.EditThreshold)
	require.Equal(t, sources.PCHSubnetsURL, c.PCH.SubnetsURL)
	require.Equal(t, "info", c.LogLevel)
	require.Positive(t, c.NumWorkers)
	require.NotEmpty(t, c.HomeDir)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(`
home_dir = "/srv/ixp"
num_workers = 3

[similarity]
ratio_threshold = 0.9

[routeviews]
mrt_path = "rib.mrt"

[files]
rules = "/etc/ixpdetect/rules.txt"
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/srv/ixp", c.HomeDir)
	require.Equal(t, 3, c.NumWorkers)
	require.InDelta(t, 0.9, c.Similarity.RatioThreshold, 1e-9)
	require.Equal(t, names.DefaultEditThreshold, c.Similarity.EditThreshold)

	require.Equal(t, "/etc/ixpdetect/rules.txt", c.RuleFiles().Rules)
	require.Empty(t, c.RuleFiles().Expressions)

	o := c.OpenOptions(true)
	require.Equal(t, "/srv/ixp/database", o.Layout.Dir)
	require.Equal(t, "/srv/ixp/rib.mrt", o.MRT)
	require.Equal(t, "/srv/ixp/additional_info.txt", o.Overrides)
	require.True(t, o.Force)
	require.NotNil(t, o.Reserved)
	require.InDelta(t, 0.9, o.Reconciler.Matcher.RatioThreshold, 1e-9)
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte("num_workers = \"many\"\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}
