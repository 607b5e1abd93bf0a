package cohort

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func writeConfig(t *testing.T, dir, body string) string {
	path := filepath.Join(dir, "run.cfg")
	assert.NoError(t, ioutil.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	path := writeConfig(t, tempDir, `
# run settings
cohort_name = "NorthWest"
series_name = nw-freqs
assembly = GRCh_37_g1k
min_depth = 10
min_quality = 7
min_alt_reads = 2
info_filter = 'all( FILTER == "PASS" )'
`)
	cfg, err := LoadConfig(context.Background(), path)
	assert.NoError(t, err)
	expect.EQ(t, "NorthWest", cfg.CohortName)
	expect.EQ(t, "nw-freqs", cfg.SeriesName)
	expect.EQ(t, "GRCh_37_g1k", cfg.Assembly)
	expect.EQ(t, 10, cfg.MinDepth)
	expect.EQ(t, 7, cfg.MinQuality)
	expect.EQ(t, 2, cfg.MinAltReads)
	expect.EQ(t, `all( FILTER == "PASS" )`, cfg.InfoFilter)
	expect.EQ(t, 20, cfg.SampleNameThreshold) // default

	opts, err := cfg.Opts()
	assert.NoError(t, err)
	expect.EQ(t, GRCh37.ID, opts.CoordSys.ID)
	expect.EQ(t, 10, opts.Filters.MinDepth)
}

func TestLoadConfigRejects(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	// Missing required keys.
	path := writeConfig(t, tempDir, "cohort_name = X\n")
	_, err := LoadConfig(ctx, path)
	assert.True(t, err != nil)

	// Unknown keys do not silently fall back to defaults.
	path = writeConfig(t, tempDir, "cohort_name = X\nseries_name = Y\nmin_dpth = 10\n")
	_, err = LoadConfig(ctx, path)
	assert.True(t, err != nil)

	path = writeConfig(t, tempDir, "cohort_name = X\nseries_name = Y\nmin_depth = ten\n")
	_, err = LoadConfig(ctx, path)
	assert.True(t, err != nil)
}

func TestReadManifest(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	path := filepath.Join(tempDir, "manifest.txt")
	assert.NoError(t, ioutil.WriteFile(path,
		[]byte("# batch 7\n/data/a.vcf.gz\n\n/data/b.vcf.gz\n"), 0644))
	paths, err := ReadManifest(ctx, path)
	assert.NoError(t, err)
	expect.EQ(t, []string{"/data/a.vcf.gz", "/data/b.vcf.gz"}, paths)

	assert.NoError(t, ioutil.WriteFile(path, []byte("\n# nothing\n"), 0644))
	_, err = ReadManifest(ctx, path)
	assert.True(t, err != nil)
}
