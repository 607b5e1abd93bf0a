package cohort_test

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/cohort/cohort"
	"github.com/grailbio/cohort/encoding/tsf"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func writeVCF(t *testing.T, dir, name string, samples []string, body string) string {
	header := "##fileformat=VCFv4.2\n#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT"
	for _, s := range samples {
		header += "\t" + s
	}
	header += "\n"
	path := filepath.Join(dir, name)
	assert.NoError(t, ioutil.WriteFile(path, []byte(header+body), 0644))
	return path
}

func testOpts() *cohort.Opts {
	opts := cohort.DefaultOpts
	opts.CohortName = "NorthWest"
	opts.SeriesName = "nw-freqs"
	opts.SourceVersion = "2021-06-01"
	opts.Filters = cohort.FilterParams{MinQual: 7, MinDepth: 10, MinAltReads: 2}
	return &opts
}

func TestAggregate(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	// S1 carries a passing het; S2's call fails the depth threshold.
	in1 := writeVCF(t, tempDir, "a.vcf", []string{"S1"},
		"1\t100\t.\tA\tG\t50\tPASS\t.\tGT:DP:GQ:AD\t0/1:30:99:14,16\n")
	in2 := writeVCF(t, tempDir, "b.vcf", []string{"S2"},
		"1\t100\t.\tA\tG\t50\tPASS\t.\tGT:DP:GQ:AD\t0/1:5:99:2,3\n")

	out := filepath.Join(tempDir, "out.tsf")
	report, err := cohort.Aggregate(ctx, []string{in1, in2}, "", out, testOpts())
	assert.NoError(t, err)
	expect.EQ(t, 2, report.FilesTotal)
	expect.EQ(t, int64(1), report.SitesWritten)
	expect.EQ(t, 2, report.SamplesAdded)

	track, err := tsf.Read(ctx, out)
	assert.NoError(t, err)
	expect.EQ(t, "NorthWest Variant Frequencies", track.Meta.SourceName)
	expect.EQ(t, "nw-freqs", track.Meta.SeriesName)
	expect.EQ(t, cohort.GRCh38.ID, track.Meta.CoordSysID)
	expect.EQ(t, []string{"S1", "S2"}, track.CohortSamples)
	assert.EQ(t, 1, len(track.Rows))
	row := track.Rows[0]
	expect.EQ(t, "1", row.Chrom)
	expect.EQ(t, int32(100), row.Pos)
	expect.EQ(t, int64(1), row.AltCount)
	expect.EQ(t, int64(1), row.RefCount)
	expect.EQ(t, int32(1), row.SampleCount)
	expect.EQ(t, []string{"S1"}, row.Samples)
}

func TestAggregateCommutative(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	in1 := writeVCF(t, tempDir, "a.vcf", []string{"S1"},
		"1\t100\t.\tA\tG\t50\tPASS\t.\tGT:DP:GQ:AD\t0/1:30:99:14,16\n"+
			"2\t200\t.\tC\tT\t50\tPASS\t.\tGT:DP:GQ:AD\t1/1:25:80:0,25\n")
	in2 := writeVCF(t, tempDir, "b.vcf", []string{"S2"},
		"1\t100\t.\tA\tG\t50\tPASS\t.\tGT:DP:GQ:AD\t0/1:28:90:13,15\n")

	outAB := filepath.Join(tempDir, "ab.tsf")
	_, err := cohort.Aggregate(ctx, []string{in1, in2}, "", outAB, testOpts())
	assert.NoError(t, err)
	outBA := filepath.Join(tempDir, "ba.tsf")
	_, err = cohort.Aggregate(ctx, []string{in2, in1}, "", outBA, testOpts())
	assert.NoError(t, err)

	a, err := tsf.Read(ctx, outAB)
	assert.NoError(t, err)
	b, err := tsf.Read(ctx, outBA)
	assert.NoError(t, err)
	expect.EQ(t, a.Rows, b.Rows)
	expect.EQ(t, a.CohortSamples, b.CohortSamples)
}

func TestAggregateIncremental(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	in1 := writeVCF(t, tempDir, "a.vcf", []string{"S1"},
		"1\t100\t.\tA\tG\t50\tPASS\t.\tGT:DP:GQ:AD\t0/1:30:99:14,16\n")
	track1 := filepath.Join(tempDir, "v1.tsf")
	_, err := cohort.Aggregate(ctx, []string{in1}, "", track1, testOpts())
	assert.NoError(t, err)

	// Second run folds a new sample into the existing counts.
	in2 := writeVCF(t, tempDir, "b.vcf", []string{"S2"},
		"1\t100\t.\tA\tG\t50\tPASS\t.\tGT:DP:GQ:AD\t1/1:22:70:0,22\n")
	track2 := filepath.Join(tempDir, "v2.tsf")
	report, err := cohort.Aggregate(ctx, []string{in2}, track1, track2, testOpts())
	assert.NoError(t, err)
	expect.EQ(t, 1, report.SamplesAdded)

	track, err := tsf.Read(ctx, track2)
	assert.NoError(t, err)
	expect.EQ(t, []string{"S1", "S2"}, track.CohortSamples)
	assert.EQ(t, 1, len(track.Rows))
	row := track.Rows[0]
	expect.EQ(t, int64(3), row.AltCount)
	expect.EQ(t, int64(1), row.RefCount)
	expect.EQ(t, int32(2), row.SampleCount)
	expect.EQ(t, []string{"S1", "S2"}, row.Samples)
}

func TestAggregateDuplicateSampleSkip(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	in1 := writeVCF(t, tempDir, "a.vcf", []string{"S1"},
		"1\t100\t.\tA\tG\t50\tPASS\t.\tGT:DP:GQ:AD\t0/1:30:99:14,16\n")
	track1 := filepath.Join(tempDir, "v1.tsf")
	_, err := cohort.Aggregate(ctx, []string{in1}, "", track1, testOpts())
	assert.NoError(t, err)

	// A re-delivered file for S1 must be excluded whole, even though it
	// also mentions a new site.
	in1b := writeVCF(t, tempDir, "a2.vcf", []string{"S1"},
		"1\t100\t.\tA\tG\t50\tPASS\t.\tGT:DP:GQ:AD\t0/1:30:99:14,16\n"+
			"3\t10\t.\tG\tC\t50\tPASS\t.\tGT:DP:GQ:AD\t1/1:40:99:0,40\n")
	in2 := writeVCF(t, tempDir, "b.vcf", []string{"S2"},
		"1\t100\t.\tA\tG\t50\tPASS\t.\tGT:DP:GQ:AD\t0/1:28:90:13,15\n")

	opts := testOpts()
	opts.SkipLogPath = filepath.Join(tempDir, "skipped.txt")
	track2 := filepath.Join(tempDir, "v2.tsf")
	report, err := cohort.Aggregate(ctx, []string{in1b, in2}, track1, track2, opts)
	assert.NoError(t, err)
	expect.EQ(t, 1, report.FilesSkippedDuplicates)

	track, err := tsf.Read(ctx, track2)
	assert.NoError(t, err)
	expect.EQ(t, []string{"S1", "S2"}, track.CohortSamples)
	assert.EQ(t, 1, len(track.Rows))
	expect.EQ(t, int64(2), track.Rows[0].AltCount)

	logged, err := ioutil.ReadFile(opts.SkipLogPath)
	assert.NoError(t, err)
	expect.EQ(t, in1b+"\tS1\n", string(logged))
}

func TestAggregateIdempotent(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	in1 := writeVCF(t, tempDir, "a.vcf", []string{"S1"},
		"1\t100\t.\tA\tG\t50\tPASS\t.\tGT:DP:GQ:AD\t0/1:30:99:14,16\n"+
			"2\t200\t.\tC\tT\t50\tPASS\t.\tGT:DP:GQ:AD\t1/1:25:80:0,25\n")
	track1 := filepath.Join(tempDir, "v1.tsf")
	_, err := cohort.Aggregate(ctx, []string{in1}, "", track1, testOpts())
	assert.NoError(t, err)

	// A rerun of the same delivery against its own output filters every
	// file and reproduces the track unchanged.
	track2 := filepath.Join(tempDir, "v2.tsf")
	report, err := cohort.Aggregate(ctx, []string{in1}, track1, track2, testOpts())
	assert.NoError(t, err)
	expect.EQ(t, 1, report.FilesSkippedDuplicates)
	expect.EQ(t, 0, report.SamplesAdded)

	a, err := tsf.Read(ctx, track1)
	assert.NoError(t, err)
	b, err := tsf.Read(ctx, track2)
	assert.NoError(t, err)
	expect.EQ(t, a.Rows, b.Rows)
	expect.EQ(t, a.CohortSamples, b.CohortSamples)
}

func TestAggregateSkipLogEmpty(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	in1 := writeVCF(t, tempDir, "a.vcf", []string{"S1"},
		"1\t100\t.\tA\tG\t50\tPASS\t.\tGT:DP:GQ:AD\t0/1:30:99:14,16\n")
	opts := testOpts()
	opts.SkipLogPath = filepath.Join(tempDir, "skipped.txt")
	_, err := cohort.Aggregate(ctx, []string{in1}, "", filepath.Join(tempDir, "out.tsf"), opts)
	assert.NoError(t, err)

	// No skips, no log file.
	_, err = os.Stat(opts.SkipLogPath)
	expect.True(t, os.IsNotExist(err))
}

func TestAggregateDuplicateSampleAcrossNewInputs(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	in1 := writeVCF(t, tempDir, "a.vcf", []string{"S1"},
		"1\t100\t.\tA\tG\t50\tPASS\t.\tGT:DP:GQ:AD\t0/1:30:99:14,16\n")
	in2 := writeVCF(t, tempDir, "b.vcf", []string{"S1"},
		"2\t200\t.\tC\tT\t50\tPASS\t.\tGT:DP:GQ:AD\t1/1:25:80:0,25\n")

	_, err := cohort.Aggregate(ctx, []string{in1, in2}, "", filepath.Join(tempDir, "out.tsf"), testOpts())
	assert.True(t, err != nil)
	_, ok := err.(*cohort.DuplicateSampleError)
	expect.True(t, ok)
}

func TestAggregateInvalidParams(t *testing.T) {
	opts := testOpts()
	opts.Filters.MinDepth = -5
	_, err := cohort.Aggregate(context.Background(), []string{"nonexistent.vcf"}, "", "out.tsf", opts)
	assert.True(t, err != nil)
	_, ok := err.(*cohort.InvalidParameterError)
	expect.True(t, ok)
}

func TestAggregateSkipsMalformedRecords(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	in1 := writeVCF(t, tempDir, "a.vcf", []string{"S1"},
		"1\tnotanumber\t.\tA\tG\t50\tPASS\t.\tGT:DP:GQ:AD\t0/1:30:99:14,16\n"+
			"1\t100\t.\tA\tG\t50\tPASS\t.\tGT:DP:GQ:AD\t0/1:30:99:14,16\n")
	out := filepath.Join(tempDir, "out.tsf")
	report, err := cohort.Aggregate(ctx, []string{in1}, "", out, testOpts())
	assert.NoError(t, err)
	expect.EQ(t, int64(1), report.RecordsSkipped)
	expect.EQ(t, int64(1), report.SitesWritten)
}

func TestMergeTracks(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	in1 := writeVCF(t, tempDir, "a.vcf", []string{"S1"},
		"1\t100\t.\tA\tG\t50\tPASS\t.\tGT:DP:GQ:AD\t0/1:30:99:14,16\n")
	in2 := writeVCF(t, tempDir, "b.vcf", []string{"S2"},
		"1\t100\t.\tA\tG\t50\tPASS\t.\tGT:DP:GQ:AD\t1/1:22:70:0,22\n"+
			"2\t200\t.\tC\tT\t50\tPASS\t.\tGT:DP:GQ:AD\t0/1:25:80:12,13\n")

	batch1 := filepath.Join(tempDir, "batch1.tsf")
	_, err := cohort.Aggregate(ctx, []string{in1}, "", batch1, testOpts())
	assert.NoError(t, err)
	batch2 := filepath.Join(tempDir, "batch2.tsf")
	_, err = cohort.Aggregate(ctx, []string{in2}, "", batch2, testOpts())
	assert.NoError(t, err)

	merged := filepath.Join(tempDir, "merged.tsf")
	_, err = cohort.MergeTracks(ctx, []string{batch1, batch2}, merged, testOpts())
	assert.NoError(t, err)

	track, err := tsf.Read(ctx, merged)
	assert.NoError(t, err)
	expect.EQ(t, []string{"S1", "S2"}, track.CohortSamples)
	assert.EQ(t, 2, len(track.Rows))
	expect.EQ(t, int64(3), track.Rows[0].AltCount)
	expect.EQ(t, int32(2), track.Rows[0].SampleCount)
	expect.EQ(t, int64(1), track.Rows[1].AltCount)

	// Overlapping cohorts refuse to merge.
	_, err = cohort.MergeTracks(ctx, []string{batch1, batch1}, merged, testOpts())
	assert.True(t, err != nil)
	_, ok := err.(*cohort.DuplicateSampleError)
	expect.True(t, ok)
}
