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

func TestDuplicateSamples(t *testing.T) {
	seen := map[string]bool{"S1": true, "S3": true}
	expect.EQ(t, []string(nil), duplicateSamples([]string{"S2", "S4"}, seen))
	expect.EQ(t, []string{"S1", "S3"}, duplicateSamples([]string{"S3", "S2", "S1"}, seen))
}

func TestSkipLog(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	path := filepath.Join(tempDir, "skipped.txt")
	l := NewSkipLog(path)
	assert.NoError(t, l.Append(ctx, "/data/a.vcf.gz", []string{"S1", "S2"}))
	assert.NoError(t, l.Append(ctx, "/data/b.vcf.gz", []string{"S3"}))
	assert.NoError(t, l.Close(ctx))

	data, err := ioutil.ReadFile(path)
	assert.NoError(t, err)
	expect.EQ(t, "/data/a.vcf.gz\tS1,S2\n/data/b.vcf.gz\tS3\n", string(data))
}

func TestSkipLogDiscards(t *testing.T) {
	ctx := context.Background()
	l := NewSkipLog("")
	assert.NoError(t, l.Append(ctx, "/data/a.vcf.gz", []string{"S1"}))
	assert.NoError(t, l.Close(ctx))
}
