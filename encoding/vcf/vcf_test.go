package vcf

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVCF = `##fileformat=VCFv4.2
##source=testcaller
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO	FORMAT	S1	S2
1	100	rs1	A	G	50.5	PASS	DP=55;MQ=60;DB	GT:DP:GQ:AD	0/1:30:99:14,16	0/0:25:60:25,0
1	200	.	C	T,G	.	LowQual	.	GT:DP:GQ:AD	1/2:28:80:0,13,15	./.:.:.:.
X	5	.	AT	A	12	PASS	DP=9	GT:DP	0/1:9	1|1:8
`

func TestReader(t *testing.T) {
	r, err := NewReader(strings.NewReader(testVCF))
	require.NoError(t, err)
	h := r.Header()
	assert.Equal(t, "VCFv4.2", h.FileFormat)
	assert.Equal(t, []string{"S1", "S2"}, h.Samples)

	rec, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, "1", rec.Chrom)
	assert.Equal(t, int32(100), rec.Pos)
	assert.Equal(t, "A", rec.Ref)
	assert.Equal(t, []string{"G"}, rec.Alts)
	assert.True(t, rec.HasQual)
	assert.Equal(t, 50.5, rec.Qual)
	assert.Equal(t, "PASS", rec.Filter)

	rec, err = r.Read()
	require.NoError(t, err)
	assert.False(t, rec.HasQual)
	assert.Equal(t, []string{"T", "G"}, rec.Alts)

	rec, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, "X", rec.Chrom)

	_, err = r.Read()
	assert.Equal(t, io.EOF, err)
}

func TestSampleField(t *testing.T) {
	r, err := NewReader(strings.NewReader(testVCF))
	require.NoError(t, err)
	rec, err := r.Read()
	require.NoError(t, err)

	assert.True(t, rec.HasFormat("GT"))
	assert.True(t, rec.HasFormat("AD"))
	assert.False(t, rec.HasFormat("PL"))

	v, ok := rec.SampleField(0, "GT")
	assert.True(t, ok)
	assert.Equal(t, "0/1", v)
	v, ok = rec.SampleField(1, "AD")
	assert.True(t, ok)
	assert.Equal(t, "25,0", v)
	_, ok = rec.SampleField(0, "PL")
	assert.False(t, ok)

	// Trailing fields may be dropped from a sample column.
	_, _ = r.Read()
	rec, err = r.Read()
	require.NoError(t, err)
	v, ok = rec.SampleField(1, "DP")
	assert.True(t, ok)
	assert.Equal(t, "8", v)
}

func TestInfo(t *testing.T) {
	r, err := NewReader(strings.NewReader(testVCF))
	require.NoError(t, err)
	rec, err := r.Read()
	require.NoError(t, err)

	v, ok := rec.InfoField("DP")
	assert.True(t, ok)
	assert.Equal(t, "55", v)
	_, ok = rec.InfoField("DB")
	assert.True(t, ok)
	_, ok = rec.InfoField("AF")
	assert.False(t, ok)

	m := rec.InfoMap()
	assert.Equal(t, 55.0, m["DP"])
	assert.Equal(t, 60.0, m["MQ"])
	assert.Equal(t, true, m["DB"])
}

func TestParseErrorRecoverable(t *testing.T) {
	const body = `##fileformat=VCFv4.2
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO	FORMAT	S1
1	notanumber	.	A	G	50	PASS	.	GT	0/1
1	100	.	A	G	50	PASS	.	GT	0/1
`
	r, err := NewReader(strings.NewReader(body))
	require.NoError(t, err)

	_, err = r.Read()
	require.Error(t, err)
	_, ok := err.(*ParseError)
	assert.True(t, ok)

	// The reader stays usable after a recoverable error.
	rec, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, int32(100), rec.Pos)
}

func TestMissingHeader(t *testing.T) {
	_, err := NewReader(strings.NewReader("1\t100\t.\tA\tG\t50\tPASS\t.\n"))
	assert.Error(t, err)
}

func TestMaybeDecompressGzip(t *testing.T) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(testVCF))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	body, err := maybeDecompress(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	r, err := NewReader(body)
	require.NoError(t, err)
	assert.Equal(t, []string{"S1", "S2"}, r.Header().Samples)
}

func TestMaybeDecompressPlain(t *testing.T) {
	body, err := maybeDecompress(strings.NewReader(testVCF))
	require.NoError(t, err)
	r, err := NewReader(body)
	require.NoError(t, err)
	assert.Equal(t, []string{"S1", "S2"}, r.Header().Samples)
}
