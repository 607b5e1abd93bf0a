package vcf

import (
	"bufio"
	"context"
	"io"

	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/bgzf"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// maxLineBytes bounds a single VCF line.  Joint-called lines with thousands
// of samples can be very long.
const maxLineBytes = 64 << 20

// Reader streams records from one VCF file.
type Reader struct {
	scanner *bufio.Scanner
	header  *Header
	lineNum int
	err     error
}

// NewReader parses the header from r and returns a Reader positioned at the
// first data line.  r must yield uncompressed text; use Open for files.
func NewReader(r io.Reader) (*Reader, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, maxLineBytes)
	var headerLines []string
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		headerLines = append(headerLines, line)
		if len(line) > 1 && line[0] == '#' && line[1] != '#' {
			h, err := parseHeader(headerLines)
			if err != nil {
				return nil, err
			}
			return &Reader{scanner: scanner, header: h, lineNum: lineNum}, nil
		}
		if len(line) > 0 && line[0] != '#' {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "vcf: reading header")
	}
	return nil, errors.New("vcf: missing #CHROM header line")
}

// Header returns the parsed file header.
func (r *Reader) Header() *Header { return r.header }

// Read returns the next record.  It returns io.EOF at end of input.  A
// *ParseError return is recoverable: the reader stays usable and the caller
// may skip the line and call Read again.
func (r *Reader) Read() (*Record, error) {
	if r.err != nil {
		return nil, r.err
	}
	for r.scanner.Scan() {
		r.lineNum++
		line := r.scanner.Text()
		if len(line) == 0 {
			continue
		}
		rec, err := parseRecord(line, r.lineNum)
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
	if err := r.scanner.Err(); err != nil {
		r.err = errors.Wrap(err, "vcf: read")
	} else {
		r.err = io.EOF
	}
	return nil, r.err
}

// FileReader is a Reader bound to an underlying file handle.
type FileReader struct {
	*Reader
	f file.File
}

// Open opens a possibly-compressed VCF file and parses its header.  BGZF
// (the usual .vcf.gz framing, required for tabix indexing), plain gzip, and
// uncompressed text are all accepted; the framing is sniffed from the first
// bytes rather than the file name.
func Open(ctx context.Context, path string) (*FileReader, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	body, err := maybeDecompress(f.Reader(ctx))
	if err != nil {
		_ = f.Close(ctx)
		return nil, errors.Wrap(err, path)
	}
	r, err := NewReader(body)
	if err != nil {
		_ = f.Close(ctx)
		return nil, errors.Wrap(err, path)
	}
	return &FileReader{Reader: r, f: f}, nil
}

// Close releases the underlying file.
func (fr *FileReader) Close(ctx context.Context) error {
	return fr.f.Close(ctx)
}

// ReadSampleNames returns the sample identifiers declared in the file's
// #CHROM header line, without reading any records.
func ReadSampleNames(ctx context.Context, path string) ([]string, error) {
	fr, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	samples := fr.Header().Samples
	if err := fr.Close(ctx); err != nil {
		return nil, err
	}
	return samples, nil
}

// MissingIndexes returns the paths of the tabix indexes (.tbi) that are
// absent for the given .vcf.gz inputs.  Non-bgzipped paths are ignored.
func MissingIndexes(ctx context.Context, paths []string) []string {
	var missing []string
	for _, p := range paths {
		if len(p) < len(".vcf.gz") || p[len(p)-len(".vcf.gz"):] != ".vcf.gz" {
			continue
		}
		tbi := p + ".tbi"
		if _, err := file.Stat(ctx, tbi); err != nil {
			missing = append(missing, tbi)
		}
	}
	return missing
}

// maybeDecompress sniffs the gzip/BGZF framing of r and returns a plain-text
// reader.  BGZF members carry a "BC" extra subfield declaring the block
// size; that is what distinguishes them from ordinary gzip.
func maybeDecompress(r io.Reader) (io.Reader, error) {
	br := bufio.NewReaderSize(r, 1<<16)
	head, err := br.Peek(18)
	if err != nil {
		// Tiny input; cannot be gzip.
		return br, nil
	}
	if head[0] != 0x1f || head[1] != 0x8b {
		return br, nil
	}
	const flagExtra = 0x04
	if head[3]&flagExtra != 0 && head[12] == 'B' && head[13] == 'C' {
		bz, err := bgzf.NewReader(br, 0)
		if err != nil {
			return nil, errors.Wrap(err, "bgzf")
		}
		return bz, nil
	}
	gz, err := gzip.NewReader(br)
	if err != nil {
		return nil, errors.Wrap(err, "gzip")
	}
	return gz, nil
}
