package tsf

import (
	"context"
	"io"
	"strconv"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/pkg/errors"
)

// Track is a fully loaded track file.
type Track struct {
	Meta SourceMeta
	// CohortSamples is the full set of samples contributing to the track,
	// as recorded at write time.
	CohortSamples []string
	// Rows holds the per-site counts and retained sample lists, in the
	// ascending site order they were written in.
	Rows []Row
}

// SampleSet returns the cohort samples as a membership set.
func (t *Track) SampleSet() map[string]bool {
	set := make(map[string]bool, len(t.CohortSamples))
	for _, s := range t.CohortSamples {
		set[s] = true
	}
	return set
}

// Read loads a track and verifies its internal consistency: the two
// payloads must describe the identical site sequence and both must match
// the fingerprints in the trailer.  Any violation returns an error whose
// cause is ErrCorrupt.
func Read(ctx context.Context, path string) (t *Track, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	if t, err = readFrom(in.Reader(ctx)); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return t, nil
}

func readFrom(rs io.ReadSeeker) (*Track, error) {
	scanner := recordio.NewScanner(rs, recordio.ScannerOpts{
		Unmarshal: unmarshalRow,
	})
	t := &Track{}
	hdr := scanner.Header()
	if v, ok := headerString(hdr, keyFormatVersion); !ok {
		return nil, errors.Wrap(ErrCorrupt, "missing format version")
	} else if n, err := strconv.Atoi(v); err != nil || n != formatVersion {
		return nil, errors.Wrapf(ErrCorrupt, "unsupported format version %q", v)
	}
	t.Meta.SourceName, _ = headerString(hdr, keySourceName)
	t.Meta.SeriesName, _ = headerString(hdr, keySeriesName)
	t.Meta.CoordSysID, _ = headerString(hdr, keyCoordSys)
	t.Meta.SourceVersion, _ = headerString(hdr, keySourceVersion)
	if packed, ok := headerString(hdr, keySamples); ok {
		t.CohortSamples = unpackSamples(packed)
	}

	trailer := scanner.Trailer()
	nRows, wantCounts, wantSamples, err := parseTrailer(trailer)
	if err != nil {
		return nil, err
	}

	var fpCounts, fpSamples uint64
	sampleRows := 0
	for scanner.Scan() {
		m := scanner.Get().(*marshaledRow)
		switch m.kind {
		case kindCounts:
			if sampleRows > 0 {
				return nil, errors.Wrap(ErrCorrupt, "counts record after samples payload")
			}
			fpCounts = siteFingerprint(fpCounts, m.row)
			t.Rows = append(t.Rows, *m.row)
		case kindSamples:
			if sampleRows >= len(t.Rows) {
				return nil, errors.Wrap(ErrCorrupt, "excess samples records")
			}
			r := &t.Rows[sampleRows]
			if r.Chrom != m.row.Chrom || r.Pos != m.row.Pos ||
				r.Ref != m.row.Ref || r.Alt != m.row.Alt {
				return nil, errors.Wrapf(ErrCorrupt,
					"samples payload disagrees with counts payload at row %d", sampleRows)
			}
			fpSamples = siteFingerprint(fpSamples, m.row)
			r.Samples = m.row.Samples
			sampleRows++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if int64(len(t.Rows)) != nRows || sampleRows != len(t.Rows) {
		return nil, errors.Wrapf(ErrCorrupt,
			"trailer declares %d sites, found %d counts / %d samples records",
			nRows, len(t.Rows), sampleRows)
	}
	if fpCounts != wantCounts || fpSamples != wantSamples {
		return nil, errors.Wrap(ErrCorrupt, "payload fingerprint mismatch")
	}
	return t, nil
}
