// Package tsf reads and writes cohort frequency tracks: the versioned,
// persisted output dataset of the aggregation pipeline.
//
// A track is a recordio container holding two payloads keyed by the same
// site sequence: first one record per variant site with its accumulated
// allele counts, then one record per site with the retained sample-name
// list.  Provenance metadata (source name, series name, coordinate system,
// version) travels in the recordio header; the trailer carries the site
// count plus a fingerprint of each payload's site sequence, so a reader can
// prove the two payloads describe the same sites before trusting the data.
package tsf

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/dgryski/go-farm"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/pkg/errors"
)

func init() {
	recordiozstd.Init()
}

// ErrCorrupt is the cause of every error returned for a structurally
// damaged or internally inconsistent track.  Callers must treat it as fatal
// for the run: partial recovery of accumulated counts risks silent
// undercounting.
var ErrCorrupt = errors.New("tsf: corrupt track")

// Format versioning.
const (
	formatVersion  = 1
	trailerVersion = 1
	trailerBytes   = 8 * 4
)

// Header keys.
const (
	keySourceName    = "cohort-source-name"
	keySeriesName    = "cohort-series-name"
	keyCoordSys      = "cohort-coord-sys"
	keySourceVersion = "cohort-source-version"
	keySamples       = "cohort-samples"
	keyFormatVersion = "cohort-format-version"
)

// SourceMeta is the provenance metadata stamped on a track.
type SourceMeta struct {
	// SourceName is the display name, e.g. "NorthWest Cohort Variant
	// Frequencies".
	SourceName string
	// SeriesName groups successive versions of the same track.
	SeriesName string
	// CoordSysID names the coordinate system the sites are ordered by.
	CoordSysID string
	// SourceVersion is the version tag of this track instance (UTC date in
	// the reference pipeline).
	SourceVersion string
}

// Row is one aggregated variant site.
type Row struct {
	Chrom string
	Pos   int32 // 1-based
	Ref   string
	Alt   string

	RefCount    int64
	AltCount    int64
	NoCallCount int64

	// SampleCount is the exact number of distinct samples contributing to
	// the counts.  Samples holds the retained identifiers for provenance
	// display; it is empty when SampleCount exceeded the display threshold
	// at write time, and never affects the counts.
	SampleCount int32
	Samples     []string
}

// record kinds; counts records form payload 1, samples records payload 2.
const (
	kindCounts = byte(iota)
	kindSamples
)

// siteFingerprint chains a site's identity into a running payload
// fingerprint.
func siteFingerprint(fp uint64, r *Row) uint64 {
	var b bytes.Buffer
	b.WriteString(r.Chrom)
	b.WriteByte(0)
	b.WriteString(r.Ref)
	b.WriteByte(0)
	b.WriteString(r.Alt)
	b.WriteByte(0)
	var pos [4]byte
	binary.LittleEndian.PutUint32(pos[:], uint32(r.Pos))
	b.Write(pos[:])
	return farm.Hash64WithSeed(b.Bytes(), fp)
}

func appendString(dst []byte, s string) []byte {
	var n [2]byte
	binary.LittleEndian.PutUint16(n[:], uint16(len(s)))
	dst = append(dst, n[:]...)
	return append(dst, s...)
}

func appendUint32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendUint64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func marshalRow(scratch []byte, v interface{}) ([]byte, error) {
	m := v.(*marshaledRow)
	r := m.row
	dst := scratch[:0]
	dst = append(dst, m.kind)
	dst = appendString(dst, r.Chrom)
	dst = appendUint32(dst, uint32(r.Pos))
	dst = appendString(dst, r.Ref)
	dst = appendString(dst, r.Alt)
	switch m.kind {
	case kindCounts:
		dst = appendUint64(dst, uint64(r.RefCount))
		dst = appendUint64(dst, uint64(r.AltCount))
		dst = appendUint64(dst, uint64(r.NoCallCount))
		dst = appendUint32(dst, uint32(r.SampleCount))
	case kindSamples:
		dst = appendUint32(dst, uint32(len(r.Samples)))
		for _, s := range r.Samples {
			dst = appendString(dst, s)
		}
	default:
		return nil, errors.Errorf("tsf: unknown record kind %d", m.kind)
	}
	return dst, nil
}

type marshaledRow struct {
	kind byte
	row  *Row
}

type decoder struct {
	in  []byte
	err error
}

func (d *decoder) string() string {
	if d.err != nil {
		return ""
	}
	if len(d.in) < 2 {
		d.err = ErrCorrupt
		return ""
	}
	n := int(binary.LittleEndian.Uint16(d.in))
	d.in = d.in[2:]
	if len(d.in) < n {
		d.err = ErrCorrupt
		return ""
	}
	s := string(d.in[:n])
	d.in = d.in[n:]
	return s
}

func (d *decoder) uint32() uint32 {
	if d.err != nil {
		return 0
	}
	if len(d.in) < 4 {
		d.err = ErrCorrupt
		return 0
	}
	v := binary.LittleEndian.Uint32(d.in)
	d.in = d.in[4:]
	return v
}

func (d *decoder) uint64() uint64 {
	if d.err != nil {
		return 0
	}
	if len(d.in) < 8 {
		d.err = ErrCorrupt
		return 0
	}
	v := binary.LittleEndian.Uint64(d.in)
	d.in = d.in[8:]
	return v
}

func unmarshalRow(in []byte) (interface{}, error) {
	if len(in) < 1 {
		return nil, ErrCorrupt
	}
	m := &marshaledRow{kind: in[0], row: &Row{}}
	d := decoder{in: in[1:]}
	r := m.row
	r.Chrom = d.string()
	r.Pos = int32(d.uint32())
	r.Ref = d.string()
	r.Alt = d.string()
	switch m.kind {
	case kindCounts:
		r.RefCount = int64(d.uint64())
		r.AltCount = int64(d.uint64())
		r.NoCallCount = int64(d.uint64())
		r.SampleCount = int32(d.uint32())
	case kindSamples:
		n := int(d.uint32())
		for i := 0; i < n && d.err == nil; i++ {
			r.Samples = append(r.Samples, d.string())
		}
	default:
		return nil, errors.Wrapf(ErrCorrupt, "unknown record kind %d", m.kind)
	}
	if d.err != nil {
		return nil, errors.Wrap(d.err, "short record")
	}
	return m, nil
}

func marshalTrailer(nRows int64, fpCounts, fpSamples uint64) []byte {
	var b [trailerBytes]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(trailerVersion))
	binary.LittleEndian.PutUint64(b[8:16], uint64(nRows))
	binary.LittleEndian.PutUint64(b[16:24], fpCounts)
	binary.LittleEndian.PutUint64(b[24:32], fpSamples)
	return b[:]
}

func parseTrailer(b []byte) (nRows int64, fpCounts, fpSamples uint64, err error) {
	if len(b) != trailerBytes {
		return 0, 0, 0, errors.Wrapf(ErrCorrupt, "trailer is %d bytes", len(b))
	}
	if v := binary.LittleEndian.Uint64(b[0:8]); v != trailerVersion {
		return 0, 0, 0, errors.Wrapf(ErrCorrupt, "unsupported trailer version %d", v)
	}
	nRows = int64(binary.LittleEndian.Uint64(b[8:16]))
	fpCounts = binary.LittleEndian.Uint64(b[16:24])
	fpSamples = binary.LittleEndian.Uint64(b[24:32])
	return nRows, fpCounts, fpSamples, nil
}

func packSamples(samples []string) string  { return strings.Join(samples, "\x00") }
func unpackSamples(packed string) []string {
	if packed == "" {
		return nil
	}
	return strings.Split(packed, "\x00")
}

func headerString(hdr recordio.ParsedHeader, key string) (string, bool) {
	for _, kv := range hdr {
		if kv.Key == key {
			if s, ok := kv.Value.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}
