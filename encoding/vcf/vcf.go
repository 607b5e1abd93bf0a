// Package vcf contains a streaming parser for Variant Call Format files, as
// produced by common germline and somatic callers.  It handles plain text,
// gzip, and BGZF-compressed inputs, and exposes the header's sample names
// cheaply so callers can inspect a file's sample set without reading its
// records.
//
// The parser is deliberately lazy: INFO and per-sample FORMAT columns are
// kept as raw strings on each Record and decoded on demand, since the
// aggregation pipeline touches only a handful of keys per record.
package vcf

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Header holds the parsed meta-information of one VCF file.
type Header struct {
	// FileFormat is the value of the ##fileformat line, e.g. "VCFv4.2".
	FileFormat string
	// Meta holds the raw "##" meta lines, in order, without the leading "##".
	Meta []string
	// Samples holds the sample identifiers from the #CHROM header line, in
	// column order.  Empty for sites-only files.
	Samples []string
}

// Record is one data line of a VCF file.
type Record struct {
	Chrom string
	// Pos is the 1-based reference position.
	Pos int32
	ID  string
	Ref string
	// Alts holds the comma-separated alternate alleles.
	Alts []string
	// Qual is the site quality; HasQual is false when the column was ".".
	Qual    float64
	HasQual bool
	Filter  string
	// Info is the raw INFO column; use InfoField to decode single keys.
	Info string
	// Format holds the FORMAT column keys, e.g. ["GT", "DP", "AD"].
	Format []string
	// SampleCols holds the raw per-sample columns, parallel to
	// Header.Samples.
	SampleCols []string

	formatIndex map[string]int
}

// HasFormat reports whether the record's FORMAT column declares key.
func (r *Record) HasFormat(key string) bool {
	_, ok := r.formatIndex[key]
	return ok
}

// SampleField returns the value of the given FORMAT key for sample column i.
// The second return is false when the key is not declared, or the sample
// column ends before it (the VCF spec allows trailing fields to be dropped).
func (r *Record) SampleField(i int, key string) (string, bool) {
	idx, ok := r.formatIndex[key]
	if !ok || i >= len(r.SampleCols) {
		return "", false
	}
	col := r.SampleCols[i]
	for n := 0; n < idx; n++ {
		j := strings.IndexByte(col, ':')
		if j < 0 {
			return "", false
		}
		col = col[j+1:]
	}
	if j := strings.IndexByte(col, ':'); j >= 0 {
		col = col[:j]
	}
	return col, true
}

// InfoField returns the value of the given INFO key.  Flag keys (present
// without a value) return "" with ok=true.
func (r *Record) InfoField(key string) (string, bool) {
	info := r.Info
	for len(info) > 0 {
		field := info
		if j := strings.IndexByte(info, ';'); j >= 0 {
			field, info = info[:j], info[j+1:]
		} else {
			info = ""
		}
		if field == key {
			return "", true
		}
		if strings.HasPrefix(field, key) && len(field) > len(key) && field[len(key)] == '=' {
			return field[len(key)+1:], true
		}
	}
	return "", false
}

// InfoMap decodes the full INFO column into a map.  Numeric values are
// returned as float64, flags as true, everything else as string.
func (r *Record) InfoMap() map[string]interface{} {
	m := make(map[string]interface{})
	info := r.Info
	if info == "." {
		return m
	}
	for len(info) > 0 {
		field := info
		if j := strings.IndexByte(info, ';'); j >= 0 {
			field, info = info[:j], info[j+1:]
		} else {
			info = ""
		}
		if field == "" {
			continue
		}
		if j := strings.IndexByte(field, '='); j >= 0 {
			key, val := field[:j], field[j+1:]
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				m[key] = f
			} else {
				m[key] = val
			}
		} else {
			m[field] = true
		}
	}
	return m
}

// ParseError describes a structurally invalid data line.  It is recoverable:
// a Reader remains usable after returning one, so callers may skip the
// offending record and continue.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return "vcf: line " + strconv.Itoa(e.Line) + ": " + e.Msg
}

const numFixedCols = 8

func parseRecord(line string, lineNum int) (*Record, error) {
	cols := strings.Split(line, "\t")
	if len(cols) < numFixedCols {
		return nil, &ParseError{lineNum, "expected at least 8 columns, got " + strconv.Itoa(len(cols))}
	}
	pos, err := strconv.Atoi(cols[1])
	if err != nil || pos <= 0 {
		return nil, &ParseError{lineNum, "bad POS " + strconv.Quote(cols[1])}
	}
	rec := &Record{
		Chrom:  cols[0],
		Pos:    int32(pos),
		ID:     cols[2],
		Ref:    cols[3],
		Alts:   strings.Split(cols[4], ","),
		Filter: cols[6],
		Info:   cols[7],
	}
	if cols[5] != "." {
		q, err := strconv.ParseFloat(cols[5], 64)
		if err != nil {
			return nil, &ParseError{lineNum, "bad QUAL " + strconv.Quote(cols[5])}
		}
		rec.Qual, rec.HasQual = q, true
	}
	if len(cols) > numFixedCols {
		rec.Format = strings.Split(cols[numFixedCols], ":")
		rec.formatIndex = make(map[string]int, len(rec.Format))
		for i, k := range rec.Format {
			rec.formatIndex[k] = i
		}
		rec.SampleCols = cols[numFixedCols+1:]
	}
	return rec, nil
}

func parseHeader(lines []string) (*Header, error) {
	h := &Header{}
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "##"):
			meta := line[2:]
			h.Meta = append(h.Meta, meta)
			if strings.HasPrefix(meta, "fileformat=") {
				h.FileFormat = meta[len("fileformat="):]
			}
		case strings.HasPrefix(line, "#CHROM"):
			cols := strings.Split(line, "\t")
			if len(cols) < numFixedCols {
				return nil, errors.Errorf("vcf: malformed #CHROM line with %d columns", len(cols))
			}
			if len(cols) > numFixedCols+1 {
				h.Samples = cols[numFixedCols+1:]
			}
			return h, nil
		default:
			return nil, errors.Errorf("vcf: unexpected header line %q", line)
		}
	}
	return nil, errors.New("vcf: missing #CHROM header line")
}
