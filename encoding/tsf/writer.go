package tsf

import (
	"context"
	"os"
	"strconv"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/pkg/errors"
)

// stagingPath returns where the track is written before Finish commits it.
// Local files are staged next to the destination and renamed into place, so a
// failed run never leaves a partially written dataset.  Remote objects need
// no staging; they only become visible once Close succeeds.
func stagingPath(path string) (string, error) {
	scheme, _, err := file.ParsePath(path)
	if err != nil {
		return "", err
	}
	if scheme != "" {
		return path, nil
	}
	return path + ".tmp", nil
}

// Writer produces a track file.  Rows must be appended in ascending site
// order; the writer emits the counts payload as rows arrive and buffers the
// (small, threshold-bounded) sample lists, replaying them as the second
// payload when Finish is called.
//
// A half-written track would corrupt every subsequent incremental run built
// on it, so the output is staged (see stagingPath) and committed by Finish.
type Writer struct {
	path    string
	tmpPath string
	out     file.File
	rio     recordio.Writer

	nRows     int64
	fpCounts  uint64
	fpSamples uint64
	pending   []Row // site identity + retained samples for payload 2
	err       error
}

// NewWriter creates the staged output and writes the track header.
// cohortSamples is the full (untruncated) set of samples contributing to the
// track; the duplicate-sample filter of the next incremental run reads it
// back.
func NewWriter(ctx context.Context, path string, meta SourceMeta, cohortSamples []string) (*Writer, error) {
	tmpPath, err := stagingPath(path)
	if err != nil {
		return nil, err
	}
	out, err := file.Create(ctx, tmpPath)
	if err != nil {
		return nil, err
	}
	rio := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
		Marshal:      marshalRow,
		Transformers: []string{recordiozstd.Name},
	})
	rio.AddHeader(keyFormatVersion, strconv.Itoa(formatVersion))
	rio.AddHeader(keySourceName, meta.SourceName)
	rio.AddHeader(keySeriesName, meta.SeriesName)
	rio.AddHeader(keyCoordSys, meta.CoordSysID)
	rio.AddHeader(keySourceVersion, meta.SourceVersion)
	rio.AddHeader(keySamples, packSamples(cohortSamples))
	rio.AddHeader(recordio.KeyTrailer, true)
	return &Writer{path: path, tmpPath: tmpPath, out: out, rio: rio}, nil
}

// Append writes one site's counts record and queues its sample-list record.
func (w *Writer) Append(r *Row) {
	if w.err != nil {
		return
	}
	w.rio.Append(&marshaledRow{kind: kindCounts, row: r})
	w.fpCounts = siteFingerprint(w.fpCounts, r)
	w.pending = append(w.pending, Row{
		Chrom:   r.Chrom,
		Pos:     r.Pos,
		Ref:     r.Ref,
		Alt:     r.Alt,
		Samples: r.Samples,
	})
	w.nRows++
}

// Finish writes the sample-list payload and trailer, then commits the staged
// output, atomically renaming it for local files.
func (w *Writer) Finish(ctx context.Context) error {
	if w.err != nil {
		return w.err
	}
	for i := range w.pending {
		r := &w.pending[i]
		w.rio.Append(&marshaledRow{kind: kindSamples, row: r})
		w.fpSamples = siteFingerprint(w.fpSamples, r)
	}
	w.rio.SetTrailer(marshalTrailer(w.nRows, w.fpCounts, w.fpSamples))
	if err := w.rio.Finish(); err != nil {
		w.abort(ctx)
		return err
	}
	if err := w.out.Close(ctx); err != nil {
		w.abort(ctx)
		return err
	}
	if w.tmpPath != w.path {
		if err := os.Rename(w.tmpPath, w.path); err != nil {
			w.abort(ctx)
			return errors.Wrap(err, "tsf: commit")
		}
	}
	return nil
}

// Abort discards the staged output.  Safe to call after a failed Finish.
func (w *Writer) Abort(ctx context.Context) {
	w.abort(ctx)
}

func (w *Writer) abort(ctx context.Context) {
	if w.out != nil {
		_ = w.out.Close(ctx)
		w.out = nil
	}
	_ = file.Remove(ctx, w.tmpPath)
}
