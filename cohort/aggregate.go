// Copyright 2021 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cohort

import (
	"context"
	"io"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/cohort/encoding/fasta"
	"github.com/grailbio/cohort/encoding/tsf"
	"github.com/grailbio/cohort/encoding/vcf"
)

// Opts controls an aggregation run.
type Opts struct {
	// CohortName names the cohort; the track's source name is derived from
	// it.  Required.
	CohortName string
	// SeriesName groups successive versions of the output track.  Required.
	SeriesName string
	// CoordSys orders contigs.  Defaults to GRCh38.
	CoordSys *CoordSystem
	// Reference enables indel left-alignment across record boundaries.
	// Optional.
	Reference fasta.Fasta

	// Filters holds the quality thresholds and filter expressions.
	Filters FilterParams

	// CountNoCalls includes missing alleles in the no-call tally.
	CountNoCalls bool
	// SampleNameThreshold caps per-site retained sample names.
	SampleNameThreshold int

	// Parallelism bounds the per-file reader pool; 0 derives it from
	// runtime.NumCPU() and the manifest size.
	Parallelism int

	// SkipLogPath receives one line per input excluded by the
	// duplicate-sample filter.  Empty disables the log file.
	SkipLogPath string
	// SkipUnreadableInputs treats an unreadable input as skipped-with-
	// warning instead of aborting the run.  The default aborts: a
	// systematically missing input changes the cohort's scientific
	// validity.
	SkipUnreadableInputs bool

	// SourceVersion tags the output track; empty means today's UTC date.
	SourceVersion string
}

// DefaultOpts holds the default knob settings.
var DefaultOpts = Opts{
	CoordSys:            GRCh38,
	CountNoCalls:        true,
	SampleNameThreshold: 20,
}

// SourceName derives a track's display name from its cohort name.
func SourceName(cohortName string) string {
	return cohortName + " Variant Frequencies"
}

func (o *Opts) fill(fileCount int) error {
	if o.CohortName == "" {
		return &InvalidParameterError{"cohort_name", "must be set"}
	}
	if o.SeriesName == "" {
		return &InvalidParameterError{"series_name", "must be set"}
	}
	if o.CoordSys == nil {
		o.CoordSys = GRCh38
	}
	if o.SampleNameThreshold <= 0 {
		o.SampleNameThreshold = DefaultOpts.SampleNameThreshold
	}
	if o.Parallelism <= 0 {
		o.Parallelism = ReaderPoolSize(runtime.NumCPU(), fileCount)
	}
	if o.SourceVersion == "" {
		o.SourceVersion = time.Now().UTC().Format("2006-01-02")
	}
	return o.Filters.Validate()
}

func (o *Opts) meta() tsf.SourceMeta {
	return tsf.SourceMeta{
		SourceName:    SourceName(o.CohortName),
		SeriesName:    o.SeriesName,
		CoordSysID:    o.CoordSys.ID,
		SourceVersion: o.SourceVersion,
	}
}

// Aggregate runs the full pipeline: it loads the existing counts (when
// existingPath is nonempty), excludes manifest files reintroducing
// already-seen samples, reads, normalizes and filters the remaining files
// in parallel, merges them with the existing counts, folds the additive
// counter, prunes zero-frequency sites, and writes the updated track to
// outPath.  On any fatal error no output is written.
func Aggregate(ctx context.Context, manifest []string, existingPath, outPath string, rawOpts *Opts) (*Report, error) {
	opts := *rawOpts
	if err := opts.fill(len(manifest)); err != nil {
		return nil, err
	}
	report := &Report{FilesTotal: len(manifest)}

	// Existing counts gate which files enter the pipeline, so they are
	// loaded before any per-file decision.
	var existing *tsf.Track
	seen := map[string]bool{}
	if existingPath != "" {
		var err error
		if existing, err = tsf.Read(ctx, existingPath); err != nil {
			return nil, err
		}
		if existing.Meta.CoordSysID != opts.CoordSys.ID {
			return nil, errors.E("existing counts use coordinate system",
				existing.Meta.CoordSysID, "but this run uses", opts.CoordSys.ID)
		}
		seen = existing.SampleSet()
		log.Printf("existing counts: %d sites, %d samples from %s",
			len(existing.Rows), len(seen), existingPath)
	}

	// Duplicate-sample filter: scan each file's sample header up front.
	sampleSets := make([][]string, len(manifest))
	headerErrs := make([]error, len(manifest))
	err := traverse.Each(opts.Parallelism, makePool(len(manifest), func(i int) error {
		samples, err := vcf.ReadSampleNames(ctx, manifest[i])
		if err != nil {
			headerErrs[i] = err
			return nil
		}
		sampleSets[i] = samples
		return nil
	}))
	if err != nil {
		return nil, err
	}

	skipLog := NewSkipLog(opts.SkipLogPath)
	var kept []int
	newSeen := map[string]bool{}
	for i, path := range manifest {
		if headerErrs[i] != nil {
			if !opts.SkipUnreadableInputs {
				return nil, headerErrs[i]
			}
			log.Error.Printf("skipping unreadable input %s: %v", path, headerErrs[i])
			report.FilesSkippedUnreadable++
			continue
		}
		if dups := duplicateSamples(sampleSets[i], seen); len(dups) > 0 {
			// All-or-nothing per file: partial-file reprocessing is unsafe.
			if err := skipLog.Append(ctx, path, dups); err != nil {
				return nil, err
			}
			report.FilesSkippedDuplicates++
			continue
		}
		for _, s := range sampleSets[i] {
			if newSeen[s] {
				return nil, &DuplicateSampleError{Samples: []string{s}}
			}
			newSeen[s] = true
		}
		kept = append(kept, i)
	}
	if err := skipLog.Close(ctx); err != nil {
		return nil, err
	}
	report.SamplesAdded = len(newSeen)

	// Read, normalize and filter the kept files in parallel.  Each worker
	// produces a fully sorted per-file variant list: left-alignment may move
	// a record before earlier output, so per-file streams must be re-sorted
	// before the ordered fan-in.
	results := make([][]Variant, len(kept))
	err = traverse.Each(opts.Parallelism, makePool(len(kept), func(j int) error {
		variants, err := processFile(ctx, manifest[kept[j]], &opts, sampleSets[kept[j]], report)
		if err != nil {
			return err
		}
		results[j] = variants
		return nil
	}))
	if err != nil {
		return nil, err
	}

	streams := make([]Stream, 0, len(results)+1)
	for _, variants := range results {
		streams = append(streams, newSliceStream(variants))
	}
	if existing != nil {
		streams = append(streams, newTrackStream(opts.CoordSys, existing.Rows))
	}

	cohortSamples := make([]string, 0, len(seen)+len(newSeen))
	for s := range seen {
		cohortSamples = append(cohortSamples, s)
	}
	for s := range newSeen {
		cohortSamples = append(cohortSamples, s)
	}
	sort.Strings(cohortSamples)

	return report, writeTrack(ctx, outPath, streams, cohortSamples, &opts, report)
}

// MergeTracks combines per-batch track files into one track: counts are
// summed per site and sample sets unioned.  The batches' cohorts must be
// disjoint; a shared sample is a fatal duplicate since its alleles would be
// counted twice.
func MergeTracks(ctx context.Context, trackPaths []string, outPath string, rawOpts *Opts) (*Report, error) {
	opts := *rawOpts
	if err := opts.fill(len(trackPaths)); err != nil {
		return nil, err
	}
	report := &Report{FilesTotal: len(trackPaths)}

	seen := map[string]bool{}
	var streams []Stream
	var cohortSamples []string
	for _, path := range trackPaths {
		t, err := tsf.Read(ctx, path)
		if err != nil {
			return nil, err
		}
		if t.Meta.CoordSysID != opts.CoordSys.ID {
			return nil, errors.E(path, "uses coordinate system", t.Meta.CoordSysID,
				"but this run uses", opts.CoordSys.ID)
		}
		if dups := duplicateSamples(t.CohortSamples, seen); len(dups) > 0 {
			return nil, &DuplicateSampleError{Samples: dups}
		}
		for _, s := range t.CohortSamples {
			seen[s] = true
		}
		cohortSamples = append(cohortSamples, t.CohortSamples...)
		streams = append(streams, newTrackStream(opts.CoordSys, t.Rows))
	}
	sort.Strings(cohortSamples)
	report.SamplesAdded = len(cohortSamples)

	return report, writeTrack(ctx, outPath, streams, cohortSamples, &opts, report)
}

// writeTrack runs the ordered fan-in, the additive counter, and the
// zero-frequency filter, writing surviving sites to outPath.  Any error
// aborts the staged output; no partial track is committed.
func writeTrack(ctx context.Context, outPath string, streams []Stream, cohortSamples []string, opts *Opts, report *Report) error {
	w, err := tsf.NewWriter(ctx, outPath, opts.meta(), cohortSamples)
	if err != nil {
		return err
	}
	policy := countPolicy{
		countNoCalls:        opts.CountNoCalls,
		sampleNameThreshold: opts.SampleNameThreshold,
	}
	err = Merge(opts.CoordSys, streams, func(v *Variant) error {
		report.SitesMerged++
		row, ok := policy.finalize(v)
		if !ok {
			report.SitesDroppedZeroFreq++
			return nil
		}
		w.Append(&row)
		report.SitesWritten++
		return nil
	})
	if err != nil {
		w.Abort(ctx)
		return err
	}
	return w.Finish(ctx)
}

// processFile reads one input end to end: parse, site-filter, normalize,
// sample-filter, sort, collapse.  Malformed records are skipped and
// counted, per the recoverable-error policy.
func processFile(ctx context.Context, path string, opts *Opts, samples []string, report *Report) ([]Variant, error) {
	// Unreadable inputs were already weeded out at header-scan time; a file
	// disappearing between the scan and here is fatal regardless of policy,
	// since its samples have joined the cohort sample set.
	fr, err := vcf.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer fr.Close(ctx) // nolint: errcheck

	// The otto VM behind the filter expressions is single-threaded, so each
	// file gets its own engine.
	filters, err := newFilterEngine(opts.Filters)
	if err != nil {
		return nil, err
	}
	normalizer := NewNormalizer(opts.CoordSys, opts.Reference, samples)

	var variants []Variant
	for {
		rec, err := fr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if IsMalformedRecord(err) {
				atomic.AddInt64(&report.RecordsSkipped, 1)
				continue
			}
			return nil, errors.E(err, path)
		}
		atomic.AddInt64(&report.RecordsRead, 1)
		ok, err := filters.siteOK(rec)
		if err != nil {
			return nil, errors.E(err, path)
		}
		if !ok {
			atomic.AddInt64(&report.SitesFiltered, 1)
			continue
		}
		normalized, err := normalizer.Normalize(rec)
		if err != nil {
			if IsMalformedRecord(err) {
				atomic.AddInt64(&report.RecordsSkipped, 1)
				continue
			}
			return nil, errors.E(err, path)
		}
		for _, v := range normalized {
			if v.Calls, err = filters.filterCalls(v.Calls); err != nil {
				return nil, errors.E(err, path)
			}
			// A site whose calls were all dropped still proceeds; the
			// zero-frequency filter decides its fate after the fold.
			variants = append(variants, v)
		}
	}
	return sortAndCollapse(opts.CoordSys, variants), nil
}

// makePool turns n jobs into a fixed-size worker pool body for
// traverse.Each: each worker drains a shared job channel.
func makePool(n int, job func(i int) error) func(w int) error {
	jobs := make(chan int, n)
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	return func(w int) error {
		for i := range jobs {
			if err := job(i); err != nil {
				return err
			}
		}
		return nil
	}
}
