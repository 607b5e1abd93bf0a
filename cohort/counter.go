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
	"sort"

	"github.com/grailbio/cohort/encoding/tsf"
	"github.com/pkg/errors"
)

// countPolicy controls how the additive counter folds calls into counts.
type countPolicy struct {
	// countNoCalls adds missing alleles to the no-call tally.  This changes
	// frequency denominators downstream, so it is an explicit policy rather
	// than a constant.
	countNoCalls bool
	// sampleNameThreshold caps how many sample identifiers are retained per
	// site for rare-variant provenance display.  It never affects counts.
	sampleNameThreshold int
}

// countCalls tallies the allele counts of a site's surviving calls and
// collects the contributing sample identifiers.
func countCalls(calls []Call, countNoCalls bool) (Counts, []string) {
	var counts Counts
	samples := make([]string, 0, len(calls))
	for i := range calls {
		c := &calls[i]
		counts.Ref += int64(c.RefAlleles)
		counts.Alt += int64(c.AltAlleles)
		if countNoCalls {
			counts.NoCall += int64(c.MissingAlleles)
		}
		samples = append(samples, c.Sample)
	}
	sort.Strings(samples)
	return counts, samples
}

// finalize applies the additive counter and the zero-frequency filter to one
// merged variant, producing its track row.  ok is false when the site's
// combined alternate support is zero and the site must be dropped.
//
// The fold is additive in the strict sense: re-running it with no new calls
// (every new input excluded upstream) reproduces the pre-aggregated counts
// exactly.
func (p countPolicy) finalize(v *Variant) (row tsf.Row, ok bool) {
	counts := v.Counts
	newCounts, newSamples := countCalls(v.Calls, p.countNoCalls)
	counts.Add(newCounts)

	sampleCount := v.SampleCount + int32(len(newSamples))
	var retained []string
	if int(sampleCount) <= p.sampleNameThreshold {
		retained = append(append(retained, v.Samples...), newSamples...)
	}

	if counts.Alt == 0 {
		// Zero-frequency site: nothing supports the alternate allele, either
		// because per-sample filtering dropped every supporting call or
		// because an existing zero-count row was carried forward.
		return tsf.Row{}, false
	}
	return tsf.Row{
		Chrom:       v.Chrom,
		Pos:         v.Pos,
		Ref:         v.Ref,
		Alt:         v.Alt,
		RefCount:    counts.Ref,
		AltCount:    counts.Alt,
		NoCallCount: counts.NoCall,
		SampleCount: sampleCount,
		Samples:     retained,
	}, true
}

// trackStream replays a loaded track as a Variant stream, so accumulated
// counts join the merge exactly like any other input.  The stream validates
// ascending site order as it goes; out-of-order rows mean the track cannot
// be trusted and the run must not fold counts from it.
type trackStream struct {
	cs   *CoordSystem
	rows []tsf.Row
	pos  int
	cur  Variant
	err  error
}

func newTrackStream(cs *CoordSystem, rows []tsf.Row) *trackStream {
	return &trackStream{cs: cs, rows: rows}
}

func (s *trackStream) Scan() bool {
	if s.err != nil || s.pos >= len(s.rows) {
		return false
	}
	r := &s.rows[s.pos]
	v := Variant{
		Site:        Site{Chrom: r.Chrom, Pos: r.Pos, Ref: r.Ref, Alt: r.Alt},
		Counts:      Counts{Ref: r.RefCount, Alt: r.AltCount, NoCall: r.NoCallCount},
		SampleCount: r.SampleCount,
		Samples:     r.Samples,
	}
	if s.pos > 0 && s.cs.Compare(s.cur.Site, v.Site) > 0 {
		s.err = errors.Wrapf(tsf.ErrCorrupt, "track rows out of order at %s", v.Site)
		return false
	}
	s.cur = v
	s.pos++
	return true
}

func (s *trackStream) Variant() *Variant { return &s.cur }
func (s *trackStream) Err() error        { return s.err }
