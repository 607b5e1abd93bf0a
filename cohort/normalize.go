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
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/cohort/encoding/fasta"
	"github.com/grailbio/cohort/encoding/vcf"
)

// MalformedRecordError marks a record that is missing required FORMAT fields
// (DP, GQ, AD) or carries undecodable genotype data.  The pipeline skips
// such records, counts them, and continues with the rest of the file.
type MalformedRecordError struct {
	Chrom  string
	Pos    int32
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at %s:%d: %s", e.Chrom, e.Pos, e.Reason)
}

// IsMalformedRecord reports whether err is recoverable by skipping the
// offending record.  Structural VCF parse errors are treated the same way as
// missing-field errors.
func IsMalformedRecord(err error) bool {
	switch err.(type) {
	case *MalformedRecordError, *vcf.ParseError:
		return true
	}
	return false
}

// requiredFormatKeys are the FORMAT fields every record must declare.
var requiredFormatKeys = []string{"GT", "DP", "GQ", "AD"}

// Normalizer converts raw VCF records into canonical variants: one output
// per alternate allele, alleles left-aligned and trimmed to the minimal
// representation, per-sample genotypes rewritten against the single
// alternate under consideration.
type Normalizer struct {
	cs      *CoordSystem
	ref     fasta.Fasta // optional; enables left shifts across record bounds
	samples []string
}

// NewNormalizer returns a Normalizer for one input file.  ref may be nil, in
// which case indel left-alignment is limited to the bases present in the
// record itself.  samples is the file's sample column order.
func NewNormalizer(cs *CoordSystem, ref fasta.Fasta, samples []string) *Normalizer {
	return &Normalizer{cs: cs, ref: ref, samples: samples}
}

// Normalize decomposes one raw record into zero or more canonical variants.
// Symbolic alternates (<NON_REF>, <DEL>, ...), spanning deletions ("*"), and
// missing alternates are dropped silently; a *MalformedRecordError is
// returned when required FORMAT fields are absent.
func (n *Normalizer) Normalize(rec *vcf.Record) ([]Variant, error) {
	for _, key := range requiredFormatKeys {
		if !rec.HasFormat(key) {
			return nil, &MalformedRecordError{rec.Chrom, rec.Pos, "FORMAT lacks " + key}
		}
	}
	var out []Variant
	for altIdx, alt := range rec.Alts {
		if alt == "" || alt == "." || alt == "*" || alt[0] == '<' || alt == rec.Ref {
			continue
		}
		calls := make([]Call, 0, len(n.samples))
		for i, sample := range n.samples {
			call, err := n.parseCall(rec, i, altIdx)
			if err != nil {
				return nil, err
			}
			call.Sample = sample
			calls = append(calls, call)
		}
		pos, ref, nalt := n.normalizeAlleles(rec.Chrom, rec.Pos, rec.Ref, alt)
		out = append(out, Variant{
			Site:  Site{Chrom: rec.Chrom, Pos: pos, Ref: ref, Alt: nalt},
			Calls: calls,
		})
	}
	return out, nil
}

// parseCall decodes one sample column against alternate altIdx.  GT allele
// indexes naming a different alternate are tallied as reference.
func (n *Normalizer) parseCall(rec *vcf.Record, i, altIdx int) (Call, error) {
	malformed := func(reason string) (Call, error) {
		return Call{}, &MalformedRecordError{rec.Chrom, rec.Pos, reason}
	}
	gt, ok := rec.SampleField(i, "GT")
	if !ok || gt == "" {
		return malformed("sample missing GT")
	}
	var call Call
	for _, tok := range strings.FieldsFunc(gt, isGTSep) {
		if tok == "." {
			call.MissingAlleles++
			continue
		}
		allele, err := strconv.Atoi(tok)
		if err != nil || allele < 0 {
			return malformed("bad GT " + strconv.Quote(gt))
		}
		if allele == altIdx+1 {
			call.AltAlleles++
		} else {
			call.RefAlleles++
		}
	}
	noCall := call.RefAlleles == 0 && call.AltAlleles == 0

	dp, ok := rec.SampleField(i, "DP")
	if v, err := parseCount(dp, ok, noCall); err != nil {
		return malformed("sample missing DP")
	} else {
		call.DP = v
	}
	gq, ok := rec.SampleField(i, "GQ")
	if v, err := parseCount(gq, ok, noCall); err != nil {
		return malformed("sample missing GQ")
	} else {
		call.GQ = v
	}
	ad, ok := rec.SampleField(i, "AD")
	if !ok || ad == "" || ad == "." {
		if !noCall {
			return malformed("sample missing AD")
		}
		return call, nil
	}
	depths := strings.Split(ad, ",")
	if len(depths) <= altIdx+1 {
		if noCall {
			return call, nil
		}
		return malformed("AD has " + strconv.Itoa(len(depths)) + " values for " +
			strconv.Itoa(len(rec.Alts)) + " alternates")
	}
	refDepth, err0 := strconv.Atoi(depths[0])
	altDepth, err1 := strconv.Atoi(depths[altIdx+1])
	if err0 != nil || err1 != nil {
		if noCall {
			return call, nil
		}
		return malformed("bad AD " + strconv.Quote(ad))
	}
	call.RefDepth = int32(refDepth)
	call.AltDepth = int32(altDepth)
	return call, nil
}

func isGTSep(r rune) bool { return r == '/' || r == '|' }

// parseCount parses an integer FORMAT value.  Missing values ("." or an
// absent trailing field) are zero for no-calls and an error otherwise.
func parseCount(s string, present, noCall bool) (int32, error) {
	if !present || s == "" || s == "." {
		if noCall {
			return 0, nil
		}
		return 0, errMissingValue
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		if noCall {
			return 0, nil
		}
		return 0, errMissingValue
	}
	return int32(v), nil
}

var errMissingValue = fmt.Errorf("missing value")

// normalizeAlleles reduces (pos, ref, alt) to the canonical minimal
// representation: shared trailing bases are trimmed (extending left through
// the reference sequence so representation-equivalent indels land on the
// leftmost anchor), then shared leading bases are trimmed.  In the result
// the alleles share no leading or trailing base; for a pure indel one of
// them is empty and pos addresses the first changed base.
func (n *Normalizer) normalizeAlleles(chrom string, pos PosType, ref, alt string) (PosType, string, string) {
	for len(ref) > 0 && len(alt) > 0 && ref[len(ref)-1] == alt[len(alt)-1] {
		b := ref[len(ref)-1]
		ref, alt = ref[:len(ref)-1], alt[:len(alt)-1]
		if len(ref) == 0 || len(alt) == 0 {
			left, ok := n.leftBase(chrom, pos)
			if !ok {
				// No reference context to shift into; keep this anchoring.
				ref, alt = ref+string(b), alt+string(b)
				break
			}
			ref, alt = left+ref, left+alt
			pos--
		}
	}
	for len(ref) > 0 && len(alt) > 0 && ref[0] == alt[0] {
		ref, alt = ref[1:], alt[1:]
		pos++
	}
	return pos, ref, alt
}

// leftBase returns the reference base immediately left of the 1-based
// position pos.  The lookup tolerates "chr" spelling differences between the
// VCF and the FASTA.
func (n *Normalizer) leftBase(chrom string, pos PosType) (string, bool) {
	if n.ref == nil || pos <= 1 {
		return "", false
	}
	start, end := uint64(pos-2), uint64(pos-1)
	if b, err := n.ref.Get(chrom, start, end); err == nil {
		return strings.ToUpper(b), true
	}
	var other string
	if strings.HasPrefix(chrom, "chr") {
		other = chrom[3:]
	} else {
		other = "chr" + chrom
	}
	if b, err := n.ref.Get(other, start, end); err == nil {
		return strings.ToUpper(b), true
	}
	return "", false
}

// sortAndCollapse orders a file's normalized variants by site and collapses
// representation-equivalent duplicates, merging their call sets.  A sample
// appearing twice at a collapsed site keeps its higher-GQ call.
func sortAndCollapse(cs *CoordSystem, variants []Variant) []Variant {
	sort.SliceStable(variants, func(i, j int) bool {
		return cs.Compare(variants[i].Site, variants[j].Site) < 0
	})
	out := variants[:0]
	for _, v := range variants {
		if len(out) == 0 || cs.Compare(out[len(out)-1].Site, v.Site) != 0 {
			out = append(out, v)
			continue
		}
		last := &out[len(out)-1]
		for _, c := range v.Calls {
			if prev := findCall(last.Calls, c.Sample); prev != nil {
				if c.GQ > prev.GQ {
					*prev = c
				}
				continue
			}
			last.Calls = append(last.Calls, c)
		}
	}
	return out
}

func findCall(calls []Call, sample string) *Call {
	for i := range calls {
		if calls[i].Sample == sample {
			return &calls[i]
		}
	}
	return nil
}
