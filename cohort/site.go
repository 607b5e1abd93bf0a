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

import "fmt"

// PosType is the integer type used to represent genomic positions.
type PosType = int32

// Site is a normalized variant site: a 1-based genomic position plus a
// minimal ref/alt allele pair.  After normalization the alleles share no
// common leading or trailing base; for a pure insertion Ref is empty and for
// a pure deletion Alt is empty, with Pos addressing the first
// inserted/deleted base.
//
// Site equality is the merge key: records from different inputs describe the
// same genomic event iff their Sites are equal.
type Site struct {
	Chrom string
	Pos   PosType
	Ref   string
	Alt   string
}

func (s Site) String() string {
	ref, alt := s.Ref, s.Alt
	if ref == "" {
		ref = "-"
	}
	if alt == "" {
		alt = "-"
	}
	return fmt.Sprintf("%s:%d:%s/%s", s.Chrom, s.Pos, ref, alt)
}

// Genotype classifies a sample's called genotype with respect to a single
// alternate allele.
type Genotype uint8

const (
	// NoCall means the genotype is missing ("./.").
	NoCall Genotype = iota
	// HomRef means no copy of the alternate allele was called.
	HomRef
	// Het means exactly one copy of the alternate allele was called.
	Het
	// HomAlt means every called allele is the alternate.
	HomAlt
)

func (g Genotype) String() string {
	switch g {
	case HomRef:
		return "hom-ref"
	case Het:
		return "het"
	case HomAlt:
		return "hom-alt"
	}
	return "no-call"
}

// Call is one sample's genotype call at a single normalized site.  Allele
// tallies are per-haplotype: RefAlleles+AltAlleles+MissingAlleles equals the
// sample's ploidy at the site (normally 2).  Alleles referencing a different
// alternate of the original multi-allelic record are tallied as reference,
// per allelic-primitives decomposition.
type Call struct {
	Sample string

	RefAlleles     uint8
	AltAlleles     uint8
	MissingAlleles uint8

	// DP, GQ and the AD-derived depths below are the FORMAT fields the
	// sample-level filter operates on.
	DP       int32
	GQ       int32
	RefDepth int32
	AltDepth int32
}

// GT reports the classification of the call with respect to its site's
// alternate allele.
func (c *Call) GT() Genotype {
	called := c.RefAlleles + c.AltAlleles
	switch {
	case called == 0:
		return NoCall
	case c.AltAlleles == 0:
		return HomRef
	case c.RefAlleles == 0 && c.MissingAlleles == 0:
		return HomAlt
	}
	return Het
}

// Counts holds accumulated per-site allele tallies.
type Counts struct {
	Ref    int64
	Alt    int64
	NoCall int64
}

// Add folds other into c.
func (c *Counts) Add(other Counts) {
	c.Ref += other.Ref
	c.Alt += other.Alt
	c.NoCall += other.NoCall
}

// Variant is the unit flowing through the merge: one site together with
// everything observed for it so far.  Inputs contribute either per-sample
// Calls (VCF readers) or pre-aggregated Counts (an existing track being
// extended, or per-batch tracks being combined); the merge joins Variants
// with equal Sites and the additive counter folds Calls into Counts at the
// end.
type Variant struct {
	Site

	Calls []Call

	// Pre-aggregated state carried from track inputs.
	Counts      Counts
	SampleCount int32
	// Samples holds the retained provenance names for pre-aggregated input
	// (possibly truncated; never used for counting).
	Samples []string
}
