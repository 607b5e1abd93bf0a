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
	"strings"

	"github.com/grailbio/base/errors"
)

// CoordSystem defines the total order of contigs used when comparing genomic
// positions.  The engine does not own any reference data; a CoordSystem is
// just a named contig ranking, normally taken from the assembly the input
// VCFs were called against.
//
// Contigs absent from the ranking sort after all ranked contigs, ordered
// lexically among themselves, so that inputs containing unplaced scaffolds
// still merge deterministically.
type CoordSystem struct {
	// ID is the tag recorded in track metadata, e.g.
	// "GRCh_38,Chromosome,Homo sapiens".
	ID string

	rank map[string]int
}

var humanContigs = []string{
	"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12",
	"13", "14", "15", "16", "17", "18", "19", "20", "21", "22",
	"X", "Y", "MT",
}

// NewCoordSystem builds a CoordSystem from an ordered contig list.  Each
// contig is registered under both its bare name and its "chr"-prefixed
// spelling ("M" is additionally accepted for "MT"), since both conventions
// appear in the wild.
func NewCoordSystem(id string, contigs []string) *CoordSystem {
	cs := &CoordSystem{ID: id, rank: make(map[string]int, 2*len(contigs))}
	for i, c := range contigs {
		name := strings.TrimPrefix(c, "chr")
		cs.rank[name] = i
		cs.rank["chr"+name] = i
		if name == "MT" {
			cs.rank["M"] = i
			cs.rank["chrM"] = i
		}
	}
	return cs
}

// GRCh37 is the human GRCh37 (1000 Genomes flavor) coordinate system.
var GRCh37 = NewCoordSystem("GRCh_37_g1k,Chromosome,Homo sapiens", humanContigs)

// GRCh38 is the human GRCh38 coordinate system.
var GRCh38 = NewCoordSystem("GRCh_38,Chromosome,Homo sapiens", humanContigs)

// CoordSystemForAssembly maps a workspace assembly tag (e.g. "GRCh_37_g1k",
// "GRCh_38") to its coordinate system.  Tags starting with "GRCh_37" select
// GRCh37; all other "GRCh_38"-prefixed tags select GRCh38.
func CoordSystemForAssembly(assembly string) (*CoordSystem, error) {
	switch {
	case assembly == "":
		return GRCh38, nil
	case strings.HasPrefix(assembly, "GRCh_37"), strings.HasPrefix(assembly, "GRCh37"):
		return GRCh37, nil
	case strings.HasPrefix(assembly, "GRCh_38"), strings.HasPrefix(assembly, "GRCh38"):
		return GRCh38, nil
	}
	return nil, errors.E("unknown assembly:", assembly)
}

// ContigRank returns the rank of the given contig, and whether the contig is
// part of the coordinate system.
func (cs *CoordSystem) ContigRank(contig string) (int, bool) {
	r, ok := cs.rank[contig]
	return r, ok
}

// CompareContigs orders two contig names: ranked contigs first, by rank, then
// unranked contigs lexically.
func (cs *CoordSystem) CompareContigs(a, b string) int {
	ra, aok := cs.rank[a]
	rb, bok := cs.rank[b]
	switch {
	case aok && bok:
		return ra - rb
	case aok:
		return -1
	case bok:
		return 1
	}
	return strings.Compare(a, b)
}

// Compare orders two sites by (contig, position, ref, alt).  Two sites are
// the same genomic event iff Compare returns 0.
func (cs *CoordSystem) Compare(a, b Site) int {
	if c := cs.CompareContigs(a.Chrom, b.Chrom); c != 0 {
		return c
	}
	if a.Pos != b.Pos {
		if a.Pos < b.Pos {
			return -1
		}
		return 1
	}
	if c := strings.Compare(a.Ref, b.Ref); c != 0 {
		return c
	}
	return strings.Compare(a.Alt, b.Alt)
}
