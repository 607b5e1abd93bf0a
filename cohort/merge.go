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
	"strings"

	"github.com/biogo/store/llrb"
	"v.io/x/lib/vlog"
)

// DuplicateSampleError signals that two inputs in the same run contributed
// the same sample at the same site.  Counts folded past this point would
// double-count the sample, so the condition is fatal; it is a data-integrity
// violation, not a recoverable one.
type DuplicateSampleError struct {
	Site    Site
	Samples []string
}

func (e *DuplicateSampleError) Error() string {
	if e.Site.Chrom == "" {
		return fmt.Sprintf("sample(s) %s appear in more than one input in the same run",
			strings.Join(e.Samples, ","))
	}
	return fmt.Sprintf("duplicate sample(s) %s at %s across inputs in the same run",
		strings.Join(e.Samples, ","), e.Site)
}

// Stream yields Variants in ascending site order.
type Stream interface {
	// Scan advances to the next variant, returning false at end of stream or
	// on error.
	Scan() bool
	// Variant returns the current variant.  Only valid after a true Scan.
	Variant() *Variant
	// Err returns the first error encountered, if any.
	Err() error
}

// sliceStream adapts an in-memory sorted slice.
type sliceStream struct {
	variants []Variant
	pos      int
}

func newSliceStream(variants []Variant) *sliceStream {
	return &sliceStream{variants: variants}
}

func (s *sliceStream) Scan() bool {
	if s.pos >= len(s.variants) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceStream) Variant() *Variant { return &s.variants[s.pos-1] }
func (s *sliceStream) Err() error        { return nil }

// mergeLeaf is one input stream inside the merge tree.
type mergeLeaf struct {
	cs     *CoordSystem
	seq    int // distinguishes leaves with equal keys; also the tiebreak
	stream Stream
}

func newMergeLeaf(cs *CoordSystem, seq int, stream Stream) *mergeLeaf {
	leaf := &mergeLeaf{cs: cs, seq: seq, stream: stream}
	if !leaf.stream.Scan() {
		return nil
	}
	return leaf
}

func (l *mergeLeaf) Compare(c1 llrb.Comparable) int {
	l1 := c1.(*mergeLeaf)
	if c := l.cs.Compare(l.stream.Variant().Site, l1.stream.Variant().Site); c != 0 {
		return c
	}
	return l.seq - l1.seq
}

// Merge fans the given sorted streams into a single ascending-site sequence,
// joining variants with equal sites ("only merge matching ref/alts": sites
// at the same position with different allele pairs stay separate), and calls
// emit once per joined site.  The fan-in is a binary tree rather than a
// heap: the stream at the top of the tree tends to stay at the top for many
// records, keeping the common case amortized O(1).
//
// Joining verifies that no sample appears twice at a site; a violation
// returns a *DuplicateSampleError.
func Merge(cs *CoordSystem, streams []Stream, emit func(*Variant) error) error {
	leafs := llrb.Tree{}
	for i, s := range streams {
		if leaf := newMergeLeaf(cs, i, s); leaf != nil {
			leafs.Insert(leaf)
		}
	}
	vlog.VI(1).Infof("merging %d streams, %d non-empty", len(streams), leafs.Len())

	var cur *Variant
	var curSamples map[string]bool
	flush := func() error {
		if cur == nil {
			return nil
		}
		v := cur
		cur, curSamples = nil, nil
		return emit(v)
	}
	join := func(v *Variant) error {
		if cur != nil && cs.Compare(cur.Site, v.Site) == 0 {
			var dups []string
			for _, c := range v.Calls {
				if curSamples[c.Sample] {
					dups = append(dups, c.Sample)
				}
				curSamples[c.Sample] = true
			}
			if len(dups) > 0 {
				return &DuplicateSampleError{Site: cur.Site, Samples: dups}
			}
			cur.Calls = append(cur.Calls, v.Calls...)
			cur.Counts.Add(v.Counts)
			cur.SampleCount += v.SampleCount
			cur.Samples = append(cur.Samples, v.Samples...)
			return nil
		}
		if err := flush(); err != nil {
			return err
		}
		joined := *v
		joined.Calls = append([]Call(nil), v.Calls...)
		joined.Samples = append([]string(nil), v.Samples...)
		cur = &joined
		curSamples = make(map[string]bool, len(v.Calls))
		for _, c := range v.Calls {
			if curSamples[c.Sample] {
				return &DuplicateSampleError{Site: cur.Site, Samples: []string{c.Sample}}
			}
			curSamples[c.Sample] = true
		}
		return nil
	}

	for leafs.Len() > 0 {
		// top is the smallest leaf; next the second-smallest, or nil when top
		// is alone.  Records are drained from top until it outgrows next.
		nth := 0
		var top, next *mergeLeaf
		leafs.Do(func(item llrb.Comparable) bool {
			nth++
			switch nth {
			case 1:
				top = item.(*mergeLeaf)
				return false
			case 2:
				next = item.(*mergeLeaf)
				return true
			default:
				vlog.Fatal(nth)
				return false
			}
		})
		topDone := false
		for {
			if err := join(top.stream.Variant()); err != nil {
				return err
			}
			topDone = !top.stream.Scan()
			if topDone || (next != nil &&
				next.Compare(top) < 0) {
				break
			}
		}
		leafs.DeleteMin()
		if !topDone {
			leafs.Insert(top)
		} else if err := top.stream.Err(); err != nil {
			return err
		}
	}
	for _, s := range streams {
		if err := s.Err(); err != nil {
			return err
		}
	}
	return flush()
}
