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
	"github.com/grailbio/base/log"
)

// Report summarizes one aggregation run.  Recoverable per-record problems
// are counted here instead of halting the run; fatal conditions never reach
// a Report.
type Report struct {
	// FilesTotal is the number of manifest entries.
	FilesTotal int
	// FilesSkippedDuplicates counts inputs excluded because a sample they
	// carry is already present in the accumulated counts.
	FilesSkippedDuplicates int
	// FilesSkippedUnreadable counts inputs dropped under the
	// skip-unreadable-inputs policy.
	FilesSkippedUnreadable int64

	// RecordsRead counts raw records across all processed inputs.
	RecordsRead int64
	// RecordsSkipped counts malformed records that were skipped.
	RecordsSkipped int64
	// SitesFiltered counts sites dropped by the site-level predicate.
	SitesFiltered int64

	// SitesMerged counts distinct sites emerging from the merge.
	SitesMerged int64
	// SitesWritten counts sites in the output track.
	SitesWritten int64
	// SitesDroppedZeroFreq counts sites pruned by the zero-frequency
	// filter.
	SitesDroppedZeroFreq int64

	// SamplesAdded is the number of new samples folded into the track.
	SamplesAdded int
}

// Log prints the run summary.
func (r *Report) Log() {
	log.Printf("aggregation run: %d files (%d skipped duplicate, %d skipped unreadable), %d samples added",
		r.FilesTotal, r.FilesSkippedDuplicates, r.FilesSkippedUnreadable, r.SamplesAdded)
	log.Printf("records: %d read, %d malformed skipped, %d sites filtered",
		r.RecordsRead, r.RecordsSkipped, r.SitesFiltered)
	log.Printf("sites: %d merged, %d written, %d zero-frequency dropped",
		r.SitesMerged, r.SitesWritten, r.SitesDroppedZeroFreq)
}
