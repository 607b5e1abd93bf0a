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

// Worker-pool sizing for the per-file read/normalize stage.  These are
// tuning knobs only; any bounded pool produces identical output.

// ReaderPoolSize returns the number of concurrent per-file readers to run:
// two cores are left for the merge and the writer, and there is no point
// running more readers than files.
func ReaderPoolSize(cpuCount, fileCount int) int {
	n := cpuCount - 2
	if n > fileCount {
		n = fileCount
	}
	if n < 1 {
		n = 1
	}
	return n
}

// ReaderThreads returns the ratio of reader threads to merge consumers used
// by the reference pipeline's sizing calculation.
func ReaderThreads(cpuCount, fileCount int) int {
	flatten := ReaderPoolSize(cpuCount, fileCount)
	n := (cpuCount - flatten) / flatten
	if n < 1 {
		n = 1
	}
	return n
}

// ReadersPerFlattener returns how many input files each merge consumer
// fans in under the reference pipeline's sizing calculation.
func ReadersPerFlattener(cpuCount, fileCount int) int {
	flatten := ReaderPoolSize(cpuCount, fileCount)
	return (fileCount + flatten - 1) / flatten
}
