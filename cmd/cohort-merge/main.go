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
package main

/*
cohort-merge combines track files built from disjoint batches of a cohort
into a single track, summing per-site allele counts and unioning the sample
sets.  A sample appearing in more than one input batch is a fatal error.
*/

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/cohort/cohort"
)

var (
	outPath       = flag.String("out", "", "Output track path; required")
	cohortName    = flag.String("cohort-name", "", "Cohort name for the merged track; required")
	seriesName    = flag.String("series-name", "", "Series name for the merged track; required")
	assembly      = flag.String("assembly", "", "Genome assembly, GRCh37 or GRCh38 (default GRCh38)")
	sampleThresh  = flag.Int("sample-name-threshold", cohort.DefaultOpts.SampleNameThreshold, "Omit per-site sample names once the cohort exceeds this size")
	sourceVersion = flag.String("source-version", "", "Version string recorded in the track; empty means today's UTC date")
)

func cohortMergeUsage() {
	fmt.Printf("Usage: %s -out=FILE [OPTIONS] track1.tsf track2.tsf ...\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = cohortMergeUsage
	shutdown := grail.Init()
	defer shutdown()

	tracks := flag.Args()
	if len(tracks) < 2 {
		log.Fatalf("At least two track files required; please check flag syntax: '%s'", strings.Join(tracks, " "))
	}
	if *outPath == "" {
		log.Fatalf("-out is required")
	}
	if *cohortName == "" || *seriesName == "" {
		log.Fatalf("-cohort-name and -series-name are required")
	}
	ctx := vcontext.Background()

	cs, err := cohort.CoordSystemForAssembly(*assembly)
	if err != nil {
		log.Fatalf("%v", err)
	}
	opts := cohort.DefaultOpts
	opts.CohortName = *cohortName
	opts.SeriesName = *seriesName
	opts.CoordSys = cs
	opts.SampleNameThreshold = *sampleThresh
	opts.SourceVersion = *sourceVersion
	if opts.SourceVersion == "" {
		opts.SourceVersion = time.Now().UTC().Format("2006-01-02")
	}

	report, err := cohort.MergeTracks(ctx, tracks, *outPath, &opts)
	if err != nil {
		log.Fatalf("%v", err)
	}
	report.Log()
	log.Printf("wrote %s", *outPath)
}
