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
cohort-update folds a batch of per-sample VCFs into a cohort allele
frequency track.  Given a manifest of input files and optionally the track
from a previous run, it normalizes and filters each file's variant calls,
excludes files that would reintroduce an already-counted sample, and writes
an updated track with per-site allele counts for the grown cohort.
*/

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/cohort/cohort"
	"github.com/grailbio/cohort/encoding/fasta"
	"github.com/grailbio/cohort/encoding/vcf"
)

var (
	configPath    = flag.String("config", "", "Path to a key=value config file; flags override its settings")
	manifestPath  = flag.String("manifest", "", "Path to a file listing input VCFs, one per line; required")
	existingPath  = flag.String("existing", "", "Track file from the previous run whose counts are folded into this one")
	outPath       = flag.String("out", "", "Output track path; empty derives <cohort>_<version>_<unixtime>.tsf in the current directory")
	cohortName    = flag.String("cohort-name", "", "Cohort name; required here or in the config file")
	seriesName    = flag.String("series-name", "", "Series name grouping successive track versions; required here or in the config file")
	assembly      = flag.String("assembly", "", "Genome assembly, GRCh37 or GRCh38 (default GRCh38)")
	refPath       = flag.String("ref", "", "Reference FASTA used to left-align indels; optional")
	minQual       = flag.Int("min-qual", cohort.DefaultConfig.MinQuality, "Sites with QUAL below this are dropped")
	minDepth      = flag.Int("min-depth", cohort.DefaultConfig.MinDepth, "Calls with DP below this are dropped")
	minGQ         = flag.Int("min-gq", cohort.DefaultConfig.MinGQ, "Calls with GQ below this are dropped")
	minAltReads   = flag.Int("min-alt-reads", cohort.DefaultConfig.MinAltReads, "Alt-carrying calls with fewer supporting reads are dropped")
	infoFilter    = flag.String("info-filter", "", "Site-level filter expression over QUAL/FILTER/INFO")
	formatFilter  = flag.String("format-filter", "", "Call-level filter expression over GT/DP/GQ/AD")
	sampleThresh  = flag.Int("sample-name-threshold", cohort.DefaultConfig.SampleNameThreshold, "Omit per-site sample names once the cohort exceeds this size")
	skipExisting  = flag.Bool("skip-existing-counts", false, "Ignore -existing and build the track from the manifest alone")
	skipNoCalls   = flag.Bool("skip-no-calls", false, "Exclude missing alleles from the no-call tally")
	skipUnread    = flag.Bool("skip-unreadable-inputs", false, "Skip unreadable inputs with a warning instead of aborting")
	skipIndexChk  = flag.Bool("skip-index-check", false, "Do not require a .tbi index next to each compressed input")
	parallelism   = flag.Int("parallelism", 0, "Maximum number of inputs read simultaneously; 0 derives it from CPU count")
	sourceVersion = flag.String("source-version", "", "Version string recorded in the track; empty means today's UTC date")
)

func cohortUpdateUsage() {
	fmt.Printf("Usage: %s -manifest=FILE [OPTIONS]\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = cohortUpdateUsage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() > 0 {
		log.Fatalf("Unexpected positional arguments; please check flag syntax: '%s'", strings.Join(flag.Args(), " "))
	}
	if *manifestPath == "" {
		log.Fatalf("-manifest is required")
	}
	ctx := vcontext.Background()

	cfg := cohort.DefaultConfig
	if *configPath != "" {
		var err error
		if cfg, err = cohort.LoadConfig(ctx, *configPath); err != nil {
			log.Fatalf("reading config: %v", err)
		}
	}
	// Flags set on the command line win over the config file.
	setFlags := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	if setFlags["cohort-name"] || cfg.CohortName == "" {
		cfg.CohortName = *cohortName
	}
	if setFlags["series-name"] || cfg.SeriesName == "" {
		cfg.SeriesName = *seriesName
	}
	if setFlags["assembly"] {
		cfg.Assembly = *assembly
	}
	if setFlags["min-qual"] {
		cfg.MinQuality = *minQual
	}
	if setFlags["min-depth"] {
		cfg.MinDepth = *minDepth
	}
	if setFlags["min-gq"] {
		cfg.MinGQ = *minGQ
	}
	if setFlags["min-alt-reads"] {
		cfg.MinAltReads = *minAltReads
	}
	if setFlags["info-filter"] {
		cfg.InfoFilter = *infoFilter
	}
	if setFlags["format-filter"] {
		cfg.FormatFilter = *formatFilter
	}
	if setFlags["sample-name-threshold"] {
		cfg.SampleNameThreshold = *sampleThresh
	}
	if cfg.CohortName == "" {
		log.Fatalf("-cohort-name is required (flag or config file)")
	}
	if cfg.SeriesName == "" {
		log.Fatalf("-series-name is required (flag or config file)")
	}

	opts, err := cfg.Opts()
	if err != nil {
		log.Fatalf("%v", err)
	}
	opts.CountNoCalls = !*skipNoCalls
	opts.SkipUnreadableInputs = *skipUnread
	opts.Parallelism = *parallelism
	opts.SourceVersion = *sourceVersion
	if opts.SourceVersion == "" {
		opts.SourceVersion = time.Now().UTC().Format("2006-01-02")
	}

	if *refPath != "" {
		in, err := os.Open(*refPath)
		if err != nil {
			log.Fatalf("opening reference: %v", err)
		}
		ref, err := fasta.New(in)
		if err != nil {
			log.Fatalf("reading reference: %v", err)
		}
		if err := in.Close(); err != nil {
			log.Fatalf("closing reference: %v", err)
		}
		opts.Reference = ref
	}

	manifest, err := cohort.ReadManifest(ctx, *manifestPath)
	if err != nil {
		log.Fatalf("reading manifest: %v", err)
	}
	if !*skipIndexChk {
		if missing := vcf.MissingIndexes(ctx, manifest); len(missing) > 0 {
			log.Fatalf("missing .tbi index for %d input(s):\n%s",
				len(missing), strings.Join(missing, "\n"))
		}
	}

	out := cfg.OutFile
	if setFlags["out"] || out == "" {
		out = *outPath
	}
	if out == "" {
		out = fmt.Sprintf("%s_%s_%d.tsf",
			sanitizeName(cfg.CohortName), opts.SourceVersion, time.Now().Unix())
	}
	base := strings.TrimSuffix(out, filepath.Ext(out))
	opts.SkipLogPath = base + "_skipped_duplicates.txt"

	existing := *existingPath
	if *skipExisting {
		existing = ""
	}
	report, err := cohort.Aggregate(ctx, manifest, existing, out, opts)
	if err != nil {
		log.Fatalf("%v", err)
	}
	report.Log()
	log.Printf("wrote %s", out)
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
