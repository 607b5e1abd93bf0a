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
	"bufio"
	"context"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
)

// Config holds the run settings read from a key=value config file.  Lines
// starting with '#' and blank lines are ignored; values may be quoted.
type Config struct {
	// CohortName and SeriesName name the output track.  Both required.
	CohortName string
	SeriesName string
	// Assembly selects the coordinate system ("GRCh37" or "GRCh38").
	Assembly string
	// OutFile overrides the derived output path when set.
	OutFile string
	// SampleNameThreshold caps per-site retained sample names.
	SampleNameThreshold int

	MinQuality  int
	MinDepth    int
	MinGQ       int
	MinAltReads int
	// InfoFilter and FormatFilter are free-form filter expressions applied
	// at the site and call level respectively.
	InfoFilter   string
	FormatFilter string
}

// DefaultConfig holds the settings a config file need not mention.
var DefaultConfig = Config{
	SampleNameThreshold: 20,
}

// LoadConfig reads a key=value config file.  Unknown keys are rejected so a
// typo cannot silently run with a default.
func LoadConfig(ctx context.Context, path string) (Config, error) {
	cfg := DefaultConfig
	in, err := file.Open(ctx, path)
	if err != nil {
		return cfg, err
	}
	defer in.Close(ctx) // nolint: errcheck

	scanner := bufio.NewScanner(in.Reader(ctx))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			return cfg, errors.E(path, "line", lineNum, "is not key=value:", line)
		}
		key := strings.TrimSpace(line[:eq])
		value := unquote(strings.TrimSpace(line[eq+1:]))
		if err := cfg.set(key, value); err != nil {
			return cfg, errors.E(err, path, "line", lineNum)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, err
	}
	if cfg.CohortName == "" {
		return cfg, errors.E(path, "cohort_name must be set")
	}
	if cfg.SeriesName == "" {
		return cfg, errors.E(path, "series_name must be set")
	}
	return cfg, nil
}

func (c *Config) set(key, value string) error {
	switch key {
	case "cohort_name":
		c.CohortName = value
	case "series_name":
		c.SeriesName = value
	case "assembly":
		c.Assembly = value
	case "out_file":
		c.OutFile = value
	case "sample_name_threshold":
		return setInt(&c.SampleNameThreshold, key, value)
	case "min_quality":
		return setInt(&c.MinQuality, key, value)
	case "min_depth":
		return setInt(&c.MinDepth, key, value)
	case "min_gq":
		return setInt(&c.MinGQ, key, value)
	case "min_alt_reads":
		return setInt(&c.MinAltReads, key, value)
	case "info_filter":
		c.InfoFilter = value
	case "format_filter":
		c.FormatFilter = value
	default:
		return errors.New("unknown config key " + key)
	}
	return nil
}

func setInt(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return errors.E(key, "must be an integer, got", value)
	}
	*dst = n
	return nil
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// Opts translates the config into pipeline options.
func (c *Config) Opts() (*Opts, error) {
	cs, err := CoordSystemForAssembly(c.Assembly)
	if err != nil {
		return nil, err
	}
	opts := DefaultOpts
	opts.CohortName = c.CohortName
	opts.SeriesName = c.SeriesName
	opts.CoordSys = cs
	opts.SampleNameThreshold = c.SampleNameThreshold
	opts.Filters = FilterParams{
		MinQual:     c.MinQuality,
		MinDepth:    c.MinDepth,
		MinGQ:       c.MinGQ,
		MinAltReads: c.MinAltReads,
		InfoExpr:    c.InfoFilter,
		FormatExpr:  c.FormatFilter,
	}
	return &opts, nil
}

// ReadManifest reads a newline-separated list of input paths.  Blank lines
// and '#' comments are ignored.
func ReadManifest(ctx context.Context, path string) ([]string, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck

	var paths []string
	scanner := bufio.NewScanner(in.Reader(ctx))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.E(path, "manifest lists no inputs")
	}
	return paths, nil
}
