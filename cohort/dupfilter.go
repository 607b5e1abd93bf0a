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
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
)

// SkipLog records the inputs excluded from a run, one line per file with the
// colliding sample identifiers.  The file is created lazily on the first
// append, so a clean run leaves nothing behind.
type SkipLog struct {
	path string

	mu sync.Mutex
	f  file.File
	w  strings.Builder
}

// NewSkipLog returns a log that writes to path.  An empty path discards
// appends (the log is still counted by the caller's report).
func NewSkipLog(path string) *SkipLog {
	return &SkipLog{path: path}
}

// Append records one excluded input with its colliding samples.
func (l *SkipLog) Append(ctx context.Context, inputPath string, samples []string) error {
	log.Printf("skipping %s: sample(s) %s already present in existing counts",
		inputPath, strings.Join(samples, ","))
	if l.path == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		f, err := file.Create(ctx, l.path)
		if err != nil {
			return err
		}
		l.f = f
	}
	l.w.WriteString(inputPath)
	l.w.WriteByte('\t')
	l.w.WriteString(strings.Join(samples, ","))
	l.w.WriteByte('\n')
	return nil
}

// Close flushes and closes the log.  Closing a log that saw no appends is a
// no-op: no file is created.
func (l *SkipLog) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	if _, err := l.f.Writer(ctx).Write([]byte(l.w.String())); err != nil {
		_ = l.f.Close(ctx)
		return err
	}
	return l.f.Close(ctx)
}

// duplicateSamples returns the members of samples already present in seen,
// sorted for stable log output.
func duplicateSamples(samples []string, seen map[string]bool) []string {
	var dups []string
	for _, s := range samples {
		if seen[s] {
			dups = append(dups, s)
		}
	}
	sort.Strings(dups)
	return dups
}
