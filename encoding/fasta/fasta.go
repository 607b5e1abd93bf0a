// Package fasta provides read access to FASTA-formatted reference sequence.
// The cohort pipeline uses it to look up the bases immediately left of an
// indel when left-aligning variant representations; only in-memory access is
// provided.
//
// FASTA files consist of a number of named sequences that may be interrupted
// by newlines.  Sequence names are the stretch of characters, excluding
// spaces, immediately after '>'; any text after a space is ignored.
package fasta

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Fasta provides read access to a set of named sequences.
type Fasta interface {
	// Get returns a substring of the given sequence at the given
	// coordinates, which are treated as a 0-based half-open interval
	// [start, end).  Get is thread-safe.
	Get(seqName string, start, end uint64) (string, error)

	// Len returns the length of the given sequence.
	Len(seqName string) (uint64, error)

	// SeqNames returns the names of all sequences, in order of appearance.
	SeqNames() []string
}

type fasta struct {
	seqs     map[string]string
	seqNames []string
}

// New reads all FASTA data from r into memory.
func New(r io.Reader) (Fasta, error) {
	f := &fasta{seqs: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, 512<<20)
	var seqName string
	var seq strings.Builder
	flush := func() error {
		if seq.Len() == 0 {
			return nil
		}
		if seqName == "" {
			return errors.New("fasta: sequence data before first header")
		}
		f.seqs[seqName] = seq.String()
		f.seqNames = append(f.seqNames, seqName)
		seq.Reset()
		return nil
	}
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			if err := flush(); err != nil {
				return nil, err
			}
			seqName = strings.SplitN(line[1:], " ", 2)[0]
			if seqName == "" {
				return nil, errors.New("fasta: empty sequence name")
			}
			continue
		}
		seq.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "fasta: read")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *fasta) Get(seqName string, start, end uint64) (string, error) {
	seq, ok := f.seqs[seqName]
	if !ok {
		return "", errors.Errorf("fasta: no sequence %q", seqName)
	}
	if start > end || end > uint64(len(seq)) {
		return "", errors.Errorf("fasta: invalid interval [%d, %d) for %q (len %d)",
			start, end, seqName, len(seq))
	}
	return seq[start:end], nil
}

func (f *fasta) Len(seqName string) (uint64, error) {
	seq, ok := f.seqs[seqName]
	if !ok {
		return 0, errors.Errorf("fasta: no sequence %q", seqName)
	}
	return uint64(len(seq)), nil
}

func (f *fasta) SeqNames() []string { return f.seqNames }
